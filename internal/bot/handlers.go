package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/internal/excel"
	"github.com/example/masterybot/internal/ledger"
	"github.com/example/masterybot/pkg/models"
)

const (
	answerPrefix = "ans:"
	revealPrefix = "reveal:"
	nextPrefix   = "next:"
)

func answerCallback(itemID, attemptID int64, correct bool) string {
	flag := "0"
	if correct {
		flag = "1"
	}
	return fmt.Sprintf("%s%d:%d:%s", answerPrefix, itemID, attemptID, flag)
}

func nextCallback(category string) string {
	return nextPrefix + category
}

// answer is a decoded "ans:<item>:<attempt>:<0|1>" callback
type answer struct {
	ItemID    int64
	AttemptID int64
	Correct   bool
}

func parseAnswer(data string) (answer, error) {
	parts := strings.Split(strings.TrimPrefix(data, answerPrefix), ":")
	if len(parts) != 3 {
		return answer{}, fmt.Errorf("malformed answer %q", data)
	}
	itemID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return answer{}, fmt.Errorf("malformed item id in %q", data)
	}
	attemptID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return answer{}, fmt.Errorf("malformed attempt id in %q", data)
	}
	return answer{ItemID: itemID, AttemptID: attemptID, Correct: parts[2] == "1"}, nil
}

func senderID(message *tgbotapi.Message) int64 {
	if message.From == nil {
		return 0
	}
	return message.From.ID
}

// handleCommand dispatches bot commands
func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start", "help":
		b.handleStart(chatID)
	case "menu":
		b.showMainMenu(chatID)
	case "next":
		b.handleNext(ctx, chatID, strings.TrimSpace(message.CommandArguments()))
	case "stats":
		b.handleStats(ctx, chatID)
	case "reconcile":
		if !b.isAdmin(senderID(message)) {
			b.send(tgbotapi.NewMessage(chatID, "This command is only available for administrators."))
			return
		}
		b.handleReconcile(ctx, chatID, strings.TrimSpace(message.CommandArguments()) == "apply")
	case "import":
		if !b.isAdmin(senderID(message)) {
			b.send(tgbotapi.NewMessage(chatID, "This command is only available for administrators."))
			return
		}
		b.mu.Lock()
		b.awaitingUpload[chatID] = true
		b.mu.Unlock()
		b.send(tgbotapi.NewMessage(chatID, "Send a session summary as .xlsx or .csv with the columns: date, formula, category, attempts, correct, source."))
	default:
		reply := tgbotapi.NewMessage(chatID, "Unknown command. Use /menu to show the main menu.")
		reply.ReplyMarkup = createKeyboard(mainMenuButtons())
		b.send(reply)
	}
}

func (b *Bot) handleStart(chatID int64) {
	text := `Welcome! 🎓

Available commands:
/next [category] - practice the next item
/stats - monthly progress and mastery per category
/menu - show the main menu
/import - import a session summary spreadsheet
/reconcile [apply] - check statistics against the attempt log`
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard(mainMenuButtons())
	b.send(msg)
}

// showMainMenu shows the main menu
func (b *Bot) showMainMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Main Menu - choose an option:")
	msg.ReplyMarkup = createKeyboard(mainMenuButtons())
	b.send(msg)
}

func (b *Bot) engine(ctx context.Context, chatID int64) (*engine.Engine, bool) {
	e, err := b.registry.Get(ctx, deviceID(chatID))
	if err != nil {
		b.log.Error("Failed to load engine", "chat_id", chatID, "error", err)
		b.send(tgbotapi.NewMessage(chatID, "Sorry, your progress could not be loaded. Please try again later."))
		return nil, false
	}
	return e, true
}

// handleNext presents the next item with self-grading buttons
func (b *Bot) handleNext(ctx context.Context, chatID int64, category string) {
	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}

	b.mu.Lock()
	exclude := append([]int64(nil), b.recent[chatID]...)
	b.mu.Unlock()

	item, served := e.NextItem(ctx, category, exclude)

	b.mu.Lock()
	b.shown[chatID] = shownItem{ItemID: item.ID, AttemptID: served.AttemptID, Category: category, ShownAt: b.clock()}
	recent := append(b.recent[chatID], item.ID)
	if n := b.config.RecentExclusion; n >= 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	b.recent[chatID] = recent
	b.mu.Unlock()

	msg := tgbotapi.NewMessage(chatID, formatItem(item, served))
	msg.ReplyMarkup = createKeyboard([][]MenuButton{
		{{Text: "👀 Show answer", CallbackData: fmt.Sprintf("%s%d", revealPrefix, item.ID)}},
		{
			{Text: "✅ Got it", CallbackData: answerCallback(item.ID, served.AttemptID, true)},
			{Text: "❌ Missed", CallbackData: answerCallback(item.ID, served.AttemptID, false)},
		},
	})
	b.send(msg)
}

func formatItem(item models.Item, served engine.Served) string {
	var sb strings.Builder
	switch {
	case served.FromReview:
		sb.WriteString("🔁 Review")
	default:
		sb.WriteString("📝 Practice")
	}
	fmt.Fprintf(&sb, " · %s · %s\n\n%s", item.Category, item.DifficultyTier, item.Text)
	return sb.String()
}

// handleCallback handles button presses
func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	data := callback.Data

	switch {
	case data == "main_menu":
		b.showMainMenu(chatID)
	case data == "show_stats":
		b.handleStats(ctx, chatID)
	case strings.HasPrefix(data, nextPrefix):
		b.handleNext(ctx, chatID, strings.TrimPrefix(data, nextPrefix))
	case strings.HasPrefix(data, revealPrefix):
		b.handleReveal(ctx, chatID, strings.TrimPrefix(data, revealPrefix))
	case strings.HasPrefix(data, answerPrefix):
		a, err := parseAnswer(data)
		if err != nil {
			b.log.Warn("Bad answer callback", "data", data, "error", err)
			return
		}
		b.handleAnswer(ctx, chatID, callback.ID, a)
	}
}

func (b *Bot) handleReveal(ctx context.Context, chatID int64, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return
	}
	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}
	item, ok := e.Item(id)
	if !ok {
		return
	}
	text := "Answer: " + item.Answer
	if item.Explanation != "" {
		text += "\n" + item.Explanation
	}
	b.send(tgbotapi.NewMessage(chatID, text))
}

// handleAnswer records a live attempt with the latency since the item was shown
func (b *Bot) handleAnswer(ctx context.Context, chatID int64, callbackID string, a answer) {
	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}

	now := b.clock()
	var latency int64
	category := ""
	b.mu.Lock()
	if s, ok := b.shown[chatID]; ok && s.AttemptID == a.AttemptID {
		latency = now.Sub(s.ShownAt).Milliseconds()
		category = s.Category
		delete(b.shown, chatID)
	}
	b.mu.Unlock()

	outcome, err := e.RecordAttempt(ctx, models.AttemptLogEntry{
		Timestamp: now.UnixMilli(),
		ItemID:    models.ItemID(a.ItemID),
		AttemptID: a.AttemptID,
		Correct:   a.Correct,
		LatencyMs: latency,
		Source:    models.SourceLive,
	})

	var text string
	switch {
	case err != nil:
		b.log.Warn("Failed to record attempt", "chat_id", chatID, "item_id", a.ItemID, "attempt_id", a.AttemptID, "error", err)
		text = "That item is no longer available."
	case outcome == ledger.OutcomeSkipped:
		text = "Already recorded."
	case a.Correct:
		text = "✅ Nice!"
	default:
		text = "❌ It will come back soon."
	}

	if callbackID != "" {
		if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
			b.log.Debug("Failed to answer callback", "error", err)
		}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{
		{Text: "▶️ Next", CallbackData: nextCallback(category)},
		{Text: "📊 Statistics", CallbackData: "show_stats"},
	}})
	b.send(msg)
}

// handleStats shows the monthly summary and per-category mastery
func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}
	b.send(tgbotapi.NewMessage(chatID, formatStats(e.Monthly(), e.CategoryStats())))
}

func formatStats(monthly []models.MonthlySummary, categories map[string]models.CategoryStat) string {
	var sb strings.Builder
	sb.WriteString("📊 Last 12 months\n")
	active := 0
	for _, m := range monthly {
		if m.Attempts == 0 {
			continue
		}
		active++
		fmt.Fprintf(&sb, "%s: %d attempts, %.0f%% correct\n", m.MonthKey, m.Attempts, m.Accuracy*100)
	}
	if active == 0 {
		sb.WriteString("No attempts yet.\n")
	}

	if len(categories) > 0 {
		sb.WriteString("\n🎯 Mastery\n")
		names := make([]string, 0, len(categories))
		for name := range categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := categories[name]
			fmt.Fprintf(&sb, "%s: %.0f%% (%d/%d)\n", name, st.EWMA*100, st.Correct, st.Attempts)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleReconcile(ctx context.Context, chatID int64, apply bool) {
	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}
	b.send(tgbotapi.NewMessage(chatID, formatDrift(e.Reconcile(apply || b.config.ApplyDrift))))
}

func formatDrift(r engine.DriftReport) string {
	if !r.Drifted() {
		return "Statistics match the attempt log."
	}
	var sb strings.Builder
	sb.WriteString("Statistics differ from the attempt log:\n")
	for _, d := range r.Formulas {
		fmt.Fprintf(&sb, "%s: live %d/%d, log %d/%d\n", d.Key, d.LiveCorrect, d.LiveAttempts, d.LedgerCorrect, d.LedgerAttempts)
	}
	if r.Applied {
		sb.WriteString("Rebuilt from the log.")
	} else {
		sb.WriteString("Use /reconcile apply to rebuild.")
	}
	return sb.String()
}

// handleDocument imports an uploaded session summary
func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.mu.Lock()
	delete(b.awaitingUpload, chatID)
	b.mu.Unlock()

	e, ok := b.engine(ctx, chatID)
	if !ok {
		return
	}
	path, err := b.download(ctx, message.Document)
	if err != nil {
		b.log.Warn("Failed to download summary", "chat_id", chatID, "error", err)
		b.send(tgbotapi.NewMessage(chatID, "Could not download the file."))
		return
	}
	defer os.RemoveAll(filepath.Dir(path))

	cfg := excel.DefaultImportConfig()
	cfg.FilePath = path
	cfg.SheetName = ""
	result, err := excel.ImportSummaries(ctx, cfg, e)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Import failed: %v", err)))
		return
	}
	b.log.Info("Imported session summary", "chat_id", chatID, "batch_id", result.BatchID, "appended", result.Appended, "skipped", result.Skipped)
	b.send(tgbotapi.NewMessage(chatID, formatImport(result)))
}

func formatImport(r *excel.ImportResult) string {
	text := fmt.Sprintf("Imported %d rows: %d new, %d merged, %d already known.", r.TotalProcessed, r.Appended, r.Replaced, r.Skipped)
	if len(r.Errors) > 0 {
		shown := r.Errors
		if len(shown) > 5 {
			shown = shown[:5]
		}
		text += fmt.Sprintf("\n%d rows had errors:\n%s", len(r.Errors), strings.Join(shown, "\n"))
	}
	return text
}

func (b *Bot) download(ctx context.Context, doc *tgbotapi.Document) (string, error) {
	url, err := b.api.GetFileDirectURL(doc.FileID)
	if err != nil {
		return "", fmt.Errorf("failed to get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dir, err := os.MkdirTemp("", "masterybot-import-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(doc.FileName))
	if ext != ".csv" {
		ext = ".xlsx"
	}
	path := filepath.Join(dir, "summary"+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return path, nil
}
