// Package bot is the Telegram transport: it presents practice items and
// records self-graded answers as live attempts.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/internal/logger"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// sender is the part of the Telegram API the bot uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// shownItem is the item last presented in a chat
type shownItem struct {
	ItemID    int64
	AttemptID int64
	Category  string
	ShownAt   time.Time
}

// Bot represents the Telegram bot application
type Bot struct {
	api      sender
	botAPI   *tgbotapi.BotAPI
	token    string
	registry *engine.Registry
	config   *BotConfig
	log      *logger.Logger
	clock    func() time.Time
	client   *http.Client

	mu             sync.Mutex
	shown          map[int64]shownItem
	recent         map[int64][]int64
	awaitingUpload map[int64]bool
	adminUserIDs   map[int64]bool
}

// New creates a new bot instance
func New(token string, registry *engine.Registry, config *BotConfig, log *logger.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	b := newBot(nil, registry, config, log)
	b.token = token
	return b, nil
}

func newBot(api sender, registry *engine.Registry, config *BotConfig, log *logger.Logger) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	admins := make(map[int64]bool, len(config.AdminUserIDs))
	for _, id := range config.AdminUserIDs {
		admins[id] = true
	}
	return &Bot{
		api:            api,
		registry:       registry,
		config:         config,
		log:            log.With("component", "bot"),
		clock:          time.Now,
		client:         &http.Client{Timeout: time.Minute},
		shown:          make(map[int64]shownItem),
		recent:         make(map[int64][]int64),
		awaitingUpload: make(map[int64]bool),
		adminUserIDs:   admins,
	}
}

// Start connects to Telegram and handles updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	botAPI, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return fmt.Errorf("unable to create bot: %w", err)
	}
	b.botAPI = botAPI
	b.api = botAPI
	b.log.Info("Authorized on account", "username", botAPI.Self.UserName)

	// Set up the update configuration
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// Stop stops receiving updates
func (b *Bot) Stop() {
	if b.botAPI != nil {
		b.botAPI.StopReceivingUpdates()
	}
	b.log.Info("Bot stopped")
}

// deviceID maps a chat to its engine device id
func deviceID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// SendReminders implements the scheduler.Notifier interface
func (b *Bot) SendReminders(deviceID string, count int) error {
	chatID, err := strconv.ParseInt(deviceID, 10, 64)
	if err != nil {
		// engines not created through Telegram have no chat
		return nil
	}
	if b.api == nil {
		return fmt.Errorf("bot is not started")
	}

	noun := "reviews"
	if count == 1 {
		noun = "review"
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("You have %d %s due! Tap Next to practice.", count, noun))
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{{Text: "▶️ Next", CallbackData: nextCallback("")}}})
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	b.log.Debug("Sent reminder", "chat_id", chatID, "count", count)
	return nil
}

// isAdmin checks if a user is an admin. Without configured admins everyone is.
func (b *Bot) isAdmin(userID int64) bool {
	return len(b.adminUserIDs) == 0 || b.adminUserIDs[userID]
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("Failed to send message", "error", err)
	}
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
			return
		}
		b.mu.Lock()
		awaiting := b.awaitingUpload[msg.Chat.ID]
		b.mu.Unlock()
		if awaiting && msg.Document != nil {
			b.handleDocument(ctx, msg)
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, "I don't understand. Use /menu to show the main menu.")
		reply.ReplyMarkup = createKeyboard(mainMenuButtons())
		b.send(reply)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

// mainMenuButtons returns the buttons for the main menu
func mainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{
			{Text: "▶️ Next", CallbackData: nextCallback("")},
			{Text: "📊 Statistics", CallbackData: "show_stats"},
		},
	}
}
