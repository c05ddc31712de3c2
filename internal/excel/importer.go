// Package excel imports session-summary spreadsheets into the attempt ledger.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/example/masterybot/internal/ledger"
	"github.com/example/masterybot/pkg/models"
)

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath       string // Path to the Excel or CSV file
	DateColumn     string // Column with the session day
	FormulaColumn  string // Column with the formula id
	CategoryColumn string // Column with the category
	AttemptsColumn string // Column with the number of attempts
	CorrectColumn  string // Column with the number of correct attempts
	SourceColumn   string // Column with the attempt source, optional
	SheetName      string // Name of the sheet to import
	StartRow       int    // The row to start importing from (1-based index)
	Location       *time.Location
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		DateColumn:     "A",
		FormulaColumn:  "B",
		CategoryColumn: "C",
		AttemptsColumn: "D",
		CorrectColumn:  "E",
		SourceColumn:   "F",
		SheetName:      "Sheet1",
		StartRow:       2, // By default, start from the second row (skip header)
		Location:       time.UTC,
	}
}

// SessionSummary is one spreadsheet row: aggregated attempts of a formula on a day
type SessionSummary struct {
	Day       time.Time
	FormulaID string
	Category  string
	Attempts  int
	Correct   int
	Source    models.Source
}

// Recorder receives the expanded attempts
type Recorder interface {
	RecordAttempt(ctx context.Context, entry models.AttemptLogEntry) (ledger.Outcome, error)
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	BatchID        string
	TotalProcessed int
	Appended       int
	Replaced       int
	Skipped        int
	Errors         []string
}

// ReadSummaries reads session summaries from an Excel or CSV file.
// Row errors are collected and do not stop the import.
func ReadSummaries(config ImportConfig) ([]SessionSummary, []string, error) {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.StartRow < 1 {
		config.StartRow = 1
	}

	var (
		rows [][]string
		err  error
	)
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		rows, err = readCSV(config.FilePath)
	} else {
		rows, err = readExcel(config.FilePath, config.SheetName)
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		out       []SessionSummary
		rowErrors []string
	)
	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 || isBlank(row) {
			continue
		}
		s, err := parseRow(row, config)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		out = append(out, s)
	}
	return out, rowErrors, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func parseRow(row []string, config ImportConfig) (SessionSummary, error) {
	cell := func(column string) string {
		if column == "" {
			return ""
		}
		idx := columnToIndex(column)
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var s SessionSummary
	day, err := parseDay(cell(config.DateColumn), config.Location)
	if err != nil {
		return s, err
	}
	s.Day = day

	s.FormulaID = cell(config.FormulaColumn)
	if s.FormulaID == "" {
		return s, fmt.Errorf("formula is empty")
	}
	s.Category = cell(config.CategoryColumn)

	if s.Attempts, err = strconv.Atoi(cell(config.AttemptsColumn)); err != nil || s.Attempts < 0 {
		return s, fmt.Errorf("invalid attempts %q", cell(config.AttemptsColumn))
	}
	if s.Correct, err = strconv.Atoi(cell(config.CorrectColumn)); err != nil || s.Correct < 0 {
		return s, fmt.Errorf("invalid correct %q", cell(config.CorrectColumn))
	}
	if s.Correct > s.Attempts {
		return s, fmt.Errorf("correct %d exceeds attempts %d", s.Correct, s.Attempts)
	}

	if s.Source, err = models.ParseSource(cell(config.SourceColumn)); err != nil {
		return s, err
	}
	if s.Source == models.SourceLive {
		return s, fmt.Errorf("summaries cannot carry live attempts")
	}
	return s, nil
}

var dayLayouts = []string{"2006-01-02", "2006/01/02", "02.01.2006", "01/02/2006"}

// parseDay accepts ISO-like dates and Excel serial day numbers
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Expand turns a summary into synthetic ledger entries. The ledger keeps at
// most one synthetic entry per (formula, day, correct), so a summary yields one
// entry per outcome that occurred, stamped at midday.
func Expand(s SessionSummary) []models.AttemptLogEntry {
	ts := s.Day.Add(12 * time.Hour).UnixMilli()
	entry := models.AttemptLogEntry{
		Timestamp:      ts,
		FormulaID:      s.FormulaID,
		Category:       s.Category,
		DifficultyTier: models.TierEasy,
		Source:         s.Source,
	}

	var out []models.AttemptLogEntry
	if s.Correct > 0 {
		e := entry
		e.Correct = true
		out = append(out, e)
	}
	if s.Attempts > s.Correct {
		e := entry
		e.Timestamp = ts + 1
		out = append(out, e)
	}
	return out
}

// ImportSummaries reads the file and records every expanded entry.
// Re-importing the same file is a no-op because the ledger skips known tuples.
func ImportSummaries(ctx context.Context, config ImportConfig, rec Recorder) (*ImportResult, error) {
	summaries, rowErrors, err := ReadSummaries(config)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		BatchID: uuid.NewString(),
		Errors:  rowErrors,
	}
	for _, s := range summaries {
		result.TotalProcessed++
		for _, entry := range Expand(s) {
			outcome, err := rec.RecordAttempt(ctx, entry)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", s.Day.Format("2006-01-02"), s.FormulaID, err))
				continue
			}
			switch outcome {
			case ledger.OutcomeAppended:
				result.Appended++
			case ledger.OutcomeReplaced:
				result.Replaced++
			case ledger.OutcomeSkipped:
				result.Skipped++
			}
		}
	}
	return result, nil
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
