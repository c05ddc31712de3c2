package engine

import (
	"fmt"
	"time"

	"github.com/example/masterybot/pkg/models"
)

// StateVersion is the current EngineState schema version
const StateVersion = 1

// EngineState is the persisted state of one device's engine.
// The ledger is authoritative; statistics, pool and reviews are caches
// that Reconcile can rebuild.
type EngineState struct {
	Version    int                             `json:"version"`
	DeviceID   string                          `json:"deviceId"`
	Formulas   map[string]*models.FormulaStat  `json:"formulas"`
	Categories map[string]*models.CategoryStat `json:"categories"`
	Items      []models.Item                   `json:"items"`
	Pool       []models.QuestionPoolEntry      `json:"pool"`
	Reviews    []models.ReviewItem             `json:"reviews"`
	Ledger     []models.AttemptLogEntry        `json:"ledger"`
	NextItemID int64                           `json:"nextItemId"`
	// NextAttemptID numbers item presentations
	NextAttemptID int64     `json:"nextAttemptId"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewState returns an empty current-version state for deviceID
func NewState(deviceID string) *EngineState {
	s := &EngineState{Version: StateVersion, DeviceID: deviceID}
	_ = s.Migrate(deviceID)
	return s
}

// Migrate upgrades a loaded state to StateVersion and fills every default,
// so the rest of the engine never checks for missing fields.
func (s *EngineState) Migrate(deviceID string) error {
	if s.Version > StateVersion {
		return fmt.Errorf("engine state version %d is newer than supported %d", s.Version, StateVersion)
	}
	if s.DeviceID == "" {
		s.DeviceID = deviceID
	}
	if s.Formulas == nil {
		s.Formulas = make(map[string]*models.FormulaStat)
	}
	if s.Categories == nil {
		s.Categories = make(map[string]*models.CategoryStat)
	}

	var maxID int64
	for i := range s.Items {
		if !s.Items[i].DifficultyTier.Valid() {
			s.Items[i].DifficultyTier = models.TierEasy
		}
		if s.Items[i].ID > maxID {
			maxID = s.Items[i].ID
		}
	}
	for i := range s.Pool {
		if !s.Pool[i].DifficultyTier.Valid() {
			s.Pool[i].DifficultyTier = models.TierEasy
		}
	}
	var maxAttempt int64
	for i := range s.Ledger {
		e := &s.Ledger[i]
		if e.AttemptID > maxAttempt {
			maxAttempt = e.AttemptID
		}
		if !e.DifficultyTier.Valid() {
			e.DifficultyTier = models.TierEasy
		}
		if e.Source == "" {
			e.Source = models.SourceLive
			if e.Synthetic() {
				e.Source = models.SourceSynthetic
			}
		}
	}
	if s.NextItemID <= maxID {
		s.NextItemID = maxID + 1
	}
	if s.NextAttemptID <= maxAttempt {
		s.NextAttemptID = maxAttempt + 1
	}
	s.Version = StateVersion
	return nil
}
