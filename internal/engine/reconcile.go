package engine

import (
	"sort"

	"github.com/example/masterybot/internal/metrics"
	"github.com/example/masterybot/pkg/models"
)

// StatDrift is a difference between live and rebuilt counters of one key
type StatDrift struct {
	Key            string `json:"key"`
	LiveAttempts   int    `json:"liveAttempts"`
	LedgerAttempts int    `json:"ledgerAttempts"`
	LiveCorrect    int    `json:"liveCorrect"`
	LedgerCorrect  int    `json:"ledgerCorrect"`
}

// DriftReport lists where the live mastery model disagrees with a rebuild
// from the ledger. Entries dropped by the retention cap show up as drift too.
type DriftReport struct {
	DeviceID   string      `json:"deviceId"`
	Formulas   []StatDrift `json:"formulas,omitempty"`
	Categories []StatDrift `json:"categories,omitempty"`
	Applied    bool        `json:"applied"`
}

// Drifted reports whether any counter differs
func (r DriftReport) Drifted() bool {
	return len(r.Formulas) > 0 || len(r.Categories) > 0
}

// Reconcile compares the live model with a rebuild from the ledger. With
// apply set and drift found, the rebuilt statistics replace the live ones.
func (e *Engine) Reconcile(apply bool) DriftReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rebuilt := e.ledger.RebuildAggregates(e.mastery.Params)
	report := DriftReport{
		DeviceID:   e.deviceID,
		Formulas:   diffStats(e.mastery.Formulas, rebuilt.Formulas),
		Categories: diffStats(e.mastery.Categories, rebuilt.Categories),
	}
	if !report.Drifted() {
		return report
	}

	metrics.DriftReports.Inc()
	e.log.Warn("Mastery model diverges from ledger", "formulas", len(report.Formulas), "categories", len(report.Categories), "apply", apply)
	if apply {
		e.mastery.Formulas = rebuilt.Formulas
		e.mastery.Categories = rebuilt.Categories
		report.Applied = true
	}
	return report
}

func diffStats(live, rebuilt map[string]*models.FormulaStat) []StatDrift {
	keys := make(map[string]struct{}, len(live)+len(rebuilt))
	for k := range live {
		keys[k] = struct{}{}
	}
	for k := range rebuilt {
		keys[k] = struct{}{}
	}

	var out []StatDrift
	for k := range keys {
		var a, b models.FormulaStat
		if s, ok := live[k]; ok {
			a = *s
		}
		if s, ok := rebuilt[k]; ok {
			b = *s
		}
		if a.Attempts == b.Attempts && a.Correct == b.Correct {
			continue
		}
		out = append(out, StatDrift{
			Key:            k,
			LiveAttempts:   a.Attempts,
			LedgerAttempts: b.Attempts,
			LiveCorrect:    a.Correct,
			LedgerCorrect:  b.Correct,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
