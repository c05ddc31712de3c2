package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/pkg/models"
)

type recordingNotifier struct {
	sent map[string]int
	err  error
}

func (n *recordingNotifier) SendReminders(deviceID string, count int) error {
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[string]int)
	}
	n.sent[deviceID] = count
	return nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func setup(t *testing.T, clk *fixedClock) (*engine.Registry, *engine.MemoryStateStore) {
	t.Helper()
	store := engine.NewMemoryStateStore()
	reg := engine.NewRegistry(store, engine.Options{Clock: clk.Now, Seed: 1})
	ctx := context.Background()

	e, err := reg.Get(ctx, "due")
	require.NoError(t, err)
	item, _ := e.NextItem(ctx, "motion", nil)
	_, err = e.RecordAttempt(ctx, models.AttemptLogEntry{ItemID: models.ItemID(item.ID), Correct: false})
	require.NoError(t, err)

	_, err = reg.Get(ctx, "idle")
	require.NoError(t, err)
	return reg, store
}

func TestSendRemindersOnlyForDueDevices(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	reg, _ := setup(t, clk)
	n := &recordingNotifier{}
	opts := DefaultOptions()
	opts.Clock = clk.Now
	s := New(reg, n, opts, nil)

	assert.Equal(t, 0, s.SendReminders(), "review not due yet")

	clk.t = clk.t.Add(2 * time.Hour)
	assert.Equal(t, 1, s.SendReminders())
	assert.Equal(t, map[string]int{"due": 1}, n.sent)
}

func TestSendRemindersRespectsWindow(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	reg, _ := setup(t, clk)
	clk.t = time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)

	n := &recordingNotifier{}
	opts := DefaultOptions()
	opts.Clock = clk.Now
	assert.Equal(t, 0, New(reg, n, opts, nil).SendReminders())

	failing := &recordingNotifier{err: errors.New("blocked by user")}
	clk.t = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, New(reg, failing, opts, nil).SendReminders())
}

func TestSnapshotPersistsAllEngines(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	reg, store := setup(t, clk)
	s := New(reg, nil, DefaultOptions(), nil)

	require.NoError(t, s.Snapshot(context.Background()))
	for _, id := range []string{"due", "idle"} {
		_, err := store.Load(context.Background(), id)
		assert.NoError(t, err, id)
	}
}

func TestReconcileWithoutDrift(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	reg, _ := setup(t, clk)
	s := New(reg, nil, DefaultOptions(), nil)
	assert.Empty(t, s.Reconcile())
}

func TestStartAndStop(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	reg, _ := setup(t, clk)
	s := New(reg, &recordingNotifier{}, DefaultOptions(), nil)
	require.NoError(t, s.Start())
	s.Stop()
}
