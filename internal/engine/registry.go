package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/masterybot/internal/logger"
)

const defaultSaveConcurrency = 4

// Registry owns the engines of all active devices and their persistence
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
	store   StateStore
	opts    Options
	log     *logger.Logger

	// SaveConcurrency bounds parallel writes in SaveAll
	SaveConcurrency int
}

func NewRegistry(store StateStore, opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		engines:         make(map[string]*Engine),
		store:           store,
		opts:            opts,
		log:             log,
		SaveConcurrency: defaultSaveConcurrency,
	}
}

// Get returns the engine of deviceID, loading or creating it on first use.
// An empty deviceID creates an engine under a new anonymous id.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Engine, error) {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[deviceID]; ok {
		return e, nil
	}

	state, err := r.store.Load(ctx, deviceID)
	switch {
	case errors.Is(err, ErrStateMissing):
		r.log.Info("No saved state, starting fresh", "device_id", deviceID)
		state = NewState(deviceID)
	case err != nil:
		return nil, fmt.Errorf("failed to load engine state: %w", err)
	}
	if err := state.Migrate(deviceID); err != nil {
		return nil, fmt.Errorf("failed to migrate engine state: %w", err)
	}

	e := New(state, r.opts)
	r.engines[deviceID] = e
	return e, nil
}

// DeviceIDs returns the ids of all loaded engines in sorted order
func (r *Registry) DeviceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Engines returns the loaded engines ordered by device id
func (r *Registry) Engines() []*Engine {
	ids := r.DeviceIDs()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Engine, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.engines[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Save persists the engine of deviceID if it is loaded
func (r *Registry) Save(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	e, ok := r.engines[deviceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := r.store.Save(ctx, e.Snapshot()); err != nil {
		return fmt.Errorf("failed to save engine state for %s: %w", deviceID, err)
	}
	return nil
}

// SaveAll persists every loaded engine with bounded concurrency
func (r *Registry) SaveAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := r.SaveConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, e := range r.Engines() {
		e := e
		g.Go(func() error {
			if err := r.store.Save(gctx, e.Snapshot()); err != nil {
				return fmt.Errorf("failed to save engine state for %s: %w", e.DeviceID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
