package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loader rebuilds an engine that is not held in memory
type Loader interface {
	Load(ctx context.Context, gameID string) (*Engine, error)
}

// Registry owns the in-memory engines. Every game has one entry whose lock
// serializes mutations, reconstruction and state saves; projections share a
// read lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	loader      Loader
	loadTimeout time.Duration
	logger      *zap.Logger
}

type entry struct {
	mu       sync.RWMutex
	engine   *Engine
	lastUsed time.Time
	evicted  bool
}

// NewRegistry creates a registry that reconstructs missing engines through loader
func NewRegistry(loader Loader, loadTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		loader:      loader,
		loadTimeout: loadTimeout,
		logger:      logger,
	}
}

func (r *Registry) entry(gameID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[gameID]
	if !ok {
		e = &entry{}
		r.entries[gameID] = e
	}
	return e
}

// lock returns the live entry for gameID with its write lock held
func (r *Registry) lock(gameID string) *entry {
	for {
		e := r.entry(gameID)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// rlock returns the live entry for gameID with its read lock held
func (r *Registry) rlock(gameID string) *entry {
	for {
		e := r.entry(gameID)
		e.mu.RLock()
		if !e.evicted {
			return e
		}
		e.mu.RUnlock()
	}
}

// load reconstructs the engine of a write-locked entry if needed
func (r *Registry) load(ctx context.Context, gameID string, e *entry) error {
	if e.engine != nil {
		return nil
	}
	if r.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.loadTimeout)
		defer cancel()
	}
	engine, err := r.loader.Load(ctx, gameID)
	if err != nil {
		r.drop(gameID, e)
		return err
	}
	e.engine = engine
	e.lastUsed = time.Now()
	return nil
}

// drop removes a write-locked entry from the map
func (r *Registry) drop(gameID string, e *entry) {
	r.mu.Lock()
	if r.entries[gameID] == e {
		delete(r.entries, gameID)
	}
	r.mu.Unlock()
	e.evicted = true
}

// Do runs fn with exclusive access to the game's engine, reconstructing it
// first when it is not in memory. When fn reports ErrStaleEngine the engine
// is dropped so the next access reloads it.
func (r *Registry) Do(ctx context.Context, gameID string, fn func(*Engine) error) error {
	e := r.lock(gameID)
	defer e.mu.Unlock()

	if err := r.load(ctx, gameID, e); err != nil {
		return err
	}
	e.lastUsed = time.Now()
	err := fn(e.engine)
	if errors.Is(err, ErrStaleEngine) {
		r.drop(gameID, e)
	}
	return err
}

// View runs fn with shared access to the game's engine. fn must not mutate it.
func (r *Registry) View(ctx context.Context, gameID string, fn func(*Engine) error) error {
	for {
		e := r.rlock(gameID)
		if e.engine != nil {
			defer e.mu.RUnlock()
			return fn(e.engine)
		}
		e.mu.RUnlock()

		e = r.lock(gameID)
		err := r.load(ctx, gameID, e)
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// Put installs an engine built elsewhere, replacing any cached one
func (r *Registry) Put(gameID string, engine *Engine) {
	e := r.lock(gameID)
	defer e.mu.Unlock()

	e.engine = engine
	e.lastUsed = time.Now()
}

// Evict drops a game's engine; the next access reconstructs it
func (r *Registry) Evict(gameID string) {
	e := r.lock(gameID)
	defer e.mu.Unlock()

	r.drop(gameID, e)
}

// EvictIdle drops engines unused for longer than idle and returns how many
// were dropped. Busy entries are skipped.
func (r *Registry) EvictIdle(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for gameID, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			e.evicted = true
			delete(r.entries, gameID)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		r.logger.Info("evicted idle game engines", zap.Int("count", evicted))
	}
	return evicted
}

// Len returns the number of tracked games
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// RunEviction evicts idle engines every interval until ctx is done
func (r *Registry) RunEviction(ctx context.Context, idle time.Duration) {
	interval := idle / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle(idle)
		}
	}
}
