package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingLoader struct {
	t     *testing.T
	loads atomic.Int32
	err   error
	delay time.Duration
}

func (l *countingLoader) Load(ctx context.Context, gameID string) (*Engine, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return startedEngine(l.t, Options{}), nil
}

func TestRegistryLoadsOnce(t *testing.T) {
	loader := &countingLoader{t: t, delay: 10 * time.Millisecond}
	reg := NewRegistry(loader, time.Second, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn := func(e *Engine) error { return nil }
			if i%2 == 0 {
				assert.NoError(t, reg.Do(context.Background(), "g1", fn))
			} else {
				assert.NoError(t, reg.View(context.Background(), "g1", fn))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryConcurrentPlaysAreSerialized(t *testing.T) {
	reg := NewRegistry(&countingLoader{t: t}, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, reg.Do(ctx, "g1", func(e *Engine) error {
		e.players[alice].Hand = []string{"cosmic_ray"}
		e.players[bob].Hand = []string{"cosmic_ray"}
		return nil
	}))

	var wg sync.WaitGroup
	for _, player := range []string{alice, bob} {
		wg.Add(1)
		go func(player string) {
			defer wg.Done()
			err := reg.Do(ctx, "g1", func(e *Engine) error {
				_, err := e.PlayCard(player, "cosmic_ray", "")
				return err
			})
			assert.NoError(t, err)
		}(player)
	}
	wg.Wait()

	require.NoError(t, reg.View(ctx, "g1", func(e *Engine) error {
		a, _ := e.Player(alice)
		b, _ := e.Player(bob)
		assert.Equal(t, 27, a.Health)
		assert.Equal(t, 27, b.Health)
		assert.Equal(t, 1, a.Energy)
		assert.Equal(t, 1, b.Energy)
		return nil
	}))
}

func TestRegistryNoLostUpdates(t *testing.T) {
	reg := NewRegistry(&countingLoader{t: t}, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Do(ctx, "g1", func(e *Engine) error {
				e.players[bob].Health--
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, reg.View(ctx, "g1", func(e *Engine) error {
		b, _ := e.Player(bob)
		assert.Equal(t, StartingHealth-n, b.Health)
		return nil
	}))
}

func TestRegistryLoadError(t *testing.T) {
	loader := &countingLoader{t: t, err: ErrSessionNotFound}
	reg := NewRegistry(loader, time.Second, zaptest.NewLogger(t))

	called := false
	err := reg.Do(context.Background(), "missing", func(e *Engine) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, called)

	err = reg.View(context.Background(), "missing", func(e *Engine) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, int32(2), loader.loads.Load(), "failed loads are not cached")
}

func TestRegistryLoadTimeout(t *testing.T) {
	loader := &countingLoader{t: t, delay: time.Second}
	reg := NewRegistry(loader, 20*time.Millisecond, zaptest.NewLogger(t))

	err := reg.Do(context.Background(), "slow", func(e *Engine) error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRegistryPutAndEvict(t *testing.T) {
	loader := &countingLoader{t: t}
	reg := NewRegistry(loader, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	seeded := startedEngine(t, Options{})
	reg.Put("g1", seeded)
	require.NoError(t, reg.View(ctx, "g1", func(e *Engine) error {
		assert.Same(t, seeded, e)
		return nil
	}))
	assert.Equal(t, int32(0), loader.loads.Load())

	reg.Evict("g1")
	assert.Equal(t, 0, reg.Len())
	require.NoError(t, reg.View(ctx, "g1", func(e *Engine) error {
		assert.NotSame(t, seeded, e)
		return nil
	}))
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestRegistryEvictIdle(t *testing.T) {
	reg := NewRegistry(&countingLoader{t: t}, time.Second, zaptest.NewLogger(t))

	reg.Put("old", startedEngine(t, Options{}))
	time.Sleep(30 * time.Millisecond)
	reg.Put("fresh", startedEngine(t, Options{}))

	assert.Equal(t, 1, reg.EvictIdle(20*time.Millisecond))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryViewLoadCountsAsUse(t *testing.T) {
	reg := NewRegistry(&countingLoader{t: t}, time.Second, zaptest.NewLogger(t))

	require.NoError(t, reg.View(context.Background(), "g1", func(e *Engine) error { return nil }))
	assert.Equal(t, 0, reg.EvictIdle(time.Minute), "a freshly reconstructed engine is not idle")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryDropsStaleEngine(t *testing.T) {
	loader := &countingLoader{t: t}
	reg := NewRegistry(loader, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	var first *Engine
	err := reg.Do(ctx, "g1", func(e *Engine) error {
		first = e
		return fmt.Errorf("save: %w", ErrStaleEngine)
	})
	assert.ErrorIs(t, err, ErrStaleEngine)
	assert.Equal(t, 0, reg.Len())

	require.NoError(t, reg.Do(ctx, "g1", func(e *Engine) error {
		assert.NotSame(t, first, e)
		return nil
	}))
	assert.Equal(t, int32(2), loader.loads.Load())

	// other errors keep the engine
	require.Error(t, reg.Do(ctx, "g1", func(e *Engine) error { return ErrNotYourTurn }))
	require.NoError(t, reg.Do(ctx, "g1", func(e *Engine) error { return nil }))
	assert.Equal(t, int32(2), loader.loads.Load())
}
