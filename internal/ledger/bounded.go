package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Bounded wraps a ledger so every call has a deadline. Calls that time out
// are retried up to maxAttempts; any other failure is returned at once.
type Bounded struct {
	inner       StakeLedger
	timeout     time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewBounded wraps inner
func NewBounded(inner StakeLedger, timeout time.Duration, maxAttempts int, logger *zap.Logger) *Bounded {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Bounded{
		inner:       inner,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

var _ StakeLedger = (*Bounded)(nil)

func (b *Bounded) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		err = fn(callCtx)
		cancel()

		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		b.logger.Warn("ledger call timed out",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", b.maxAttempts),
		)
	}
	return err
}

func (b *Bounded) GetBalance(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := b.do(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = b.inner.GetBalance(ctx, address)
		return err
	})
	return balance, err
}

func (b *Bounded) LockStake(ctx context.Context, address string, amount int64, gameID string) (bool, error) {
	var ok bool
	err := b.do(ctx, "lock", func(ctx context.Context) error {
		var err error
		ok, err = b.inner.LockStake(ctx, address, amount, gameID)
		return err
	})
	return ok, err
}

func (b *Bounded) TransferStake(ctx context.Context, gameID, winner string, amount int64) (bool, error) {
	var ok bool
	err := b.do(ctx, "transfer", func(ctx context.Context) error {
		var err error
		ok, err = b.inner.TransferStake(ctx, gameID, winner, amount)
		return err
	})
	return ok, err
}
