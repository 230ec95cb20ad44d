package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/logging"
)

const (
	defaultRetryAttempts  = 3
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaxBackoff     = time.Second
)

// retrier re-runs storage calls that failed with a transient error.
type retrier struct {
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newRetrier(logger *zap.Logger) retrier {
	return retrier{
		logger:         logger,
		retryAttempts:  defaultRetryAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

func (r retrier) executeWithRetry(ctx context.Context, operation, key string, fn func() error) error {
	retries := uint64(0)
	if r.retryAttempts > 1 {
		retries = uint64(r.retryAttempts - 1)
	}
	initial := r.initialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxBackoff := r.maxBackoff
	if maxBackoff < initial {
		maxBackoff = initial
	}

	opLogger := logging.WithOperation(r.logger, operation, "").With(zap.String("key", key))
	backoff := retry.WithMaxRetries(retries, retry.WithCappedDuration(maxBackoff, retry.NewExponential(initial)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				opLogger.Info("storage operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if isTransientError(err) {
			opLogger.Warn("transient storage error", zap.Error(err), zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			opLogger.Error("storage operation failed", zap.Error(err), zap.Int("attempt", attempt))
		}
		return logging.NewOperationError(operation, "", err)
	}
	return nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
