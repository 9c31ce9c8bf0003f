package db

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
)

// TxPolicy bounds a unit of work: each attempt gets Timeout, conflicts are retried MaxRetries times.
type TxPolicy struct {
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
	RetryCap   time.Duration
}

func DefaultTxPolicy() TxPolicy {
	return TxPolicy{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryBase:  25 * time.Millisecond,
		RetryCap:   500 * time.Millisecond,
	}
}

func (p TxPolicy) normalized() TxPolicy {
	def := DefaultTxPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.RetryBase <= 0 {
		p.RetryBase = def.RetryBase
	}
	if p.RetryCap < p.RetryBase {
		p.RetryCap = p.RetryBase
	}
	return p
}

func (p TxPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.RetryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(p.RetryCap, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// TxObserver receives the outcome of each RunInTx call.
type TxObserver interface {
	ObserveTx(operation string, attempts int, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveTx(string, int, time.Duration, error) {}

// RunInTx runs fn in a transaction under the client's TxPolicy. Concurrency
// conflicts and attempt timeouts roll back and are retried with backoff; any
// other error aborts immediately. Once retries are exhausted the last
// CONCURRENCY_CONFLICT or TRANSACTION_TIMEOUT error is returned.
func (c *Client) RunInTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	start := time.Now()
	attempts := 0

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		attempts++
		err := c.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if retryableTxError(err) {
			if c.logg != nil {
				logCtx := c.logg.WithFields(ctx, map[string]any{
					"operation": operation,
					"attempt":   attempts,
				})
				c.logg.Warn(logCtx, "retrying unit of work: "+err.Error())
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && pkgerrors.As(err) == nil && errors.Is(err, context.DeadlineExceeded) {
		err = pkgerrors.Wrap(pkgerrors.CodeTimeout, err, operation+" timed out")
	}

	c.observer.ObserveTx(operation, attempts, time.Since(start), err)
	return err
}

func (c *Client) attempt(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	err := c.WithTx(attemptCtx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "transaction attempt timed out")
	}
	if IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "concurrent modification detected")
	}
	return err
}

func retryableTxError(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeConcurrencyConflict) || pkgerrors.HasCode(err, pkgerrors.CodeTimeout)
}
