package invoice

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/metrics"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
)

type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Timeout bounds one allocation, retries included.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = 50 * o.BaseBackoff
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}

// Allocator hands out gap-free, strictly increasing numbers per
// (tenant, prefix). Each attempt locks the sequence row, advances it with a
// compare on the previous value and commits; lost races are retried.
type Allocator struct {
	runner    *store.Runner
	hierarchy *quota.Hierarchy
	formatter Formatter
	opts      Options
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewAllocator(runner *store.Runner, formatter Formatter, opts Options, logger *zap.Logger) *Allocator {
	return &Allocator{
		runner:    runner,
		hierarchy: quota.NewHierarchy(),
		formatter: formatter,
		opts:      opts.withDefaults(),
		logger:    logger,
		sleep:     sleepContext,
	}
}

// NextInvoiceNumber allocates the next number for prefix in scope's tenant.
func (a *Allocator) NextInvoiceNumber(ctx context.Context, scope model.Scope, prefix string) (Number, error) {
	return a.Allocate(ctx, scope, prefix, nil)
}

// Allocate reserves the next number and runs use in the same transaction.
// An error from use rolls the increment back, so no number is lost.
func (a *Allocator) Allocate(ctx context.Context, scope model.Scope, prefix string, use func(ctx context.Context, tx store.Tx, number Number) error) (Number, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return Number{}, err
	}
	if err := scope.Validate(); err != nil {
		return Number{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.AllocationDuration.WithLabelValues(prefix).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		var number Number
		err := a.runner.Do(ctx, "allocate invoice number", func(ctx context.Context, tx store.Tx) error {
			if _, err := a.hierarchy.Resolve(ctx, tx, scope); err != nil {
				return err
			}
			var err error
			number, err = a.advance(ctx, tx, scope, prefix)
			if err != nil {
				return err
			}
			if use != nil {
				if err := use(ctx, tx, number); err != nil {
					return err
				}
			}
			return tx.AppendEvent(ctx, model.NewDomainEvent(scope.TenantID, model.EventInvoiceNumbered, model.JSONB{
				"prefix":    number.Prefix,
				"value":     number.Value,
				"formatted": number.Formatted,
			}))
		})
		if err == nil {
			metrics.InvoiceNumbersAllocated.WithLabelValues(prefix).Inc()
			return number, nil
		}
		if !retryable(err) {
			return Number{}, err
		}

		lastErr = err
		if ctx.Err() != nil || attempt == a.opts.MaxAttempts {
			return Number{}, a.fail(prefix, attempt, lastErr)
		}
		metrics.AllocationRetries.WithLabelValues(prefix).Inc()
		a.logger.Debug("retrying invoice number allocation",
			zap.String("prefix", prefix),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := a.sleep(ctx, a.backoff(attempt)); err != nil {
			return Number{}, a.fail(prefix, attempt, lastErr)
		}
	}
	return Number{}, a.fail(prefix, a.opts.MaxAttempts, lastErr)
}

func (a *Allocator) advance(ctx context.Context, tx store.Tx, scope model.Scope, prefix string) (Number, error) {
	seq, err := tx.LockSequence(ctx, scope.TenantID, prefix)
	if err != nil {
		return Number{}, err
	}
	previous := seq.LastNumber
	seq.LastNumber = previous + 1
	if err := tx.AdvanceSequence(ctx, seq, previous); err != nil {
		return Number{}, err
	}
	return a.formatter.Number(prefix, seq.LastNumber), nil
}

func (a *Allocator) fail(prefix string, attempts int, err error) error {
	metrics.AllocationFailures.WithLabelValues(prefix).Inc()
	a.logger.Warn("invoice number allocation failed",
		zap.String("prefix", prefix),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &apperr.AllocationFailedError{Prefix: prefix, Attempts: attempts, Err: err}
}

// backoff doubles from BaseBackoff up to MaxBackoff with up to 50% jitter.
func (a *Allocator) backoff(attempt int) time.Duration {
	d := a.opts.BaseBackoff << uint(attempt-1)
	if d <= 0 || d > a.opts.MaxBackoff {
		d = a.opts.MaxBackoff
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// retryable covers lost compare-and-swaps, serialization failures, a
// concurrent lazy insert of the sequence row and lock or statement timeouts.
func retryable(err error) bool {
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrStoreUnavailable) {
		return true
	}
	var unique *apperr.UniquenessConflictError
	return errors.As(err, &unique) && unique.Field == "prefix"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
