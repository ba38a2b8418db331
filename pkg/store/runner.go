package store

import (
	"context"
	"errors"
	"time"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/eventbus"
	"github.com/billforge/billforge/pkg/model"
)

// Runner bounds each unit of work by a timeout and forwards the outbox
// events it appended to the notifier once the unit has committed.
type Runner struct {
	store    Store
	timeout  time.Duration
	notifier eventbus.Notifier
}

func NewRunner(s Store, timeout time.Duration, notifier eventbus.Notifier) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if notifier == nil {
		notifier = eventbus.Discard{}
	}
	return &Runner{store: s, timeout: timeout, notifier: notifier}
}

func (r *Runner) Store() Store {
	return r.store
}

// Do runs fn in one transaction. op names the operation in StoreUnavailable
// errors.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var recorder *recordingTx
	err := r.store.RunInTx(ctx, func(tx Tx) error {
		recorder = &recordingTx{Tx: tx}
		return fn(ctx, recorder)
	})
	if err != nil {
		if !apperr.Classified(err) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return apperr.Unavailable(op, err)
		}
		return err
	}

	if recorder != nil && len(recorder.events) > 0 {
		r.notifier.Notify(context.WithoutCancel(ctx), recorder.events...)
	}
	return nil
}

type recordingTx struct {
	Tx
	events []model.DomainEvent
}

func (t *recordingTx) AppendEvent(ctx context.Context, event *model.DomainEvent) error {
	if err := t.Tx.AppendEvent(ctx, event); err != nil {
		return err
	}
	t.events = append(t.events, *event)
	return nil
}
