package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/entity"
)

// DeliveryLog stores delivery outcomes.
type DeliveryLog interface {
	Record(ctx context.Context, d *entity.Delivery) error
}

const (
	popRetryDelay     = time.Second
	defaultRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Worker drains the queue and sends messages, retrying failed sends.
type Worker struct {
	queue       Queue
	sender      Sender
	log         DeliveryLog
	nextID      func() int64
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.SugaredLogger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRetryDelay sets the base wait before a failed send is re-queued. The wait grows
// linearly with the attempt count, up to 30s.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.retryDelay = d
		}
	}
}

// NewWorker builds a worker. log may be nil when outcomes need not be recorded.
func NewWorker(q Queue, s Sender, log DeliveryLog, nextID func() int64, maxAttempts int, logger *zap.SugaredLogger, opts ...WorkerOption) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	w := &Worker{queue: q, sender: s, log: log, nextID: nextID, maxAttempts: maxAttempts, retryDelay: defaultRetryDelay, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// backoff is the wait before re-queueing after the given failed attempt.
func (w *Worker) backoff(attempt int) time.Duration {
	return min(w.retryDelay*time.Duration(max(attempt, 1)), maxRetryDelay)
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warnw("pop notification", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popRetryDelay):
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// RunPool runs n workers and blocks until ctx is cancelled and all have stopped.
func (w *Worker) RunPool(ctx context.Context, n int) error {
	g, ctx := errgroup.WithContext(ctx)
	for range max(n, 1) {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Process sends one job. A failed send is re-queued after a backoff until maxAttempts
// is reached.
func (w *Worker) Process(ctx context.Context, job Job) {
	job.Attempts++
	err := w.sender.Send(ctx, job.Message)
	if err == nil {
		w.record(ctx, job, entity.DeliverySent, "")
		return
	}
	if job.Attempts < w.maxAttempts && !errors.Is(err, ErrInvalidMessage) {
		delay := w.backoff(job.Attempts)
		w.logger.Warnw("email send failed, retrying", "job", job.ID, "attempt", job.Attempts, "retry_in", delay, "err", err)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		// requeue even during shutdown so a redis queue keeps the job
		pushErr := w.queue.Push(context.WithoutCancel(ctx), job)
		if pushErr == nil {
			return
		}
		w.logger.Errorw("requeue email", "job", job.ID, "err", pushErr)
	}
	w.logger.Errorw("email delivery failed", "job", job.ID, "to", job.Message.To, "attempts", job.Attempts, "err", err)
	w.record(ctx, job, entity.DeliveryFailed, err.Error())
}

func (w *Worker) record(ctx context.Context, job Job, status, lastErr string) {
	if w.log == nil {
		return
	}
	d := &entity.Delivery{
		ID:        w.nextID(),
		JobID:     job.ID,
		Recipient: job.Message.To,
		Subject:   job.Message.Subject,
		Tag:       job.Message.Tag,
		Status:    status,
		Attempts:  job.Attempts,
		LastError: lastErr,
	}
	// record even when shutdown cancelled ctx mid-send
	if err := w.log.Record(context.WithoutCancel(ctx), d); err != nil {
		w.logger.Warnw("record email delivery", "job", job.ID, "err", err)
	}
}
