// Package tracker runs continuous location tracking: a watch pump that keeps
// the session's fix fresh, a push ticker that reports it to the backend, and
// a bounded queue that absorbs backend hiccups.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
	"github.com/beautycita/geotrack/pkg/locationapi"
)

// DeadLetterSink persists pushes that could not be delivered.
type DeadLetterSink interface {
	AppendDeadLetter(ctx context.Context, dl resilience.PushDeadLetter) error
}

type pushJob struct {
	payload  model.PushPayload
	endpoint string
}

// PushQueue decouples push producers (watch samples, ticker ticks) from
// delivery. The queue is bounded: when the backend is slow enough to fill it,
// new pushes are dead-lettered instead of blocking the tracking loops.
type PushQueue struct {
	api     locationapi.Client
	sink    DeadLetterSink
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	jobs    chan pushJob
}

// NewPushQueue creates a queue with the given depth and retry budget.
func NewPushQueue(api locationapi.Client, sink DeadLetterSink, depth, maxAttempts int) *PushQueue {
	if depth <= 0 {
		depth = 32
	}
	retry := resilience.DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	retry.OnRetry = resilience.RetryLogger("location push")

	return &PushQueue{
		api:     api,
		sink:    sink,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:   retry,
		jobs:    make(chan pushJob, depth),
	}
}

// Enqueue hands a push to the delivery worker without blocking. A full queue
// dead-letters the push immediately.
func (q *PushQueue) Enqueue(payload model.PushPayload, endpoint string) {
	job := pushJob{payload: payload, endpoint: endpoint}
	select {
	case q.jobs <- job:
	default:
		zap.L().Warn("push queue full, dead-lettering",
			zap.String("endpoint", endpoint))
		// Overflow is a load condition, not a bad payload; classify it
		// retryable for a later replay.
		q.deadLetter(job, resilience.NewTransientError(eris.New("push queue full"), 0), 0)
	}
}

// Run delivers queued pushes until ctx is cancelled. Intended to be run in
// an errgroup alongside the tracking loops.
func (q *PushQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-q.jobs:
			q.deliver(ctx, job)
		}
	}
}

// Depth returns the number of pushes waiting for delivery.
func (q *PushQueue) Depth() int {
	return len(q.jobs)
}

// BreakerState reports the delivery circuit's current state.
func (q *PushQueue) BreakerState() resilience.CircuitState {
	return q.breaker.State()
}

func (q *PushQueue) deliver(ctx context.Context, job pushJob) {
	push := q.api.PushUpdate
	if job.endpoint == locationapi.BookingTrackPath {
		push = q.api.PushBookingTrack
	}

	err := resilience.Do(ctx, q.retry, func(ctx context.Context) error {
		return q.breaker.Execute(ctx, func(ctx context.Context) error {
			return push(ctx, job.payload)
		})
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the push dies with the process rather than the list.
		return
	}

	zap.L().Warn("push exhausted its retry budget",
		zap.String("endpoint", job.endpoint),
		zap.Error(err))
	q.deadLetter(job, err, q.retry.MaxAttempts)
}

func (q *PushQueue) deadLetter(job pushJob, cause error, attempts int) {
	now := time.Now().UTC()
	dl := resilience.PushDeadLetter{
		ID:           uuid.NewString(),
		Payload:      job.payload,
		Endpoint:     job.endpoint,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		Attempts:     attempts,
		CreatedAt:    now,
		LastFailedAt: now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.sink.AppendDeadLetter(ctx, dl); err != nil {
		zap.L().Error("failed to persist dead letter", zap.Error(err))
	}
}
