package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/opbridge/opbridge/internal/observe"
)

var (
	// ErrQueueFull is returned when the worker's queue has no free slot.
	ErrQueueFull = errors.New("agent: dispatch queue is full")

	// ErrTimeout is returned when a job does not finish in time. The job
	// itself keeps running.
	ErrTimeout = errors.New("agent: timed out waiting for reply")

	// ErrWorkerStopped is returned for jobs submitted to, or still queued
	// in, a worker that has shut down.
	ErrWorkerStopped = errors.New("agent: worker stopped")
)

// DefaultQueueSize is used when NewWorker is given a non-positive size.
const DefaultQueueSize = 32

// Job is one unit of work for the [Worker]. It receives the worker's
// context, never the submitter's.
type Job func(ctx context.Context) (string, error)

// Result is the outcome of a [Job].
type Result struct {
	Reply string
	Err   error
}

type queued struct {
	job    Job
	result chan Result
}

// Worker runs jobs one at a time in submission order on a single
// goroutine, so only one turn touches the shared session at a time.
type Worker struct {
	jobs    chan queued
	stopped chan struct{}
	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewWorker returns a worker with room for queueSize pending jobs. Call
// [Worker.Run] to start it.
func NewWorker(queueSize int, metrics *observe.Metrics, logger *slog.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	return &Worker{
		jobs:    make(chan queued, queueSize),
		stopped: make(chan struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Run consumes jobs until ctx is cancelled. Jobs run on ctx, so they
// outlive the requests that submitted them but stop at shutdown. Jobs
// still queued when Run returns fail with [ErrWorkerStopped].
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dispatch worker started", "queue_size", cap(w.jobs))
	defer close(w.stopped)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.Info("dispatch worker stopped")
			return nil
		case q := <-w.jobs:
			w.metrics.QueueDepth.Add(ctx, -1)
			if ctx.Err() != nil {
				q.result <- Result{Err: ErrWorkerStopped}
				continue
			}
			q.result <- w.runJob(ctx, q.job)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "panic", r)
			res = Result{Err: fmt.Errorf("agent: job panicked: %v", r)}
		}
	}()
	reply, err := job(ctx)
	return Result{Reply: reply, Err: err}
}

func (w *Worker) drain() {
	for {
		select {
		case q := <-w.jobs:
			w.metrics.QueueDepth.Add(context.Background(), -1)
			q.result <- Result{Err: ErrWorkerStopped}
		default:
			return
		}
	}
}

// Submit enqueues job without blocking. The returned channel receives
// exactly one Result.
func (w *Worker) Submit(job Job) (<-chan Result, error) {
	select {
	case <-w.stopped:
		return nil, ErrWorkerStopped
	default:
	}

	q := queued{job: job, result: make(chan Result, 1)}
	// Counted before the send so Run's decrement never sees it first.
	w.metrics.QueueDepth.Add(context.Background(), 1)
	select {
	case w.jobs <- q:
		return q.result, nil
	default:
		w.metrics.QueueDepth.Add(context.Background(), -1)
		return nil, ErrQueueFull
	}
}

// Do submits job and waits up to timeout for its result. On timeout or
// when ctx ends first, the job is left running and its result discarded.
func (w *Worker) Do(ctx context.Context, timeout time.Duration, job Job) (string, error) {
	ch, err := w.Submit(job)
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Reply, res.Err
	case <-timer.C:
		w.logger.Warn("job timed out, leaving it running", "timeout", timeout)
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.stopped:
		// A result may have been delivered just before the worker stopped.
		select {
		case res := <-ch:
			return res.Reply, res.Err
		default:
			return "", ErrWorkerStopped
		}
	}
}

// Bridge hands messages to a [Dispatcher] through a [Worker] with a
// bounded wait.
type Bridge struct {
	Worker     *Worker
	Dispatcher *Dispatcher
	Timeout    time.Duration
}

// Send processes message on the worker and returns the assistant's reply.
func (b *Bridge) Send(ctx context.Context, message string) (string, error) {
	return b.Worker.Do(ctx, b.Timeout, func(ctx context.Context) (string, error) {
		return b.Dispatcher.Process(ctx, message)
	})
}

// Warmup schedules session creation as a job without waiting for it. A
// failure is logged; the first message retries.
func (b *Bridge) Warmup() error {
	ch, err := b.Worker.Submit(func(ctx context.Context) (string, error) {
		return "", b.Dispatcher.Warmup(ctx)
	})
	if err != nil {
		return err
	}
	go func() {
		if res := <-ch; res.Err != nil {
			b.Dispatcher.logger.Warn("session warmup failed, will retry on first message", "error", res.Err)
		}
	}()
	return nil
}
