package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/observability/metrics"
)

// Runner executes one job kind. Implementations are the HLS transcoder
// (C10) and the raw archiver (C11).
type Runner interface {
	Run(ctx context.Context, payload Payload) error
}

// RunnerConfig configures the job runner loop.
type RunnerConfig struct {
	Log          *eventlog.Log
	Durable      string
	Batch        int
	FetchWait    time.Duration
	MaxDeliver   int
	AckWait      time.Duration
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
	RequeueDelay time.Duration // redelivery delay passed to NakWithDelay for a not-yet-due compress_raw job
}

const (
	defaultBatch        = 3
	defaultFetchWait    = 5 * time.Second
	defaultRequeueDelay = 30 * time.Second
)

// JobRunner binds a durable pull consumer to the job stream and dispatches
// each message by subject, concurrently up to Batch, acking on success and
// nacking on retryable failure.
type JobRunner struct {
	cfg      RunnerConfig
	consumer *eventlog.PullConsumer
	runners  map[string]Runner
	sem      *semaphore.Weighted
	logger   *slog.Logger

	stop   chan struct{}
	stopWG sync.WaitGroup
}

// NewJobRunner creates the durable pull consumer and wires the subject →
// Runner table from spec.md §4.9.
func NewJobRunner(cfg RunnerConfig, transcoder, archiver Runner) (*JobRunner, error) {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaultFetchWait
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = defaultRequeueDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	consumer, err := cfg.Log.CreatePullConsumer(eventlog.ConsumerConfig{
		Stream:        eventlog.JobStream,
		Durable:       cfg.Durable,
		FilterSubject: eventlog.JobSubjectPrefix + ">",
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
	})
	if err != nil {
		return nil, err
	}

	return &JobRunner{
		cfg:      cfg,
		consumer: consumer,
		runners: map[string]Runner{
			SubjectVideoToStream: transcoder,
			SubjectCompressRaw:   archiver,
		},
		sem:    semaphore.NewWeighted(int64(cfg.Batch)),
		logger: logger,
		stop:   make(chan struct{}),
	}, nil
}

// Start runs the fetch/dispatch loop until Shutdown is called.
func (r *JobRunner) Start(ctx context.Context) {
	r.stopWG.Add(1)
	go func() {
		defer r.stopWG.Done()
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := r.consumer.Fetch(r.cfg.Batch, r.cfg.FetchWait)
			if err != nil {
				r.logger.Error("fetch job batch failed", "error", err)
				continue
			}
			for _, msg := range msgs {
				msg := msg
				if err := r.sem.Acquire(ctx, 1); err != nil {
					return
				}
				go func() {
					defer r.sem.Release(1)
					r.dispatch(ctx, msg)
				}()
			}
		}
	}()
}

// Shutdown stops the fetch loop and waits for in-flight dispatches to drain
// their semaphore slots, bounded by ctx.
func (r *JobRunner) Shutdown(ctx context.Context) error {
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.stopWG.Wait()
		_ = r.sem.Acquire(context.Background(), int64(r.cfg.Batch))
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *JobRunner) dispatch(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	subject := msg.Subject
	kind := jobKindFromSubject(subject)

	var payload Payload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		r.logger.Error("undecodable job payload, terminal", "subject", subject, "error", err)
		_ = msg.Ack()
		r.cfg.Metrics.ObserveJob(subject, "bad_payload", time.Since(start).Seconds())
		return
	}

	if !payload.ScheduledFor.IsZero() && time.Now().Before(payload.ScheduledFor) {
		// Not due yet: nack with a delay so the broker redelivers later
		// instead of hot-looping on it.
		_ = msg.NakWithDelay(r.cfg.RequeueDelay)
		r.cfg.Metrics.ObserveJob(subject, "deferred", time.Since(start).Seconds())
		return
	}

	runner, ok := r.runners[kind]
	if !ok || runner == nil {
		r.logger.Warn("no runner registered for subject, terminal", "subject", subject)
		_ = msg.Ack()
		r.cfg.Metrics.ObserveJob(subject, "no_runner", time.Since(start).Seconds())
		return
	}

	meta, _ := msg.Metadata()
	if meta != nil && meta.NumDelivered > 1 {
		r.cfg.Metrics.RecordRedelivery(subject)
	}

	err := runner.Run(ctx, payload)
	if err == nil {
		_ = msg.Ack()
		r.cfg.Metrics.ObserveJob(subject, "ok", time.Since(start).Seconds())
		return
	}

	if apperr.Retryable(err) && (meta == nil || meta.NumDelivered < uint64(r.consumerMaxDeliver())) {
		_ = msg.Nak()
		r.cfg.Metrics.ObserveJob(subject, "retry", time.Since(start).Seconds())
		return
	}

	// Terminal failure: the runner's own Run implementation is responsible
	// for idempotently marking the VOD failed before returning this error.
	r.logger.Error("job terminally failed", "subject", subject, "error", err)
	_ = msg.Ack()
	r.cfg.Metrics.ObserveJob(subject, "failed", time.Since(start).Seconds())
}

func (r *JobRunner) consumerMaxDeliver() int {
	if r.cfg.MaxDeliver > 0 {
		return r.cfg.MaxDeliver
	}
	return 3
}

func jobKindFromSubject(subject string) string {
	if len(subject) <= len(eventlog.JobSubjectPrefix) {
		return subject
	}
	return subject[len(eventlog.JobSubjectPrefix):]
}
