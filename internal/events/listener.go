// Package events implements the event listener (C12): a durable pull
// consumer bound to farmhand.events.>, used for side effects that are not
// latency-critical — persisting chat, persisting engagement events, future
// analytics. Session open/close happens synchronously in the webhook
// receiver (C6) per spec.md §4.6, so this listener's dispatch table covers
// the kinds left over: chat and engagement. Shares its fetch/dispatch loop
// shape with internal/jobs.JobRunner (same teacher-grounded worker pool),
// parameterized by subject prefix and a kind-keyed handler table instead of
// a single-video job payload.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/observability/metrics"
	"farmhand.dev/core/internal/storage"
)

const (
	defaultBatch     = 3
	defaultFetchWait = 5 * time.Second
)

// Config configures the event listener loop.
type Config struct {
	Log        *eventlog.Log
	Store      storage.Repository
	Durable    string
	Batch      int
	FetchWait  time.Duration
	MaxDeliver int
	AckWait    time.Duration
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Listener binds a durable pull consumer to the event stream and persists
// chat and engagement events concurrently up to Batch, acking on success
// and nacking on retryable failure.
type Listener struct {
	cfg      Config
	consumer *eventlog.PullConsumer
	sem      *semaphore.Weighted
	logger   *slog.Logger

	stop   chan struct{}
	stopWG sync.WaitGroup
}

// New creates the durable pull consumer bound to every event subject.
func New(cfg Config) (*Listener, error) {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaultFetchWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	consumer, err := cfg.Log.CreatePullConsumer(eventlog.ConsumerConfig{
		Stream:        eventlog.EventStream,
		Durable:       cfg.Durable,
		FilterSubject: eventlog.EventSubjectPrefix + ">",
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
	})
	if err != nil {
		return nil, err
	}

	return &Listener{
		cfg:      cfg,
		consumer: consumer,
		sem:      semaphore.NewWeighted(int64(cfg.Batch)),
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs the fetch/dispatch loop until Shutdown is called.
func (l *Listener) Start(ctx context.Context) {
	l.stopWG.Add(1)
	go func() {
		defer l.stopWG.Done()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := l.consumer.Fetch(l.cfg.Batch, l.cfg.FetchWait)
			if err != nil {
				l.logger.Error("fetch event batch failed", "error", err)
				continue
			}
			for _, msg := range msgs {
				msg := msg
				if err := l.sem.Acquire(ctx, 1); err != nil {
					return
				}
				go func() {
					defer l.sem.Release(1)
					l.dispatch(ctx, msg)
				}()
			}
		}
	}()
}

// Shutdown stops the fetch loop and waits for in-flight dispatches to
// drain, bounded by ctx.
func (l *Listener) Shutdown(ctx context.Context) error {
	close(l.stop)
	done := make(chan struct{})
	go func() {
		l.stopWG.Wait()
		_ = l.sem.Acquire(context.Background(), int64(l.cfg.Batch))
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) dispatch(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	subject := msg.Subject
	broadcaster, kind, ok := eventlog.ParseEventSubject(subject)
	if !ok {
		l.logger.Warn("event on unrecognized subject shape, terminal", "subject", subject)
		_ = msg.Ack()
		return
	}

	var err error
	switch kind {
	case "chat_message":
		err = l.persistChat(ctx, broadcaster, msg.Data)
	case "follow":
		err = l.persistEngagement(ctx, broadcaster, models.EngagementFollow, msg.Data)
	case "subscribe":
		err = l.persistEngagement(ctx, broadcaster, models.EngagementSubscribe, msg.Data)
	case "channel_points":
		err = l.persistEngagement(ctx, broadcaster, models.EngagementChannelPoints, msg.Data)
	default:
		// stream_online/stream_offline and any other kind: the session
		// lifecycle is already handled synchronously by the webhook
		// receiver, nothing further to persist here.
		_ = msg.Ack()
		l.recordOutcome(subject, "ok", start)
		return
	}

	if err == nil {
		_ = msg.Ack()
		l.recordOutcome(subject, "ok", start)
		return
	}

	meta, _ := msg.Metadata()
	if meta != nil && meta.NumDelivered > 1 {
		l.cfg.Metrics.RecordRedelivery(subject)
	}
	if meta != nil && meta.NumDelivered < uint64(l.maxDeliver()) {
		_ = msg.Nak()
		l.recordOutcome(subject, "retry", start)
		return
	}

	l.logger.Error("event terminally failed", "subject", subject, "error", err)
	_ = msg.Ack()
	l.recordOutcome(subject, "failed", start)
}

func (l *Listener) recordOutcome(subject, outcome string, start time.Time) {
	l.cfg.Metrics.ObserveJob(subject, outcome, time.Since(start).Seconds())
}

func (l *Listener) maxDeliver() int {
	if l.cfg.MaxDeliver > 0 {
		return l.cfg.MaxDeliver
	}
	return 3
}

func (l *Listener) persistChat(ctx context.Context, broadcaster string, raw []byte) error {
	msg := models.ChatMessage{
		ID:          chatMessageID(raw),
		Broadcaster: broadcaster,
		RawPayload:  raw,
	}
	return l.cfg.Store.InsertChatMessage(ctx, msg)
}

func (l *Listener) persistEngagement(ctx context.Context, broadcaster string, kind models.EngagementKind, raw []byte) error {
	ev := models.EngagementEvent{
		ID:          engagementEventID(raw),
		Broadcaster: broadcaster,
		Kind:        kind,
		RawPayload:  raw,
	}
	return l.cfg.Store.InsertEngagementEvent(ctx, ev)
}
