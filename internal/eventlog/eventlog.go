// Package eventlog wraps a NATS JetStream connection into the two named,
// durable streams the pipeline runs on (C2): the work-queue job stream and
// the fan-out event stream. Connection and subscription wiring follows the
// pattern in the retrieval pack's websocket relay service (nats.Connect with
// reconnect options, js.AddStream, js.Subscribe/js.PullSubscribe with a
// durable consumer name and ManualAck).
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Stream names and subject roots fixed by the pipeline's wire contract.
const (
	JobStream   = "FARMHAND_JOBS"
	EventStream = "FARMHAND_EVENTS"

	JobSubjectPrefix   = "farmhand.jobs."
	EventSubjectPrefix = "farmhand.events."
)

// Config configures the JetStream connection.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	ConnectName   string
}

func (c Config) maxReconnects() int {
	if c.MaxReconnects > 0 {
		return c.MaxReconnects
	}
	return 5
}

func (c Config) reconnectWait() time.Duration {
	if c.ReconnectWait > 0 {
		return c.ReconnectWait
	}
	return 2 * time.Second
}

// Log owns the NATS connection and JetStream context for the life of a
// process. Callers obtain it once at startup and share it across
// producers/consumers.
type Log struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS and resolves a JetStream context. It does not create
// any stream; call EnsureJobStream/EnsureEventStream explicitly so the
// caller controls stream topology at startup.
func Connect(cfg Config) (*Log, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.maxReconnects()),
		nats.ReconnectWait(cfg.reconnectWait()),
	}
	if cfg.ConnectName != "" {
		opts = append(opts, nats.Name(cfg.ConnectName))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	return &Log{conn: conn, js: js}, nil
}

// Close drains and closes the underlying NATS connection.
func (l *Log) Close() {
	if l.conn != nil {
		_ = l.conn.Drain()
		l.conn.Close()
	}
}

// EnsureJobStream creates FARMHAND_JOBS if it does not already exist. Work-
// queue retention means a message is removed the moment any consumer acks
// it — exactly the job-queue semantics C8/C9 need.
func (l *Log) EnsureJobStream(ctx context.Context) error {
	return l.ensureStream(ctx, &nats.StreamConfig{
		Name:        JobStream,
		Description: "durable work queue for farmhand background jobs",
		Subjects:    []string{JobSubjectPrefix + ">"},
		Retention:   nats.WorkQueuePolicy,
		Storage:     nats.FileStorage,
		Discard:     nats.DiscardOld,
	})
}

// EnsureEventStream creates FARMHAND_EVENTS if it does not already exist.
// Limits retention with a 1 GiB cap lets multiple independent consumers
// (event listeners, future analytics fan-out) each read the full stream
// at their own pace.
func (l *Log) EnsureEventStream(ctx context.Context) error {
	return l.ensureStream(ctx, &nats.StreamConfig{
		Name:        EventStream,
		Description: "durable fan-out log for farmhand webhook-derived events",
		Subjects:    []string{EventSubjectPrefix + ">"},
		Retention:   nats.LimitsPolicy,
		Storage:     nats.FileStorage,
		Discard:     nats.DiscardOld,
		MaxBytes:    1 << 30,
	})
}

func (l *Log) ensureStream(_ context.Context, cfg *nats.StreamConfig) error {
	if _, err := l.js.StreamInfo(cfg.Name); err == nil {
		return nil
	}
	_, err := l.js.AddStream(cfg)
	if err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// DeleteStream tears a stream down entirely. Nothing in steady-state
// request handling calls it.
func (l *Log) DeleteStream(name string) error {
	return l.js.DeleteStream(name)
}

// Publish writes payload to subject and waits for the broker's ack. Callers
// on the hot path (webhook receiver, upload coordinator) use this directly;
// it is synchronous by design so a publish failure surfaces to the HTTP
// caller rather than being silently dropped.
func (l *Log) Publish(ctx context.Context, subject string, payload []byte) error {
	_, err := l.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ConsumerConfig configures a durable pull consumer.
type ConsumerConfig struct {
	Stream        string
	Durable       string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
}

func (c ConsumerConfig) maxDeliver() int {
	if c.MaxDeliver > 0 {
		return c.MaxDeliver
	}
	return 3
}

func (c ConsumerConfig) ackWait() time.Duration {
	if c.AckWait > 0 {
		return c.AckWait
	}
	return 30 * time.Second
}

// PullConsumer is a durable pull-based subscription. Fetch blocks for new
// messages up to the given wait; callers Ack/Nak each message explicitly.
type PullConsumer struct {
	sub *nats.Subscription
}

// CreatePullConsumer creates (or binds to an existing) durable pull
// consumer on stream, bounding redelivery at cfg.MaxDeliver (spec.md's
// "bounded redelivery before terminal failure").
func (l *Log) CreatePullConsumer(cfg ConsumerConfig) (*PullConsumer, error) {
	sub, err := l.js.PullSubscribe(cfg.FilterSubject, cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.ManualAck(),
		nats.AckWait(cfg.ackWait()),
		nats.MaxDeliver(cfg.maxDeliver()),
	)
	if err != nil {
		return nil, fmt.Errorf("create pull consumer %s/%s: %w", cfg.Stream, cfg.Durable, err)
	}
	return &PullConsumer{sub: sub}, nil
}

// Fetch pulls up to batch messages, waiting at most maxWait for the first
// one to arrive.
func (c *PullConsumer) Fetch(batch int, maxWait time.Duration) ([]*nats.Msg, error) {
	msgs, err := c.sub.Fetch(batch, nats.MaxWait(maxWait))
	if err != nil && err != nats.ErrTimeout {
		return nil, err
	}
	return msgs, nil
}

// Drain unsubscribes, letting in-flight messages finish processing.
func (c *PullConsumer) Drain() error {
	return c.sub.Drain()
}
