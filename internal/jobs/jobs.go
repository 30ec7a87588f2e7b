// Package jobs implements the job producer (C8) and job runner (C9): typed
// payloads published onto the durable job stream, and a bounded worker pool
// that pulls them back off and dispatches by subject. The worker pool shape
// (Start/Shutdown around a bounded set of workers) is grounded on the
// teacher's UploadProcessor (internal/api/uploads_processor.go); dispatch-
// by-subject and ack/nack discipline are new, grounded on spec.md §4.9.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"farmhand.dev/core/internal/eventlog"
)

// Subjects the runner knows how to dispatch.
const (
	SubjectVideoToStream = "video_to_stream"
	SubjectCompressRaw   = "compress_raw"
)

// Payload is the self-describing body every job carries: small, keyed by
// subject rather than by a polymorphic body. ScheduledFor implements the
// "not-before" delay compress_raw needs (spec.md §5): the log has no native
// delay, so the runner re-queues a message whose ScheduledFor is still in
// the future instead of dispatching it.
type Payload struct {
	VideoID      string    `json:"video_id"`
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// Producer publishes jobs onto the durable job stream (C8).
type Producer struct {
	log *eventlog.Log
}

// NewProducer wraps an already-connected eventlog.Log.
func NewProducer(log *eventlog.Log) *Producer {
	return &Producer{log: log}
}

// EnqueueVideoToStream publishes the initial transcode job for a newly
// completed upload. Always immediate (no delay).
func (p *Producer) EnqueueVideoToStream(ctx context.Context, videoID string) error {
	return p.publish(ctx, SubjectVideoToStream, Payload{VideoID: videoID})
}

// EnqueueCompressRaw publishes the deferred archival job, not-before now +
// delay (spec.md §4.8 default is 24h; callers pass that explicitly so tests
// can use a short delay).
func (p *Producer) EnqueueCompressRaw(ctx context.Context, videoID string, delay time.Duration) error {
	return p.publish(ctx, SubjectCompressRaw, Payload{
		VideoID:      videoID,
		ScheduledFor: time.Now().UTC().Add(delay),
	})
}

func (p *Producer) publish(ctx context.Context, kind string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	return p.log.Publish(ctx, eventlog.JobSubject(kind), body)
}
