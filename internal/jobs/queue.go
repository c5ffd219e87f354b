// Package jobs runs the long operations off the request path: document
// ingestion, community detection, bulk summarization, and entity resolution.
// Jobs travel through a queue (NATS when configured, in-process otherwise)
// and execute on a bounded worker pool.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

// Kind names a job type. Each kind has exactly one registered handler.
type Kind string

const (
	KindIngestDocument  Kind = "ingest_document"
	KindDetectCommunity Kind = "detect_communities"
	KindSummarize       Kind = "summarize_communities"
	KindResolveEntities Kind = "resolve_entities"
)

// Job is one unit of background work. Payload is kind-specific JSON.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Payload    []byte    `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Decode unmarshals the payload into out.
func (j Job) Decode(out any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return jsonx.Unmarshal(j.Payload, out)
}

// IngestPayload asks for a document to be (re)extracted.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	FilePath   string `json:"file_path,omitempty"`
	Content    string `json:"content"`
}

// SummarizePayload asks for community summaries; empty IDs means all stale.
type SummarizePayload struct {
	CommunityIDs []int `json:"community_ids,omitempty"`
}

// ResolvePayload asks for entity deduplication over the given types; empty
// means all types.
type ResolvePayload struct {
	Types []string `json:"types,omitempty"`
}

// Handler executes one job. A returned error marks the job failed; the queue
// does not retry, callers re-enqueue if they want another attempt.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs and dispatches them to registered handlers.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload any) (string, error)
	Register(kind Kind, h Handler)
	// Start runs the worker pool until ctx is cancelled.
	Start(ctx context.Context) error
	Close() error
}

// NewJob builds a Job with a fresh id and serialized payload.
func NewJob(kind Kind, payload any) (Job, error) {
	job := Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		EnqueuedAt: time.Now().UTC(),
	}
	if payload != nil {
		data, err := jsonx.Marshal(payload)
		if err != nil {
			return Job{}, status.Wrap(status.KindInvalidInput, "encode job payload", err)
		}
		job.Payload = data
	}
	return job, nil
}

const localQueueDepth = 256

// LocalQueue is the in-process queue used when no NATS URL is configured and
// in tests. Enqueue blocks when the buffer is full, backpressuring callers.
type LocalQueue struct {
	ch       chan Job
	handlers map[Kind]Handler
	workers  int
	logger   *zap.Logger
}

// NewLocal creates a LocalQueue with the given worker count.
func NewLocal(workers int, logger *zap.Logger) *LocalQueue {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		ch:       make(chan Job, localQueueDepth),
		handlers: make(map[Kind]Handler),
		workers:  workers,
		logger:   logger.Named("jobs"),
	}
}

func (q *LocalQueue) Register(kind Kind, h Handler) {
	q.handlers[kind] = h
}

func (q *LocalQueue) Enqueue(ctx context.Context, kind Kind, payload any) (string, error) {
	if _, ok := q.handlers[kind]; !ok {
		return "", status.Ef(status.KindInvalidInput, "no handler registered for job kind %q", kind)
	}
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	select {
	case q.ch <- job:
		q.logger.Debug("job enqueued", zap.String("id", job.ID), zap.String("kind", string(kind)))
		return job.ID, nil
	case <-ctx.Done():
		return "", status.Wrap(status.KindCancelled, "enqueue interrupted", ctx.Err())
	}
}

// Start runs the workers until ctx is cancelled. Handler panics are not
// recovered; a panicking handler is a bug.
func (q *LocalQueue) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-q.ch:
					q.run(ctx, job)
				}
			}
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (q *LocalQueue) run(ctx context.Context, job Job) {
	h, ok := q.handlers[job.Kind]
	if !ok {
		q.logger.Error("job with no handler", zap.String("kind", string(job.Kind)))
		return
	}
	start := time.Now()
	if err := h(ctx, job); err != nil {
		q.logger.Error("job failed",
			zap.String("id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	q.logger.Info("job completed",
		zap.String("id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Duration("elapsed", time.Since(start)))
}

func (q *LocalQueue) Close() error {
	return nil
}
