package jobs

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

const (
	subjectPrefix = "graphrag.jobs."
	workerGroup   = "graphrag-workers"
	natsPending   = 512
)

// NATSQueue distributes jobs over NATS so multiple instances share the
// background load. Each kind maps to one subject; workers join a queue group
// so a job runs on exactly one instance.
type NATSQueue struct {
	conn     *nats.Conn
	handlers map[Kind]Handler
	workers  int
	logger   *zap.Logger

	ch   chan Job
	subs []*nats.Subscription
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string, workers int, logger *zap.Logger) (*NATSQueue, error) {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("graphrag-jobs"),
	)
	if err != nil {
		return nil, status.Wrap(status.KindInternal, "connect to nats", err)
	}
	return &NATSQueue{
		conn:     conn,
		handlers: make(map[Kind]Handler),
		workers:  workers,
		logger:   logger.Named("jobs_nats"),
		ch:       make(chan Job, natsPending),
	}, nil
}

func subject(kind Kind) string {
	return subjectPrefix + string(kind)
}

func (q *NATSQueue) Register(kind Kind, h Handler) {
	q.handlers[kind] = h
}

func (q *NATSQueue) Enqueue(ctx context.Context, kind Kind, payload any) (string, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	data, err := jsonx.Marshal(job)
	if err != nil {
		return "", status.Wrap(status.KindInternal, "encode job", err)
	}
	if err := q.conn.Publish(subject(kind), data); err != nil {
		return "", status.Wrap(status.KindInternal, "publish job", err)
	}
	q.logger.Debug("job published", zap.String("id", job.ID), zap.String("kind", string(kind)))
	return job.ID, nil
}

// Start subscribes every registered kind and runs the worker pool until ctx
// is cancelled.
func (q *NATSQueue) Start(ctx context.Context) error {
	for kind := range q.handlers {
		sub, err := q.conn.QueueSubscribe(subject(kind), workerGroup, func(msg *nats.Msg) {
			var job Job
			if err := jsonx.Unmarshal(msg.Data, &job); err != nil {
				q.logger.Error("undecodable job dropped", zap.Error(err))
				return
			}
			select {
			case q.ch <- job:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return status.Wrap(status.KindInternal, "subscribe "+string(kind), err)
		}
		q.subs = append(q.subs, sub)
	}

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

func (q *NATSQueue) run(ctx context.Context, job Job) {
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

func (q *NATSQueue) Close() error {
	for _, sub := range q.subs {
		if err := sub.Unsubscribe(); err != nil {
			q.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	q.conn.Close()
	return nil
}
