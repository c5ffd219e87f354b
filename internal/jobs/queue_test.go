package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/status"
)

func TestLocalQueueRunsJobs(t *testing.T) {
	q := NewLocal(2, zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 3)
	q.Register(KindIngestDocument, func(ctx context.Context, job Job) error {
		var p IngestPayload
		require.NoError(t, job.Decode(&p))
		mu.Lock()
		got = append(got, p.DocumentID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, q.Start(ctx))
	}()

	for _, id := range []string{"d1", "d2", "d3"} {
		_, err := q.Enqueue(ctx, KindIngestDocument, IngestPayload{DocumentID: id, Content: "x"})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, got)
}

func TestLocalQueueRejectsUnregisteredKind(t *testing.T) {
	q := NewLocal(1, zaptest.NewLogger(t))
	_, err := q.Enqueue(context.Background(), KindSummarize, nil)
	require.Error(t, err)
	assert.Equal(t, status.KindInvalidInput, status.KindOf(err))
}

func TestLocalQueueFailedJobDoesNotStopWorkers(t *testing.T) {
	q := NewLocal(1, zaptest.NewLogger(t))

	done := make(chan string, 2)
	q.Register(KindResolveEntities, func(ctx context.Context, job Job) error {
		var p ResolvePayload
		require.NoError(t, job.Decode(&p))
		done <- p.Types[0]
		if p.Types[0] == "bad" {
			return errors.New("resolution blew up")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Start(ctx) }()

	_, err := q.Enqueue(ctx, KindResolveEntities, ResolvePayload{Types: []string{"bad"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, KindResolveEntities, ResolvePayload{Types: []string{"good"}})
	require.NoError(t, err)

	var seen []string
	for i := 0; i < 2; i++ {
		select {
		case v := <-done:
			seen = append(seen, v)
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped after failed job")
		}
	}
	assert.ElementsMatch(t, []string{"bad", "good"}, seen)
}

func TestJobRoundTrip(t *testing.T) {
	job, err := NewJob(KindSummarize, SummarizePayload{CommunityIDs: []int{1, 2}})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())

	var p SummarizePayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, []int{1, 2}, p.CommunityIDs)
}
