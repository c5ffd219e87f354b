// Command graphrag runs the GraphRAG engine: the HTTP API plus the
// background workers for ingestion, community detection, summarization, and
// entity resolution.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/huytu0702/graphtog/internal/cache"
	"github.com/huytu0702/graphtog/internal/chunking"
	"github.com/huytu0702/graphtog/internal/community"
	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/entity"
	"github.com/huytu0702/graphtog/internal/extract"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/jobs"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/query"
	"github.com/huytu0702/graphtog/internal/resolve"
	"github.com/huytu0702/graphtog/internal/retrieval"
	"github.com/huytu0702/graphtog/internal/server"
	"github.com/huytu0702/graphtog/internal/tog"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	inMemory := flag.Bool("in-memory", false, "run against the in-memory graph store")
	flag.Parse()

	// .env is optional; environment overrides still apply without it.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *inMemory, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, inMemory bool, logger *zap.Logger) error {
	var store graph.Store
	if inMemory {
		store = graph.NewMemStore(logger)
	} else {
		ds, err := graph.NewDgraphStore(ctx, graph.ClientConfig{
			Address:        cfg.Graph.Address,
			MaxRetries:     5,
			RetryInterval:  2 * time.Second,
			RequestTimeout: cfg.Graph.RequestTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer ds.Close()
		store = ds
	}

	gateway := llm.New(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		APIKey:            cfg.LLM.APIKey,
		MaxRetries:        cfg.LLM.MaxRetries,
		RateLimitInterval: cfg.LLM.RateLimitInterval,
		MaxConcurrent:     cfg.LLM.MaxConcurrent,
		RequestTimeout:    cfg.LLM.RequestTimeout,
	}, logger)

	index, err := entity.NewIndex(entity.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	defer index.Close()

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()
	}
	tiered, err := cache.New(cfg.Cache.L1MaxCost, cfg.Cache.TTL, rdb, logger)
	if err != nil {
		return err
	}
	defer tiered.Close()

	extractor := extract.New(gateway, store, index, cfg.Extractor, chunking.Config{
		TargetTokens:  cfg.Chunking.TargetTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		MinTokens:     cfg.Chunking.MinTokens,
	}, logger)
	resolver := resolve.New(store, gateway, cfg.EntityResolution, logger)
	detector := community.NewDetector(store, community.DefaultOptions(), logger)
	summarizer := community.NewSummarizer(store, gateway, logger)
	retriever := retrieval.New(store, logger)

	reasoner, err := tog.New(store, gateway, cfg.ToG, logger)
	if err != nil {
		return err
	}
	querySvc := query.New(store, gateway, retriever, reasoner, cfg.MapReduce, logger)

	var queue jobs.Queue
	if cfg.Jobs.NATSURL != "" {
		queue, err = jobs.NewNATS(cfg.Jobs.NATSURL, cfg.Jobs.Workers, logger)
		if err != nil {
			return err
		}
	} else {
		queue = jobs.NewLocal(cfg.Jobs.Workers, logger)
	}
	defer queue.Close()
	registerJobs(queue, extractor, resolver, detector, summarizer, tiered, cfg, logger)

	srv := server.New(cfg.Server.Addr, server.Deps{
		Store:    store,
		Query:    querySvc,
		Reasoner: reasoner,
		Ingestor: extractor,
		Search:   index,
		Jobs:     queue,
		Logger:   logger,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Start(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// registerJobs binds each background job kind to its engine operation. Every
// graph-mutating job invalidates the read caches when it finishes.
func registerJobs(queue jobs.Queue, extractor *extract.Extractor,
	resolver *resolve.Resolver, detector *community.Detector, summarizer *community.Summarizer,
	tiered *cache.Tiered, cfg *config.Config, logger *zap.Logger) {

	queue.Register(jobs.KindIngestDocument, func(ctx context.Context, job jobs.Job) error {
		var p jobs.IngestPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		result, err := extractor.IngestDocument(ctx, p.DocumentID, p.Name, p.FilePath, p.Content)
		if err != nil {
			return err
		}
		tiered.InvalidatePrefix(ctx, cache.PrefixEntity)
		tiered.InvalidatePrefix(ctx, cache.PrefixQuery)
		logger.Info("document ingested",
			zap.String("doc_id", result.DocumentID),
			zap.Int("entities", result.Entities),
			zap.Int("relations", result.Relations))

		if cfg.EntityResolution.Enabled {
			if _, err := queue.Enqueue(ctx, jobs.KindResolveEntities, jobs.ResolvePayload{}); err != nil {
				logger.Warn("follow-up resolution enqueue failed", zap.Error(err))
			}
		}
		if _, err := queue.Enqueue(ctx, jobs.KindDetectCommunity, nil); err != nil {
			logger.Warn("follow-up detection enqueue failed", zap.Error(err))
		}
		return nil
	})

	queue.Register(jobs.KindResolveEntities, func(ctx context.Context, job jobs.Job) error {
		var p jobs.ResolvePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		types := p.Types
		if len(types) == 0 {
			types = []string{""}
		}
		merged := 0
		for _, tp := range types {
			n, err := resolver.ResolveAll(ctx, tp)
			if err != nil {
				return err
			}
			merged += n
		}
		if merged > 0 {
			tiered.InvalidatePrefix(ctx, cache.PrefixEntity)
			tiered.InvalidatePrefix(ctx, cache.PrefixQuery)
		}
		logger.Info("entity resolution finished", zap.Int("merged", merged))
		return nil
	})

	queue.Register(jobs.KindDetectCommunity, func(ctx context.Context, job jobs.Job) error {
		result, err := detector.Detect(ctx)
		if err != nil {
			return err
		}
		tiered.InvalidatePrefix(ctx, cache.PrefixCommunity)
		logger.Info("communities detected",
			zap.Int("levels", result.Levels),
			zap.Int("communities", result.Communities))
		if _, err := queue.Enqueue(ctx, jobs.KindSummarize, jobs.SummarizePayload{}); err != nil {
			logger.Warn("follow-up summarize enqueue failed", zap.Error(err))
		}
		return nil
	})

	queue.Register(jobs.KindSummarize, func(ctx context.Context, job jobs.Job) error {
		var p jobs.SummarizePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		if len(p.CommunityIDs) > 0 {
			for _, id := range p.CommunityIDs {
				if err := summarizer.Summarize(ctx, id); err != nil {
					logger.Warn("community summary failed", zap.Int("community", id), zap.Error(err))
				}
			}
			tiered.InvalidatePrefix(ctx, cache.PrefixCommunity)
			return nil
		}
		ok, failed, err := summarizer.SummarizeAll(ctx)
		if err != nil {
			return err
		}
		tiered.InvalidatePrefix(ctx, cache.PrefixCommunity)
		logger.Info("community summarization finished",
			zap.Int("summarized", ok), zap.Int("failed", failed))
		return nil
	})
}
