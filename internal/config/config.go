// Package config holds the typed configuration for the GraphRAG engine.
// Values come from an optional YAML file with environment overrides; unknown
// YAML keys are rejected at the boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration record.
type Config struct {
	LLM              LLMConfig              `yaml:"llm"`
	Chunking         ChunkingConfig         `yaml:"chunking"`
	Extractor        ExtractorConfig        `yaml:"extractor"`
	EntityResolution EntityResolutionConfig `yaml:"entity_resolution"`
	MapReduce        MapReduceConfig        `yaml:"mapreduce"`
	ToG              ToGConfig              `yaml:"tog"`
	Graph            GraphConfig            `yaml:"graph"`
	Cache            CacheConfig            `yaml:"cache"`
	Jobs             JobsConfig             `yaml:"jobs"`
	Server           ServerConfig           `yaml:"server"`
}

// LLMConfig configures the gateway to the generative model.
type LLMConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	APIKey            string        `yaml:"api_key"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
	MaxConcurrent     int64         `yaml:"max_concurrent"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// ChunkingConfig configures the token-bounded chunker.
type ChunkingConfig struct {
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
	MinTokens     int `yaml:"min_tokens"`
}

// ExtractorConfig configures batch extraction.
type ExtractorConfig struct {
	BatchParallelism     int `yaml:"batch_parallelism"`
	TwoPassMaxIterations int `yaml:"two_pass_max_iterations"`
}

// EntityResolutionConfig configures deduplication. AutoMergeThreshold is the
// LLM judgement confidence required to merge a confirmed duplicate without an
// operator.
type EntityResolutionConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	AutoMergeThreshold  float64 `yaml:"auto_merge_threshold"`
}

// MapReduceConfig gates the global map-reduce answer path.
type MapReduceConfig struct {
	Enabled            bool `yaml:"enabled"`
	BatchSize          int  `yaml:"batch_size"`
	CommunityThreshold int  `yaml:"community_threshold"`
}

// ToGConfig configures the Tree-of-Graphs reasoner.
type ToGConfig struct {
	SearchWidth            int     `yaml:"search_width"`
	SearchDepth            int     `yaml:"search_depth"`
	NumRetainEntity        int     `yaml:"num_retain_entity"`
	ExplorationTemp        float64 `yaml:"exploration_temp"`
	ReasoningTemp          float64 `yaml:"reasoning_temp"`
	PruningMethod          string  `yaml:"pruning_method"`
	EnableSufficiencyCheck bool    `yaml:"enable_sufficiency_check"`
}

// GraphConfig configures the Dgraph connection.
type GraphConfig struct {
	Address            string        `yaml:"address"`
	PoolSize           int           `yaml:"pool_size"`
	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// CacheConfig configures the optional cache tiers.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	L1MaxCost int64         `yaml:"l1_max_cost"`
}

// JobsConfig configures the background job queue.
type JobsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Workers int    `yaml:"workers"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:           "http://localhost:11434/v1",
			Model:             "llama3.2",
			EmbeddingModel:    "nomic-embed-text",
			RateLimitInterval: 100 * time.Millisecond,
			MaxConcurrent:     8,
			MaxRetries:        3,
			RequestTimeout:    180 * time.Second,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  1000,
			OverlapTokens: 500,
			MinTokens:     100,
		},
		Extractor: ExtractorConfig{
			BatchParallelism:     4,
			TwoPassMaxIterations: 1,
		},
		EntityResolution: EntityResolutionConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			AutoMergeThreshold:  0.9,
		},
		MapReduce: MapReduceConfig{
			Enabled:            true,
			BatchSize:          10,
			CommunityThreshold: 20,
		},
		ToG: ToGConfig{
			SearchWidth:            3,
			SearchDepth:            3,
			NumRetainEntity:        5,
			ExplorationTemp:        0.4,
			ReasoningTemp:          0.0,
			PruningMethod:          "llm",
			EnableSufficiencyCheck: true,
		},
		Graph: GraphConfig{
			Address:            "localhost:9080",
			PoolSize:           10,
			AcquisitionTimeout: 5 * time.Second,
			RequestTimeout:     10 * time.Second,
		},
		Cache: CacheConfig{
			TTL:       5 * time.Minute,
			L1MaxCost: 10000,
		},
		Jobs: JobsConfig{
			Workers: 2,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	if ms, ok := envInt("LLM_RATE_LIMIT_INTERVAL_MS"); ok {
		c.LLM.RateLimitInterval = time.Duration(ms) * time.Millisecond
	}
	setInt(&c.Extractor.BatchParallelism, "EXTRACTOR_BATCH_PARALLELISM")
	setInt(&c.Extractor.TwoPassMaxIterations, "EXTRACTOR_TWO_PASS_MAX_ITERATIONS")
	setInt(&c.Chunking.TargetTokens, "CHUNKING_TARGET_TOKENS")
	setInt(&c.Chunking.OverlapTokens, "CHUNKING_OVERLAP_TOKENS")
	setInt(&c.Chunking.MinTokens, "CHUNKING_MIN_TOKENS")
	setBool(&c.EntityResolution.Enabled, "ENTITY_RESOLUTION_ENABLED")
	setFloat(&c.EntityResolution.SimilarityThreshold, "ENTITY_RESOLUTION_SIMILARITY_THRESHOLD")
	setFloat(&c.EntityResolution.AutoMergeThreshold, "ENTITY_RESOLUTION_AUTO_MERGE_THRESHOLD")
	setBool(&c.MapReduce.Enabled, "MAPREDUCE_ENABLED")
	setInt(&c.MapReduce.BatchSize, "MAPREDUCE_BATCH_SIZE")
	setInt(&c.MapReduce.CommunityThreshold, "MAPREDUCE_COMMUNITY_THRESHOLD")
	setInt(&c.ToG.SearchWidth, "TOG_SEARCH_WIDTH")
	setInt(&c.ToG.SearchDepth, "TOG_SEARCH_DEPTH")
	setInt(&c.ToG.NumRetainEntity, "TOG_NUM_RETAIN_ENTITY")
	setFloat(&c.ToG.ExplorationTemp, "TOG_EXPLORATION_TEMP")
	setFloat(&c.ToG.ReasoningTemp, "TOG_REASONING_TEMP")
	setString(&c.ToG.PruningMethod, "TOG_PRUNING_METHOD")
	setBool(&c.ToG.EnableSufficiencyCheck, "TOG_ENABLE_SUFFICIENCY_CHECK")
	setString(&c.Graph.Address, "GRAPH_ADDRESS")
	setInt(&c.Graph.PoolSize, "GRAPH_POOL_SIZE")
	if s, ok := envInt("GRAPH_ACQUISITION_TIMEOUT_S"); ok {
		c.Graph.AcquisitionTimeout = time.Duration(s) * time.Second
	}
	setString(&c.Cache.RedisAddr, "REDIS_ADDR")
	setString(&c.Jobs.NATSURL, "NATS_URL")
	setInt(&c.Jobs.Workers, "JOBS_WORKERS")
	setString(&c.Server.Addr, "SERVER_ADDR")
}

// Validate rejects out-of-range options before anything is wired.
func (c *Config) Validate() error {
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive, got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, target_tokens), got %d", c.Chunking.OverlapTokens)
	}
	if c.Chunking.MinTokens <= 0 || c.Chunking.MinTokens > c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.min_tokens must be in (0, target_tokens], got %d", c.Chunking.MinTokens)
	}
	if c.Extractor.BatchParallelism <= 0 {
		return fmt.Errorf("extractor.batch_parallelism must be positive, got %d", c.Extractor.BatchParallelism)
	}
	if c.Extractor.TwoPassMaxIterations < 0 || c.Extractor.TwoPassMaxIterations > 3 {
		return fmt.Errorf("extractor.two_pass_max_iterations must be in [0, 3], got %d", c.Extractor.TwoPassMaxIterations)
	}
	if t := c.EntityResolution.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("entity_resolution.similarity_threshold must be in [0, 1], got %g", t)
	}
	if t := c.EntityResolution.AutoMergeThreshold; t < 0 || t > 1 {
		return fmt.Errorf("entity_resolution.auto_merge_threshold must be in [0, 1], got %g", t)
	}
	if c.ToG.SearchDepth < 1 || c.ToG.SearchDepth > 5 {
		return fmt.Errorf("tog.search_depth must be in [1, 5], got %d", c.ToG.SearchDepth)
	}
	if c.ToG.SearchWidth < 1 {
		return fmt.Errorf("tog.search_width must be positive, got %d", c.ToG.SearchWidth)
	}
	if c.ToG.NumRetainEntity < 1 {
		return fmt.Errorf("tog.num_retain_entity must be positive, got %d", c.ToG.NumRetainEntity)
	}
	switch c.ToG.PruningMethod {
	case "llm", "bm25", "sentence_bert":
	default:
		return fmt.Errorf("tog.pruning_method must be one of llm, bm25, sentence_bert; got %q", c.ToG.PruningMethod)
	}
	if c.MapReduce.BatchSize <= 0 {
		return fmt.Errorf("mapreduce.batch_size must be positive, got %d", c.MapReduce.BatchSize)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := envInt(key); ok {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
