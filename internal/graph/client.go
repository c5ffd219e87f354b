package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/dgo/v240"
	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientConfig holds configuration for the Dgraph connection.
type ClientConfig struct {
	Address        string
	MaxRetries     int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:        "localhost:9080",
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// DgraphStore implements Store against a Dgraph cluster.
type DgraphStore struct {
	conn   *grpc.ClientConn
	dg     *dgo.Dgraph
	logger *zap.Logger
	mu     sync.RWMutex
}

// timeoutInterceptor enforces a per-call deadline so slow graph queries
// cannot block request handlers indefinitely.
func timeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewDgraphStore connects to Dgraph with retries and installs the schema.
func NewDgraphStore(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*DgraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var conn *grpc.ClientConn
	var err error
	for i := 0; i < cfg.MaxRetries; i++ {
		conn, err = grpc.DialContext(ctx, cfg.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
			grpc.WithUnaryInterceptor(timeoutInterceptor(cfg.RequestTimeout)),
		)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to Dgraph, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(cfg.RetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph after %d attempts: %w", cfg.MaxRetries, err)
	}

	s := &DgraphStore{
		conn:   conn,
		dg:     dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		logger: logger.Named("graph"),
	}

	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Dgraph store connected", zap.String("address", cfg.Address))
	return s, nil
}

// Close releases the underlying connection.
func (s *DgraphStore) Close() error {
	return s.conn.Close()
}

func (s *DgraphStore) initSchema(ctx context.Context) error {
	return s.dg.Alter(ctx, &api.Operation{Schema: Schema})
}
