package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/vectorstore/embedder"
)

// Backend names a concrete vector store implementation.
type Backend string

const (
	BackendLegacy Backend = "legacy"
	BackendModern Backend = "modern"
)

type Config struct {
	Backend       Backend
	BatchSize     int
	FlushInterval time.Duration
	Breaker       *BreakerConfig
	Logger        *slog.Logger
}

// Open builds the process-wide vector store. The backend is chosen here
// once; callers only ever see the VectorStore interface. pool is required
// for the modern backend.
func Open(ctx context.Context, cfg Config, emb embedder.Embedder, pool *database.Pool) (VectorStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var store VectorStore
	switch cfg.Backend {
	case BackendLegacy:
		store = NewMemoryStore(emb)
	case BackendModern, "":
		if pool == nil {
			return nil, fmt.Errorf("modern vector backend needs a database pool")
		}
		s, err := OpenSQLiteStore(ctx, pool, emb, logger)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	if cfg.BatchSize > 1 {
		store = NewBatcher(store, cfg.BatchSize, cfg.FlushInterval, logger)
	}
	if cfg.Breaker != nil {
		store = NewBreaker(store, *cfg.Breaker, logger)
	}

	logger.Debug("vector store opened", "backend", string(cfg.Backend), "batch_size", cfg.BatchSize, "breaker", cfg.Breaker != nil)
	return store, nil
}
