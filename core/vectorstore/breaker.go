package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name             string
	MinRequests      uint32
	FailureThreshold float64
	OpenTimeout      time.Duration
	Interval         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "vector-store",
		MinRequests:      5,
		FailureThreshold: 0.6,
		OpenTimeout:      30 * time.Second,
		Interval:         time.Minute,
	}
}

// Breaker trips after repeated vector failures so that searches fall back to
// text immediately instead of waiting out each timeout.
type Breaker struct {
	inner VectorStore
	cb    *gobreaker.CircuitBreaker
}

func NewBreaker(inner VectorStore, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "vector-store"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the backend
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Upsert(ctx context.Context, id, text string, meta Metadata) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Upsert(ctx, id, text, meta)
	})
	return wrapBreakerErr(err)
}

func (b *Breaker) Delete(ctx context.Context, id string) error {
	return b.inner.Delete(ctx, id)
}

func (b *Breaker) SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]Match, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.SimilarityQuery(ctx, text, k, threshold, filters)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	matches, _ := res.([]Match)
	return matches, nil
}

// State returns closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Len() int {
	n, _ := Len(b.inner)
	return n
}

func (b *Breaker) Close() error {
	return Close(b.inner)
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}
