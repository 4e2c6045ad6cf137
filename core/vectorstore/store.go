// Package vectorstore holds record embeddings and answers similarity queries.
package vectorstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/adalundhe/recall/core/memory"
)

var (
	ErrEmptyID           = errors.New("vector id cannot be empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStoreClosed       = errors.New("vector store closed")
	ErrCircuitOpen       = errors.New("vector store circuit open")
	ErrUnknownBackend    = errors.New("unknown vector backend")
)

// VectorStore is the similarity index consulted by search and fed by
// ingestion. Implementations embed text themselves.
type VectorStore interface {
	Upsert(ctx context.Context, id, text string, meta Metadata) error
	Delete(ctx context.Context, id string) error
	SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]Match, error)
}

// BatchUpserter is implemented by stores that can write many vectors with
// one embedding call.
type BatchUpserter interface {
	UpsertBatch(ctx context.Context, items []Item) error
}

// Match is one similarity hit. Similarity is cosine similarity clamped to
// [0,1].
type Match struct {
	ID         string
	Similarity float64
}

// Item is a pending upsert.
type Item struct {
	ID   string
	Text string
	Meta Metadata
}

// Metadata is the record state stored beside a vector so that filters can be
// evaluated without a TextStore round trip.
type Metadata struct {
	Kind      memory.Kind `json:"kind"`
	Tags      []string    `json:"tags,omitempty"`
	Project   string      `json:"project,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func MetadataOf(r memory.Record) Metadata {
	return Metadata{
		Kind:      r.Kind,
		Tags:      r.Tags,
		Project:   strings.ToLower(r.Attributes[memory.AttrProject]),
		UpdatedAt: r.UpdatedAt,
	}
}

func (m Metadata) matches(f memory.Filters) bool {
	return f.Matches(m.Kind, m.Tags, m.Project, m.UpdatedAt)
}

// Close flushes and closes s when it holds resources.
func Close(s VectorStore) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Len reports the number of stored vectors when s can tell.
func Len(s VectorStore) (int, bool) {
	type lener interface{ Len() int }
	if l, ok := s.(lener); ok {
		return l.Len(), true
	}
	return 0, false
}
