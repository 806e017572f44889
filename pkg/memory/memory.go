// Package memory implements the recall store behind the research
// worker. Notes recorded in one request surface in later ones through
// vector similarity search, so the team does not research the same
// ground twice.
//
// The store is an embedded chromem-go database. With a configured path
// it persists across restarts; without one it lives in process memory.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/nestor/pkg/config"
)

// Document is a recalled note with its similarity to the query.
type Document struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}

// EmbedFunc produces the vector for a piece of text. It has the same
// shape as chromem's embedding function so implementations plug into
// the collection directly.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// RecallStore records notes and recalls the ones most similar to a
// query. Collection access is safe for concurrent use.
type RecallStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	topK       int
}

// NewRecallStore opens the store described by cfg. When embed is nil
// an embedder is built from cfg.Embedder.
func NewRecallStore(cfg config.MemoryConfig, embed EmbedFunc) (*RecallStore, error) {
	cfg.SetDefaults()

	if embed == nil {
		var err error
		embed, err = NewOpenAIEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.Path, "recall"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open recall store at %s: %w", cfg.Path, err)
		}
		slog.Info("Opened recall store", "path", cfg.Path, "collection", cfg.Collection)
	} else {
		db = chromem.NewDB()
		slog.Info("Opened in-memory recall store", "collection", cfg.Collection)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", cfg.Collection, err)
	}

	return &RecallStore{
		db:         db,
		collection: collection,
		topK:       cfg.TopK,
	}, nil
}

// Record stores a note. The document ID is derived from the content,
// so recording the same note twice keeps a single copy.
func (s *RecallStore) Record(ctx context.Context, origin, content string, metadata map[string]string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if origin == "" {
		origin = "note"
	}

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["origin"] = origin
	meta["recorded_at"] = time.Now().UTC().Format(time.RFC3339)

	sum := sha256.Sum256([]byte(content))
	doc := chromem.Document{
		ID:       origin + "-" + hex.EncodeToString(sum[:6]),
		Content:  content,
		Metadata: meta,
	}

	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to record note: %w", err)
	}

	slog.Debug("Recorded note", "id", doc.ID, "origin", origin, "bytes", len(content))
	return nil
}

// Recall returns the notes most similar to the query, best match
// first. A limit of zero or less falls back to the configured top_k.
// An empty store recalls nothing rather than erroring.
func (s *RecallStore) Recall(ctx context.Context, query string, limit int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.topK
	}

	// chromem rejects queries asking for more results than the
	// collection holds.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall query failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, Document{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return docs, nil
}

// Count returns the number of stored notes.
func (s *RecallStore) Count() int {
	return s.collection.Count()
}

// Close releases the store. chromem persists on every change, so
// there is nothing to flush.
func (s *RecallStore) Close() error {
	return nil
}
