// Package memory persists demonstrations and reinforcement feedback and
// retrieves them by semantic similarity. Storage is a local sqlite file with
// embeddings computed through the LLM backend; nearest-neighbor search runs
// in-process over the (small) collection.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkovalev/web-agent-brain/internal/llm"
)

const (
	// CollectionDemos holds recorded human demonstrations, one per task.
	CollectionDemos = "demonstrations"
	// CollectionFeedback holds signed human ratings of taken actions.
	CollectionFeedback = "rl_feedback"
)

// Record is one stored document with its embedding.
type Record struct {
	ID         string `gorm:"primaryKey"`
	Collection string `gorm:"index"`
	Document   string
	Metadata   string // JSON object
	Embedding  string // JSON []float64
	CreatedAt  time.Time
}

// Hit is one retrieval result. Lower distance means closer.
type Hit struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// Store owns the sqlite handle and the embedder.
type Store struct {
	db       *gorm.DB
	embedder llm.Embedder
	logger   zerolog.Logger
}

// Open opens (or creates) the store at path. Pass ":memory:" for tests.
func Open(path string, embedder llm.Embedder, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &Store{db: db, embedder: embedder, logger: log}, nil
}

// Add embeds the document and stores it under the collection.
func (s *Store) Add(ctx context.Context, collection, id, document string, metadata map[string]any) error {
	vec, err := s.embedder.Embed(ctx, document)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	rec := Record{
		ID:         id,
		Collection: collection,
		Document:   document,
		Metadata:   string(metaJSON),
		Embedding:  string(vecJSON),
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// QueryNearest returns up to k records of the collection ranked by cosine
// distance to the query text.
func (s *Store) QueryNearest(ctx context.Context, collection, text string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var records []Record
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		var vec []float64
		if err := json.Unmarshal([]byte(rec.Embedding), &vec); err != nil {
			s.logger.Warn().Str("id", rec.ID).Err(err).Msg("skipping record with bad embedding")
			continue
		}
		var meta map[string]any
		if rec.Metadata != "" {
			if err := json.Unmarshal([]byte(rec.Metadata), &meta); err != nil {
				s.logger.Warn().Str("id", rec.ID).Err(err).Msg("skipping record with bad metadata")
				continue
			}
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Document: rec.Document,
			Metadata: meta,
			Distance: 1.0 - cosineSimilarity(queryVec, vec),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List returns every record of the collection, newest first.
func (s *Store) List(ctx context.Context, collection string) ([]Hit, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("created_at desc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		var meta map[string]any
		if rec.Metadata != "" {
			_ = json.Unmarshal([]byte(rec.Metadata), &meta)
		}
		hits = append(hits, Hit{ID: rec.ID, Document: rec.Document, Metadata: meta})
	}
	return hits, nil
}

// Delete removes one record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no record with id %s", id)
	}
	return nil
}

// Clear drops every record of the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := s.db.WithContext(ctx).Delete(&Record{}, "collection = ?", collection).Error; err != nil {
		return fmt.Errorf("clear collection %s: %w", collection, err)
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
