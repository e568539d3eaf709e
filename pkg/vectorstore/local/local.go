// Package local implements an exact, brute-force vector store. Records
// live in memory and are persisted through SQLite so the collection
// survives restarts.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/barekit/sage/pkg/vectorstore"
)

// epsilon guards the cosine denominator against all-zero vectors.
const epsilon = 1e-10

// batchSize bounds the number of rows written per insert statement.
// Batching is a write-path detail; the transaction keeps the Add atomic.
const batchSize = 100

// recordModel is the database schema for one stored record.
type recordModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Collection  string `gorm:"index"`
	Vector      []byte // JSON-encoded []float32
	Text        string
	SourceURL   string
	SourceTitle string
	ChunkIndex  int
}

// TableName overrides the table name.
func (recordModel) TableName() string {
	return "embedding_records"
}

// Store is an in-memory linear-scan store backed by a SQLite file at
// (dbPath, collection). Safe for concurrent use.
type Store struct {
	collection string
	logger     *slog.Logger

	mu      sync.RWMutex
	db      *gorm.DB // nil when the backing store could not be opened
	vectors [][]float32
	records []vectorstore.Record
	dim     int
}

// New opens (or creates) the collection persisted under dbPath. A
// missing or unreadable backing store degrades to an empty collection
// with a logged warning; it is never a construction error.
func New(dbPath, collection string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{collection: collection, logger: log}

	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		log.Warn("could not create database directory, collection will not be persisted",
			"path", dbPath, "error", err)
		return s
	}

	file := filepath.Join(dbPath, collection+".db")
	db, err := gorm.Open(sqlite.Open(file), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Warn("could not open backing store, starting with an empty collection",
			"file", file, "error", err)
		return s
	}
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		log.Warn("could not migrate backing store, starting with an empty collection",
			"file", file, "error", err)
		return s
	}
	s.db = db
	s.load()
	return s
}

// load reads every persisted record into memory. Unreadable state
// recovers to an empty collection: availability wins over surfacing
// the loss.
func (s *Store) load() {
	var models []recordModel
	err := s.db.Where("collection = ?", s.collection).Order("id asc").Find(&models).Error
	if err != nil {
		s.logger.Warn("could not load collection, resetting to empty",
			"collection", s.collection, "error", err)
		_ = s.db.Where("collection = ?", s.collection).Delete(&recordModel{}).Error
		return
	}

	for _, m := range models {
		var vec []float32
		if err := json.Unmarshal(m.Vector, &vec); err != nil || len(vec) == 0 {
			s.logger.Warn("skipping unreadable record", "id", m.ID, "error", err)
			continue
		}
		if s.dim == 0 {
			s.dim = len(vec)
		}
		if len(vec) != s.dim {
			s.logger.Warn("skipping record with mismatched dimension",
				"id", m.ID, "want", s.dim, "got", len(vec))
			continue
		}
		s.vectors = append(s.vectors, vec)
		s.records = append(s.records, vectorstore.Record{
			Vector: vec,
			Text:   m.Text,
			Metadata: vectorstore.Metadata{
				SourceURL:   m.SourceURL,
				SourceTitle: m.SourceTitle,
				ChunkIndex:  m.ChunkIndex,
			},
		})
	}
	if len(s.records) > 0 {
		s.logger.Info("loaded collection from disk",
			"collection", s.collection, "records", len(s.records))
	}
}

// Name identifies the backend.
func (s *Store) Name() string { return "local" }

// Add appends records. The whole batch is validated against the
// collection's dimension first and written in a single transaction, so
// a write failure leaves nothing behind.
func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("record has empty vector: %w", vectorstore.ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("collection holds %d-dimensional vectors, got %d: %w",
				dim, len(r.Vector), vectorstore.ErrDimensionMismatch)
		}
	}

	if s.db != nil {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			models := make([]recordModel, len(records))
			for i, r := range records {
				vec, err := json.Marshal(r.Vector)
				if err != nil {
					return fmt.Errorf("encode vector: %w", err)
				}
				models[i] = recordModel{
					Collection:  s.collection,
					Vector:      vec,
					Text:        r.Text,
					SourceURL:   r.Metadata.SourceURL,
					SourceTitle: r.Metadata.SourceTitle,
					ChunkIndex:  r.Metadata.ChunkIndex,
				}
			}
			return tx.CreateInBatches(models, batchSize).Error
		})
		if err != nil {
			return fmt.Errorf("persist records: %w", err)
		}
	}

	s.dim = dim
	for _, r := range records {
		s.vectors = append(s.vectors, r.Vector)
		s.records = append(s.records, r)
	}
	return nil
}

// Search scans every stored vector and returns the topK nearest by
// cosine distance. Ties keep insertion order.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	if s.dim != 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("query vector has dimension %d, collection holds %d: %w",
			len(vector), s.dim, vectorstore.ErrDimensionMismatch)
	}

	distances := make([]float64, len(s.vectors))
	for i, v := range s.vectors {
		distances[i] = cosineDistance(vector, v)
	}

	order := make([]int, len(distances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] < distances[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}
	results := make([]vectorstore.Result, topK)
	for i := 0; i < topK; i++ {
		j := order[i]
		r := s.records[j]
		results[i] = vectorstore.Result{
			Text:        r.Text,
			SourceURL:   r.Metadata.SourceURL,
			SourceTitle: r.Metadata.SourceTitle,
			Distance:    distances[j],
		}
	}
	return results, nil
}

// Clear removes every record in the collection, durably.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.WithContext(ctx).
			Where("collection = ?", s.collection).
			Delete(&recordModel{}).Error
		if err != nil {
			return fmt.Errorf("clear collection: %w", err)
		}
	}
	s.vectors = nil
	s.records = nil
	s.dim = 0
	s.logger.Info("collection cleared", "collection", s.collection)
	return nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// cosineDistance is 1 - cosine similarity. Each norm gets an epsilon so
// an all-zero vector yields a defined (maximal) distance instead of a
// division by zero.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return 1 - dot/((math.Sqrt(normA)+epsilon)*(math.Sqrt(normB)+epsilon))
}
