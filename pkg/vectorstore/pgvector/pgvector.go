// Package pgvector implements the vector store on PostgreSQL with the
// pgvector extension, using an HNSW index in cosine space.
package pgvector

import (
	"context"
	"fmt"

	pgv "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/barekit/sage/pkg/vectorstore"
)

const batchSize = 100

// recordModel is the database schema for one stored record. The
// embedding column is created by New so the dimension stays
// configurable.
type recordModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Collection  string `gorm:"index"`
	Text        string
	SourceURL   string
	SourceTitle string
	ChunkIndex  int
	Embedding   pgv.Vector `gorm:"type:vector"`
}

// TableName overrides the table name.
func (recordModel) TableName() string {
	return "embedding_records"
}

// Store implements vectorstore.Store using PostgreSQL + pgvector.
type Store struct {
	db         *gorm.DB
	collection string
	dimension  int
}

// New connects to Postgres, enables the vector extension and prepares
// the records table and HNSW index for the given dimension.
func New(dsn, collection string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enable pgvector extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_records (
		id BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		source_title TEXT NOT NULL DEFAULT '',
		chunk_index INT NOT NULL DEFAULT 0,
		embedding vector(%d) NOT NULL
	)`, dimension)
	if err := db.Exec(createTable).Error; err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	indexStmts := []string{
		"CREATE INDEX IF NOT EXISTS embedding_records_collection_idx ON embedding_records (collection)",
		"CREATE INDEX IF NOT EXISTS embedding_records_embedding_idx ON embedding_records USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range indexStmts {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &Store{db: db, collection: collection, dimension: dimension}, nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "pgvector" }

// Add inserts records inside one transaction, in batches.
func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != s.dimension {
			return fmt.Errorf("collection holds %d-dimensional vectors, got %d: %w",
				s.dimension, len(r.Vector), vectorstore.ErrDimensionMismatch)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		models := make([]recordModel, len(records))
		for i, r := range records {
			models[i] = recordModel{
				Collection:  s.collection,
				Text:        r.Text,
				SourceURL:   r.Metadata.SourceURL,
				SourceTitle: r.Metadata.SourceTitle,
				ChunkIndex:  r.Metadata.ChunkIndex,
				Embedding:   pgv.NewVector(r.Vector),
			}
		}
		if err := tx.CreateInBatches(models, batchSize).Error; err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		return nil
	})
}

// Search orders by the <=> cosine-distance operator and returns the
// computed distance with each hit.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, collection holds %d: %w",
			len(vector), s.dimension, vectorstore.ErrDimensionMismatch)
	}

	query := pgv.NewVector(vector)
	var rows []struct {
		Text        string
		SourceURL   string
		SourceTitle string
		Distance    float64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT text, source_url, source_title, embedding <=> ? AS distance
		 FROM embedding_records
		 WHERE collection = ?
		 ORDER BY embedding <=> ?, id
		 LIMIT ?`,
		query, s.collection, query, topK,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}

	results := make([]vectorstore.Result, len(rows))
	for i, row := range rows {
		results[i] = vectorstore.Result{
			Text:        row.Text,
			SourceURL:   row.SourceURL,
			SourceTitle: row.SourceTitle,
			Distance:    row.Distance,
		}
	}
	return results, nil
}

// Clear removes every record of the collection.
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("collection = ?", s.collection).
		Delete(&recordModel{}).Error
	if err != nil {
		return fmt.Errorf("clear collection: %w", err)
	}
	return nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&recordModel{}).
		Where("collection = ?", s.collection).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}
