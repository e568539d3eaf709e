// Package qdrant implements the vector store on a Qdrant instance,
// delegating similarity search to its HNSW index in cosine space.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/barekit/sage/pkg/vectorstore"
)

// batchSize bounds the number of points per upsert request.
const batchSize = 100

// Store implements vectorstore.Store using Qdrant.
type Store struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// New connects to Qdrant and ensures the collection exists with cosine
// distance. vectorSize fixes the collection's dimension.
func New(host string, port int, collection string, vectorSize uint64) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &Store{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
	}
	if err := s.initCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	return nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "qdrant" }

// Add upserts records as points with fresh UUIDs, in batches.
func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if uint64(len(r.Vector)) != s.vectorSize {
			return fmt.Errorf("collection holds %d-dimensional vectors, got %d: %w",
				s.vectorSize, len(r.Vector), vectorstore.ErrDimensionMismatch)
		}
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: map[string]*qdrant.Value{
				"text":         qdrant.NewValueString(r.Text),
				"source_url":   qdrant.NewValueString(r.Metadata.SourceURL),
				"source_title": qdrant.NewValueString(r.Metadata.SourceTitle),
				"chunk_index":  qdrant.NewValueInt(int64(r.Metadata.ChunkIndex)),
			},
		}
	}

	wait := true
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points[start:end],
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("upsert points: %w", err)
		}
	}
	return nil
}

// Search queries the index. Qdrant reports cosine similarity as the
// score; distance is 1 - score.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	results := make([]vectorstore.Result, len(hits))
	for i, hit := range hits {
		r := vectorstore.Result{Distance: 1 - float64(hit.Score)}
		if v, ok := hit.Payload["text"]; ok {
			r.Text = v.GetStringValue()
		}
		if v, ok := hit.Payload["source_url"]; ok {
			r.SourceURL = v.GetStringValue()
		}
		if v, ok := hit.Payload["source_title"]; ok {
			r.SourceTitle = v.GetStringValue()
		}
		results[i] = r
	}
	return results, nil
}

// Clear drops and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return s.initCollection(ctx)
}

// Count reports the exact number of stored points.
func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(n), nil
}
