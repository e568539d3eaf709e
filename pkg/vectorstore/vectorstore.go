package vectorstore

import (
	"context"
	"errors"
)

// Metadata carries the provenance of a stored text fragment.
type Metadata struct {
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title"`
	ChunkIndex  int    `json:"chunk_index"`
}

// Record is a single stored (vector, text, metadata) triple.
type Record struct {
	Vector   []float32 `json:"vector"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// Result is a single search hit. Distance is the cosine distance to the
// query vector: 0 means identical direction, 2 means opposite.
type Result struct {
	Text        string  `json:"text"`
	SourceURL   string  `json:"source_url"`
	SourceTitle string  `json:"source_title"`
	Distance    float64 `json:"distance"`
}

// ErrDimensionMismatch is returned when an operation would mix vector
// dimensions within a single collection. A collection holds vectors of
// exactly one dimension; anything else is a corruption state and is
// rejected before it reaches persistent storage.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Store is the interface for storing embedding vectors and answering
// top-k cosine-distance queries.
//
// Implementations must return Search results ordered by ascending
// distance and must treat an empty collection as an empty result, not
// an error. Searching for more results than the collection holds
// returns every record.
type Store interface {
	// Add appends records to the collection. Empty input is a no-op.
	// Records whose dimension differs from the collection's established
	// dimension are rejected before anything is persisted. From the
	// caller's perspective the append is atomic: either every record is
	// durable or none are.
	Add(ctx context.Context, records []Record) error

	// Search returns the min(topK, Count) records nearest to vector.
	Search(ctx context.Context, vector []float32, topK int) ([]Result, error)

	// Clear durably removes every record in the collection.
	Clear(ctx context.Context) error

	// Count reports the exact number of stored records.
	Count(ctx context.Context) (int, error)

	// Name identifies the active backend, e.g. "local" or "qdrant".
	Name() string
}
