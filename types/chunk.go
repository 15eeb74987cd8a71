package types

import (
	"fmt"
	"time"
)

// ChunkCategory identifies the structural category a chunk was derived from.
// Every chunk belongs to exactly one category; categories are never mixed
// within a chunk.
type ChunkCategory string

const (
	ChunkHeader      ChunkCategory = "header"
	ChunkInteractive ChunkCategory = "interactive"
	ChunkForms       ChunkCategory = "forms"
	ChunkPopups      ChunkCategory = "popups"
	ChunkContent     ChunkCategory = "content"
	ChunkHistory     ChunkCategory = "history"
)

// Chunk is a retrieval-addressable fragment derived from exactly one
// PageSnapshot. SnapshotRef is a lookup key back to the owning snapshot,
// never an owning pointer: deleting a snapshot is an explicit operation
// that also removes its chunks.
type Chunk struct {
	ID          string        `json:"id"`
	SnapshotRef string        `json:"snapshot_ref"`
	Category    ChunkCategory `json:"category"`
	Text        string        `json:"text"`
	Embedding   []float64     `json:"embedding,omitempty"`
	Domain      string        `json:"domain"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ChunkID derives the stable chunk identifier from the owning snapshot ID
// and the chunk's position within the snapshot.
func ChunkID(snapshotID string, index int) string {
	return fmt.Sprintf("%s:%d", snapshotID, index)
}

// PageResult is one retrieved page: all chunks belonging to the same
// snapshot collapse into a single result scored by the best chunk match.
type PageResult struct {
	SnapshotID      string               `json:"snapshot_id"`
	URL             string               `json:"url"`
	Title           string               `json:"title,omitempty"`
	TaskContext     string               `json:"task_context,omitempty"`
	Domain          string               `json:"domain"`
	Timestamp       time.Time            `json:"timestamp"`
	Elements        []InteractiveElement `json:"elements,omitempty"`
	SimilarityScore float64              `json:"similarity_score"`
}

// SelectorStat is the per-selector success aggregate computed at query time
// from retrieved snapshots. It is a derived view, never persisted.
type SelectorStat struct {
	Selector     string  `json:"selector"`
	ElementType  string  `json:"element_type"`
	SuccessCount int     `json:"success_count"`
	AttemptCount int     `json:"attempt_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// StoreStats summarizes the current contents of a store.
type StoreStats struct {
	Snapshots         int            `json:"snapshots"`
	Chunks            int            `json:"chunks"`
	ByDomain          map[string]int `json:"by_domain,omitempty"`
	Actions           int            `json:"actions"`
	SuccessfulActions int            `json:"successful_actions"`
}
