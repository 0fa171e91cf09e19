package domain

import "time"

// IndexedChunk is the persisted representation of one embedded text chunk.
// ScrapeID is the tenant key; no query may cross it.
type IndexedChunk struct {
	ID         string
	ScrapeID   string
	Locator    string
	Title      string
	ChunkIndex int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// RawHit is a single vector-store match before reranking.
type RawHit struct {
	ChunkID string
	Locator string
	Title   string
	Content string
	Score   float32
}
