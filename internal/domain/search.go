package domain

// SearchResult is a reranked, deduplicated retrieval hit handed to the
// agent. FetchID is a per-query identifier the model can cite; results are
// never persisted.
type SearchResult struct {
	Locator string  `json:"locator"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
	FetchID string  `json:"fetch_id"`
}
