package index

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/opalhq/opal/internal/domain"
)

const termOverlapMaxBoost = 0.1

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "we": {}, "our": {}, "you": {},
	"your": {}, "i": {}, "me": {}, "my": {}, "us": {}, "them": {}, "they": {}, "their": {}, "do": {},
	"does": {}, "did": {}, "what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "may": {}, "might": {}, "will": {}, "shall": {},
}

// Process reranks raw hits into the result set handed to the agent:
// multiple chunks from the same locator collapse into the best one, scores
// get a small query-term-overlap boost and are clamped into [0, 1], and the
// minScore threshold prunes only after reranking so the full candidate set
// informs the collapse.
func Process(query string, hits []domain.RawHit, minScore float32) []domain.SearchResult {
	if len(hits) == 0 {
		return []domain.SearchResult{}
	}

	terms := queryTerms(query)

	best := make(map[string]domain.RawHit, len(hits))
	order := make([]string, 0, len(hits))
	scored := make(map[string]float32, len(hits))
	for _, h := range hits {
		score := clampScore(h.Score + overlapBoost(terms, h.Content))
		if _, ok := best[h.Locator]; !ok {
			order = append(order, h.Locator)
			best[h.Locator] = h
			scored[h.Locator] = score
			continue
		}
		if score > scored[h.Locator] {
			best[h.Locator] = h
			scored[h.Locator] = score
		}
	}

	results := make([]domain.SearchResult, 0, len(order))
	for _, locator := range order {
		h := best[locator]
		score := scored[locator]
		if score < minScore {
			continue
		}
		results = append(results, domain.SearchResult{
			Locator: h.Locator,
			Content: h.Content,
			Score:   score,
			FetchID: uuid.NewString(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// queryTerms lowercases and strips stopwords from the query.
func queryTerms(query string) []string {
	var terms []string
	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.Trim(token, `.,;:!?"'()[]{}`)
		if token == "" {
			continue
		}
		if _, ok := stopwords[token]; ok {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// overlapBoost rewards hits whose content mentions the query's terms.
func overlapBoost(terms []string, content string) float32 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return termOverlapMaxBoost * float32(matched) / float32(len(terms))
}

func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
