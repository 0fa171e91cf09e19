package tools

// DefaultQueryCap is the number of retrieval calls one turn may make.
const DefaultQueryCap = 5

// QueryBudget is the ordered set of queries issued during one agent turn.
// It lives for exactly one turn and is discarded afterwards; tool calls
// within a turn are sequential, so no locking is needed.
type QueryBudget struct {
	cap     int
	queries []string
}

// NewQueryBudget returns a budget with the default capacity.
func NewQueryBudget() *QueryBudget {
	return &QueryBudget{cap: DefaultQueryCap}
}

// Seen reports whether the exact query string was already issued this turn.
func (b *QueryBudget) Seen(query string) bool {
	for _, q := range b.queries {
		if q == query {
			return true
		}
	}
	return false
}

// Exhausted reports whether the turn has used up its retrieval calls.
func (b *QueryBudget) Exhausted() bool {
	return len(b.queries) >= b.cap
}

// Record adds an accepted query to the budget.
func (b *QueryBudget) Record(query string) {
	b.queries = append(b.queries, query)
}

// Len returns the number of accepted queries so far.
func (b *QueryBudget) Len() int {
	return len(b.queries)
}
