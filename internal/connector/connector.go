// Package connector normalizes heterogeneous knowledge sources into a
// uniform content stream. Each connector owns its source client and
// pagination loop; shared filtering, progress math, and per-item error
// isolation live in the runner helper every implementation calls
// explicitly.
package connector

import (
	"context"

	"github.com/opalhq/opal/internal/domain"
)

// Sink receives connector output. Emit hands over one normalized item,
// Progress reports (completed, remaining) over the filtered set once per
// attempted item, and Error isolates a single item's failure without
// aborting the run.
type Sink interface {
	Emit(ctx context.Context, item domain.ContentItem) error
	Progress(ev domain.ProgressEvent)
	Error(locator string, err error)
}

// CreditGate is the external budget check consulted before a run starts.
type CreditGate interface {
	HasBudget(ctx context.Context, scrapeID string) bool
}

// Connector turns one source type's native pagination into a content stream.
type Connector interface {
	Type() domain.SourceType
	Process(ctx context.Context, group *domain.KnowledgeGroup, sink Sink) error
}

// Registry maps source types to their connector.
type Registry struct {
	connectors map[domain.SourceType]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[domain.SourceType]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Type()] = c
	}
	return r
}

// For returns the connector for a source type.
func (r *Registry) For(source domain.SourceType) (Connector, error) {
	c, ok := r.connectors[source]
	if !ok {
		return nil, domain.ErrInvalidSourceType
	}
	return c, nil
}
