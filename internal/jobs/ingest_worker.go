package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/opalhq/opal/internal/domain"
)

// ClaimBatchSize is the maximum number of groups claimed per poll.
const ClaimBatchSize = 4

// GroupClaimer atomically claims idle groups for processing.
type GroupClaimer interface {
	ClaimIdle(ctx context.Context, limit int) ([]*domain.KnowledgeGroup, error)
}

// IngestRunner runs one claimed group end to end.
type IngestRunner interface {
	Run(ctx context.Context, group *domain.KnowledgeGroup) error
}

// IngestWorker claims idle knowledge groups and runs them. Independent
// groups share no mutable state, so a claimed batch runs concurrently.
type IngestWorker struct {
	claimer GroupClaimer
	runner  IngestRunner
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(claimer GroupClaimer, runner IngestRunner) *IngestWorker {
	return &IngestWorker{
		claimer: claimer,
		runner:  runner,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	groups, err := w.claimer.ClaimIdle(ctx, ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim idle groups: %w", err)
	}

	if len(groups) == 0 {
		return nil
	}

	log.Printf("Processing %d claimed knowledge groups", len(groups))

	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(g *domain.KnowledgeGroup) {
			defer wg.Done()
			log.Printf("Processing group %s (source %s, tenant %s)", g.ID, g.Source, g.ScrapeID)
			if err := w.runner.Run(ctx, g); err != nil {
				log.Printf("Error processing group %s: %v", g.ID, err)
			}
		}(group)
	}
	wg.Wait()

	return nil
}
