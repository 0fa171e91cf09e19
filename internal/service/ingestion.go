package service

import (
	"context"
	"log"
	"sync"

	"github.com/opalhq/opal/internal/connector"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/telemetry"
)

// DocumentStoreInterface is the persistence collaborator for ingested items
type DocumentStoreInterface interface {
	Upsert(ctx context.Context, scrapeID string, item domain.ContentItem) error
}

// IndexerInterface turns one content item into searchable chunks
type IndexerInterface interface {
	Index(ctx context.Context, scrapeID string, item domain.ContentItem) error
}

// ArchiverInterface stores raw item text for audit; optional
type ArchiverInterface interface {
	PutSnapshot(ctx context.Context, scrapeID, locator, text string) error
}

// DefaultIngestParallelism bounds per-item embedding/upsert work so source
// and embedding API rate limits hold.
const DefaultIngestParallelism = 4

// IngestionService runs one knowledge group end to end: connector stream in,
// documents plus index chunks out, progress persisted on the group row.
type IngestionService struct {
	registry    *connector.Registry
	groups      GroupRepositoryInterface
	documents   DocumentStoreInterface
	indexer     IndexerInterface
	archive     ArchiverInterface
	parallelism int
}

func NewIngestionService(
	registry *connector.Registry,
	groups GroupRepositoryInterface,
	documents DocumentStoreInterface,
	indexer IndexerInterface,
	archive ArchiverInterface,
	parallelism int,
) *IngestionService {
	if parallelism <= 0 {
		parallelism = DefaultIngestParallelism
	}
	return &IngestionService{
		registry:    registry,
		groups:      groups,
		documents:   documents,
		indexer:     indexer,
		archive:     archive,
		parallelism: parallelism,
	}
}

// Run processes one claimed group and records the terminal status. Item
// failures are isolated by the connector; only run-level failures (budget
// exhausted, invalid config, source enumeration) mark the group failed.
func (s *IngestionService) Run(ctx context.Context, group *domain.KnowledgeGroup) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Run", telemetry.SpanAttributes{
		GroupID:  group.ID,
		ScrapeID: group.ScrapeID,
	})
	defer span.End()

	conn, err := s.registry.For(group.Source)
	if err != nil {
		span.SetError(err)
		s.markFailed(ctx, group.ID, err)
		return err
	}

	sink := &ingestSink{
		service: s,
		group:   group,
		runCtx:  ctx,
		sem:     make(chan struct{}, s.parallelism),
	}

	err = conn.Process(ctx, group, sink)
	sink.wg.Wait()

	if err != nil {
		span.SetError(err)
		s.markFailed(ctx, group.ID, err)
		return err
	}
	if err := s.groups.UpdateStatus(ctx, group.ID, domain.GroupStatusCompleted, ""); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

func (s *IngestionService) markFailed(ctx context.Context, groupID string, cause error) {
	if err := s.groups.UpdateStatus(ctx, groupID, domain.GroupStatusFailed, cause.Error()); err != nil {
		log.Printf("ingestion: failed to mark group %s failed: %v", groupID, err)
	}
}

// ingestSink receives the connector stream. Emit fans item work out to a
// bounded pool; pagination stays sequential in the connector itself.
type ingestSink struct {
	service *IngestionService
	group   *domain.KnowledgeGroup
	// runCtx backs Progress and Error, whose Sink signatures carry no
	// context. Item work uses the context Emit receives.
	runCtx context.Context
	sem    chan struct{}
	wg     sync.WaitGroup
}

// Emit persists, archives, and indexes one item. Failures here are per-item:
// they are logged and reported, never returned, so the run keeps going.
func (k *ingestSink) Emit(ctx context.Context, item domain.ContentItem) error {
	k.wg.Add(1)
	k.sem <- struct{}{}
	go func() {
		defer k.wg.Done()
		defer func() { <-k.sem }()
		k.handle(ctx, item)
	}()
	return nil
}

func (k *ingestSink) handle(ctx context.Context, item domain.ContentItem) {
	scrapeID := k.group.ScrapeID

	if err := k.service.documents.Upsert(ctx, scrapeID, item); err != nil {
		k.Error(item.Locator, err)
		return
	}
	if k.service.archive != nil {
		if err := k.service.archive.PutSnapshot(ctx, scrapeID, item.Locator, item.Text); err != nil {
			// Archive loss is not worth failing the item over.
			log.Printf("ingestion: failed to archive %s: %v", item.Locator, err)
			telemetry.CaptureError(ctx, err)
		}
	}
	if err := k.service.indexer.Index(ctx, scrapeID, item); err != nil {
		k.Error(item.Locator, err)
	}
}

// Progress persists the counters on the group row as the run advances.
func (k *ingestSink) Progress(ev domain.ProgressEvent) {
	if err := k.service.groups.UpdateProgress(k.runCtx, k.group.ID, ev); err != nil {
		log.Printf("ingestion: failed to persist progress for group %s: %v", k.group.ID, err)
	}
}

// Error records one isolated item failure.
func (k *ingestSink) Error(locator string, err error) {
	log.Printf("ingestion: group %s item %s failed: %v", k.group.ID, locator, err)
	telemetry.CaptureError(k.runCtx, err)
}
