package search

import (
	"context"
	"fmt"

	"reviewdesk/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	fallback Searcher
	indexer  sampleIndexer
	log      *logger.Logger
}

type sampleIndexer interface {
	IndexSamples([]SampleRecord) error
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *logger.Logger) *Service {
	s := &Service{fallback: pgfts, log: log}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	return s
}

// Search tries the primary engine if healthy, otherwise the fallback. Errors
// are logged and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search: primary engine error, falling back to pgfts", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("search: pgfts error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Engine names the engine that will serve the next query.
func (s *Service) Engine() string {
	if s.primary != nil && s.primary.Healthy() {
		return "meilisearch"
	}
	return "postgres"
}

// Reindex pushes every record to the primary engine in batches.
func (s *Service) Reindex(records []SampleRecord, batchSize int) (int, error) {
	if s.indexer == nil {
		return 0, fmt.Errorf("search: no index engine configured")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	indexed := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.indexer.IndexSamples(records[start:end]); err != nil {
			return indexed, fmt.Errorf("index samples %d-%d: %w", start, end, err)
		}
		indexed = end
	}
	return indexed, nil
}
