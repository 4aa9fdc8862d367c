package search

import (
	"context"
	"log"
)

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PropertyRecord, error)
}

type fallbackSearcher interface {
	Searcher
	recordLoader
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback fallbackSearcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{fallback: pgfts}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

func (s *Service) indexing() bool {
	return s != nil && s.indexer != nil && s.indexer.Healthy()
}

// IndexProperty pushes one listing to Meilisearch without blocking the caller.
func (s *Service) IndexProperty(record PropertyRecord) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.indexer.IndexProperties([]PropertyRecord{record}); err != nil {
			log.Printf("search: index property %d: %v", record.ID, err)
		}
	}()
}

// DeleteProperty removes a listing from Meilisearch without blocking the caller.
func (s *Service) DeleteProperty(id int64) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.indexer.DeleteProperty(id); err != nil {
			log.Printf("search: delete property %d: %v", id, err)
		}
	}()
}

// ReindexAllFromPG pushes every listing from PostgreSQL into Meilisearch and
// returns how many were sent.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if !s.indexing() || s.fallback == nil {
		return 0, nil
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.indexer.IndexProperties(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
