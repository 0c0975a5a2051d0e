package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS. Indexing is fire-and-forget; the database remains the source of
// truth and the index is rebuildable.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. The
// hits are raw: callers must re-fetch them through the guarded store before
// returning anything to a client.
func (s *Service) Search(q Query) ([]Result, int) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return nonNil(results), total
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return []Result{}, 0
	}
	return nonNil(results), total
}

// IndexOrg pushes an org into the index (fire-and-forget).
func (s *Service) IndexOrg(rec OrgRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOrg(rec); err != nil {
			log.Printf("search: index org %s: %v", rec.ID, err)
		}
	}()
}

// IndexTour pushes a tour into the index (fire-and-forget).
func (s *Service) IndexTour(rec TourRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTour(rec); err != nil {
			log.Printf("search: index tour %s: %v", rec.ID, err)
		}
	}()
}

// IndexEvent pushes an event into the index (fire-and-forget).
func (s *Service) IndexEvent(rec EventRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEvent(rec); err != nil {
			log.Printf("search: index event %s: %v", rec.ID, err)
		}
	}()
}

// DeleteOrg removes an org from the index (fire-and-forget).
func (s *Service) DeleteOrg(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteOrg(id); err != nil {
			log.Printf("search: delete org %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes every searchable entity from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	orgs, tours, events, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexOrgs(orgs); err != nil {
		log.Printf("search: reindex orgs: %v", err)
	}
	if err := s.meili.IndexTours(tours); err != nil {
		log.Printf("search: reindex tours: %v", err)
	}
	if err := s.meili.IndexEvents(events); err != nil {
		log.Printf("search: reindex events: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
