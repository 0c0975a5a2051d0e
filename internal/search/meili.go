package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxOrgs   = "stagedir_orgs"
	idxTours  = "stagedir_tours"
	idxEvents = "stagedir_events"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The client
// is kept even when the initial connection fails; a background loop flips
// it healthy once Meilisearch comes up.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		searchable []string
	}{
		{uid: idxOrgs, searchable: []string{"name", "description"}},
		{uid: idxTours, searchable: []string{"title", "description"}},
		{uid: idxEvents, searchable: []string{"title"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the three entity indexes (or a filtered subset) and merges
// the raw hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxOrgs, ResultOrg},
		{idxTours, ResultTour},
		{idxEvents, ResultEvent},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxOrgs:
		return ResultOrg
	case idxTours:
		return ResultTour
	case idxEvents:
		return ResultEvent
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")

	switch rtyp {
	case ResultOrg:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultTour, ResultEvent:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexOrg adds or updates an org in the search index.
func (m *Meili) IndexOrg(rec OrgRecord) error {
	_, err := m.client.Index(idxOrgs).AddDocuments([]OrgRecord{rec}, nil)
	return err
}

// IndexTour adds or updates a tour in the search index.
func (m *Meili) IndexTour(rec TourRecord) error {
	_, err := m.client.Index(idxTours).AddDocuments([]TourRecord{rec}, nil)
	return err
}

// IndexEvent adds or updates an event in the search index.
func (m *Meili) IndexEvent(rec EventRecord) error {
	_, err := m.client.Index(idxEvents).AddDocuments([]EventRecord{rec}, nil)
	return err
}

// DeleteOrg removes an org from the search index.
func (m *Meili) DeleteOrg(id string) error {
	_, err := m.client.Index(idxOrgs).DeleteDocument(id, nil)
	return err
}

// DeleteTour removes a tour from the search index.
func (m *Meili) DeleteTour(id string) error {
	_, err := m.client.Index(idxTours).DeleteDocument(id, nil)
	return err
}

// IndexOrgs bulk-indexes orgs.
func (m *Meili) IndexOrgs(records []OrgRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOrgs).AddDocuments(records, nil)
	return err
}

// IndexTours bulk-indexes tours.
func (m *Meili) IndexTours(records []TourRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTours).AddDocuments(records, nil)
	return err
}

// IndexEvents bulk-indexes events.
func (m *Meili) IndexEvents(records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEvents).AddDocuments(records, nil)
	return err
}
