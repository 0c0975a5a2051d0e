// Package search provides full-text search over the directory, backed by
// Meilisearch with a PostgreSQL FTS fallback. The index stores only public
// display fields, and hits are never trusted for visibility: callers
// re-fetch every hit through the permission-filtered store and drop the
// ones that come back missing.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultOrg   ResultType = "org"
	ResultTour  ResultType = "tour"
	ResultEvent ResultType = "event"
)

// Result is a single raw hit. ID is the entity's uuid in string form.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// OrgRecord is the data indexed for an org.
type OrgRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TourRecord is the data indexed for a tour.
type TourRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// EventRecord is the data indexed for an event.
type EventRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	TourID string `json:"tourId"`
}
