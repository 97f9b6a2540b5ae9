package search

// Result is a single search hit returned to the caller.
type Result struct {
	Kind    string   `json:"kind"`
	ID      string   `json:"id"`
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags,omitempty"`
}

// Query describes a search request. IncludeUnpublished is only ever set for
// the admin; public queries see published content exclusively.
type Query struct {
	Text               string
	FilterKind         string // empty = posts and projects
	FilterTag          string
	IncludeUnpublished bool
	Limit              int
	Offset             int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexContent(rec ContentRecord) error
	DeleteContent(id string) error
}

// ContentRecord is the data we index for a post or project.
type ContentRecord struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Tags        []string `json:"tags"`
	Published   bool     `json:"published"`
}
