package search

import "context"

// Result is a single sample hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	PrincipleID string `json:"principle_id"`
	Target      string `json:"target"`
	Snippet     string `json:"snippet"`
}

// Query describes a sample search request.
type Query struct {
	Text        string
	PrincipleID string // empty = all principles
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over samples.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SampleRecord is the data we index for a sample.
type SampleRecord struct {
	ID          string `json:"id"`
	PrincipleID string `json:"principle_id"`
	Preceding   string `json:"preceding"`
	Target      string `json:"target"`
	Following   string `json:"following"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
