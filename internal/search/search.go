// Package search serves listing search from Meilisearch with a PostgreSQL
// full-text fallback.
package search

import "context"

// Result is a single listing hit.
type Result struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	City         string  `json:"city"`
	Address      string  `json:"address"`
	PropertyType string  `json:"property_type"`
	Status       string  `json:"property_status"`
	Price        float64 `json:"price"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	ImageURL     string  `json:"image_url"`
	Snippet      string  `json:"snippet"`
}

type Query struct {
	Text     string
	City     string
	Status   string
	Type     string
	MinPrice float64
	MaxPrice float64
	Limit    int
	Offset   int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the listing search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a listing search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push listings into a search index.
type Indexer interface {
	IndexProperties(records []PropertyRecord) error
	DeleteProperty(id int64) error
	Healthy() bool
}

// PropertyRecord is the data indexed for a listing.
type PropertyRecord struct {
	ID           int64   `json:"id"`
	SellerID     int64   `json:"seller_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Address      string  `json:"address"`
	City         string  `json:"city"`
	PropertyType string  `json:"property_type"`
	Status       string  `json:"property_status"`
	Price        float64 `json:"price"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	ImageURL     string  `json:"image_url"`
}
