package etl

import (
	"context"

	"github.com/BartekS5/optistock/pkg/models"
)

// Page is one fetched page. Next is the offset of the following page; Done is set when
// the page was empty or shorter than the requested size.
type Page struct {
	Records []Record
	Cursor  int
	Next    int
	Done    bool
	Total   int
}

// Paginator walks one resource endpoint with an offset cursor.
type Paginator struct {
	Fetcher  PageFetcher
	Resource models.Resource
}

func NewPaginator(fetcher PageFetcher, resource models.Resource) *Paginator {
	return &Paginator{Fetcher: fetcher, Resource: resource}
}

// Next fetches the page starting at cursor. Errors are returned unchanged so the
// caller can decide whether to retry the same cursor.
func (p *Paginator) Next(ctx context.Context, cursor int) (*Page, error) {
	raw, err := p.Fetcher.FetchPage(ctx, PageRequest{
		Endpoint: p.Resource.Endpoint,
		Start:    cursor,
		Limit:    p.Resource.PageSize,
		Params:   p.Resource.Params,
	})
	if err != nil {
		return nil, err
	}
	n := len(raw.Records)
	return &Page{
		Records: raw.Records,
		Cursor:  cursor,
		Next:    cursor + n,
		Done:    n == 0 || n < p.Resource.PageSize,
		Total:   raw.Total,
	}, nil
}
