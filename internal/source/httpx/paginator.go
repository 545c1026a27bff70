package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// =============================================================================
// PAGE PAGINATION
// =============================================================================

// PagePaginator walks page/limit style pagination, yielding one JSON array
// per call until the host returns a short or empty page.
type PagePaginator struct {
	Path    string
	Query   url.Values
	PerPage int
	PageKey string // query param name (default: "page")
	SizeKey string // query param name (default: "limit")

	page int
	done bool
}

// NewPagePaginator creates a paginator for the given path.
func NewPagePaginator(path string, perPage int) *PagePaginator {
	if perPage <= 0 {
		perPage = 50
	}
	return &PagePaginator{
		Path:    path,
		Query:   url.Values{},
		PerPage: perPage,
		PageKey: "page",
		SizeKey: "limit",
		page:    1,
	}
}

// Done reports whether the last page has been fetched.
func (p *PagePaginator) Done() bool { return p.done }

// NextPage fetches the next page and returns its raw items. A short or
// empty page marks the paginator done.
func (p *PagePaginator) NextPage(ctx context.Context, client *Client) ([]json.RawMessage, error) {
	if p.done {
		return nil, nil
	}

	query := url.Values{}
	for k, vs := range p.Query {
		query[k] = vs
	}
	query.Set(p.PageKey, strconv.Itoa(p.page))
	query.Set(p.SizeKey, strconv.Itoa(p.PerPage))

	resp, err := client.Get(ctx, p.Path, query)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d of %s: %w", p.page, p.Path, err)
	}

	var items []json.RawMessage
	if err := resp.JSON(&items); err != nil {
		return nil, fmt.Errorf("decode page %d of %s: %w", p.page, p.Path, err)
	}

	p.page++
	if len(items) < p.PerPage {
		p.done = true
	}
	return items, nil
}
