package gitea

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/source/httpx"
)

// pageIterator walks a paginated endpoint, decoding wire records into
// domain records as pages arrive.
type pageIterator[W any, T any] struct {
	ctx     context.Context
	client  *httpx.Client
	pager   *httpx.PagePaginator
	convert func(W) T

	buf []T
	idx int
	err error
}

func newPageIterator[W any, T any](ctx context.Context, client *httpx.Client, pager *httpx.PagePaginator, convert func(W) T) *pageIterator[W, T] {
	return &pageIterator[W, T]{
		ctx:     ctx,
		client:  client,
		pager:   pager,
		convert: convert,
	}
}

func (it *pageIterator[W, T]) Next() bool {
	if it.err != nil {
		return false
	}
	for it.idx >= len(it.buf) {
		if it.pager.Done() {
			return false
		}
		items, err := it.pager.NextPage(it.ctx, it.client)
		if err != nil {
			it.err = err
			return false
		}
		if len(items) == 0 && it.pager.Done() {
			return false
		}
		it.buf = it.buf[:0]
		it.idx = 0
		for _, raw := range items {
			var wire W
			if err := json.Unmarshal(raw, &wire); err != nil {
				it.err = fmt.Errorf("decode record: %w", err)
				return false
			}
			it.buf = append(it.buf, it.convert(wire))
		}
	}
	it.idx++
	return true
}

func (it *pageIterator[W, T]) Value() T {
	var zero T
	if it.idx == 0 || it.idx > len(it.buf) {
		return zero
	}
	return it.buf[it.idx-1]
}

func (it *pageIterator[W, T]) Err() error   { return it.err }
func (it *pageIterator[W, T]) Close() error { return nil }

// wikiIterator resolves wiki page metadata to full pages one at a time.
type wikiIterator struct {
	ctx    context.Context
	client *httpx.Client
	repo   source.Repo
	metas  source.Iterator[wireWikiMeta]

	current source.WikiPage
	err     error
}

func (it *wikiIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.metas.Next() {
		it.err = it.metas.Err()
		return false
	}
	meta := it.metas.Value()
	page, err := fetchWikiPage(it.ctx, it.client, it.repo, meta.Title)
	if err != nil {
		it.err = err
		return false
	}
	if page.Slug == "" {
		page.Slug = meta.slug()
	}
	it.current = page
	return true
}

func (it *wikiIterator) Value() source.WikiPage { return it.current }
func (it *wikiIterator) Err() error             { return it.err }
func (it *wikiIterator) Close() error           { return it.metas.Close() }
