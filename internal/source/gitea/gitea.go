// Package gitea implements the source.Client collaborator against the
// Gitea REST API (v1).
package gitea

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/source/httpx"
)

// Ensure interface compliance.
var _ source.Client = (*Client)(nil)

// Config configures the Gitea client.
type Config struct {
	// BaseURL is the API root, e.g. "https://gitea.example.com/api/v1".
	BaseURL string
	// Token is the access token used for all requests.
	Token string
	// PerPage is the page size for list endpoints (default: 50).
	PerPage int
	// RateLimit requests per second (0 means the httpx default).
	RateLimit float64
	// Transport allows injecting a stub transport for tests.
	Transport http.RoundTripper
}

// Client reads wiki, issue, pull request, and comment collections.
type Client struct {
	http    *httpx.Client
	perPage int
}

// New creates a Gitea client.
func New(cfg Config) *Client {
	clientCfg := httpx.DefaultConfig()
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.Token = cfg.Token
	clientCfg.RateLimit = cfg.RateLimit
	clientCfg.Transport = cfg.Transport
	clientCfg.Headers["Accept"] = "application/json"

	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	return &Client{
		http:    httpx.NewClient(clientCfg),
		perPage: perPage,
	}
}

// Issues lists all issues of the repository, open and closed.
func (c *Client) Issues(ctx context.Context, repo source.Repo) (source.Iterator[source.Issue], error) {
	pager := httpx.NewPagePaginator(fmt.Sprintf("repos/%s/issues", repo.FullName()), c.perPage)
	pager.Query.Set("state", "all")
	pager.Query.Set("type", "issues")
	return newPageIterator(ctx, c.http, pager, wireIssue.toIssue), nil
}

// PullRequests lists all pull requests of the repository.
func (c *Client) PullRequests(ctx context.Context, repo source.Repo) (source.Iterator[source.PullRequest], error) {
	pager := httpx.NewPagePaginator(fmt.Sprintf("repos/%s/pulls", repo.FullName()), c.perPage)
	pager.Query.Set("state", "all")
	return newPageIterator(ctx, c.http, pager, wirePull.toPullRequest), nil
}

// IssueComments lists the discussion comments of one issue.
func (c *Client) IssueComments(ctx context.Context, repo source.Repo, number int) (source.Iterator[source.Comment], error) {
	pager := httpx.NewPagePaginator(fmt.Sprintf("repos/%s/issues/%d/comments", repo.FullName(), number), c.perPage)
	return newPageIterator(ctx, c.http, pager, wireComment.toComment), nil
}

// PullRequestComments lists the review comments of one pull request,
// including the diff-position hints for inline comments.
func (c *Client) PullRequestComments(ctx context.Context, repo source.Repo, number int) (source.Iterator[source.Comment], error) {
	pager := httpx.NewPagePaginator(fmt.Sprintf("repos/%s/pulls/%d/comments", repo.FullName(), number), c.perPage)
	return newPageIterator(ctx, c.http, pager, wireComment.toComment), nil
}

// WikiPages lists the wiki pages of the repository, fetching each page's
// content lazily as the iterator advances.
func (c *Client) WikiPages(ctx context.Context, repo source.Repo) (source.Iterator[source.WikiPage], error) {
	pager := httpx.NewPagePaginator(fmt.Sprintf("repos/%s/wiki/pages", repo.FullName()), c.perPage)
	metas := newPageIterator(ctx, c.http, pager, wireWikiMeta.toMeta)
	return &wikiIterator{
		ctx:    ctx,
		client: c.http,
		repo:   repo,
		metas:  metas,
	}, nil
}

// fetchWikiPage loads the full content of one wiki page by name.
func fetchWikiPage(ctx context.Context, client *httpx.Client, repo source.Repo, name string) (source.WikiPage, error) {
	path := fmt.Sprintf("repos/%s/wiki/page/%s", repo.FullName(), url.PathEscape(name))
	resp, err := client.Get(ctx, path, nil)
	if err != nil {
		return source.WikiPage{}, fmt.Errorf("fetch wiki page %q: %w", name, err)
	}
	var page wireWikiPage
	if err := resp.JSON(&page); err != nil {
		return source.WikiPage{}, fmt.Errorf("decode wiki page %q: %w", name, err)
	}
	return page.toWikiPage()
}
