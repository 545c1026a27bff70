package gitea

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/nucleus/migrate-core/internal/source"
)

// =============================================================================
// STUB HOST
// =============================================================================

// stubHost serves a canned Gitea API in-process, no network listeners.
type stubHost struct {
	issues   []map[string]any
	pulls    []map[string]any
	comments map[string][]map[string]any
	wiki     map[string]string
}

func newStubHost() *stubHost {
	return &stubHost{
		comments: map[string][]map[string]any{},
		wiki:     map[string]string{},
	}
}

func (s *stubHost) client() *Client {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return New(Config{
		BaseURL:   "http://stub.gitea.local/api/v1",
		Token:     "stub-token",
		PerPage:   2,
		Transport: &stubRoundTripper{handler: mux},
	})
}

func (s *stubHost) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case strings.HasSuffix(path, "/issues"):
		s.page(w, r, s.issues)
	case strings.HasSuffix(path, "/pulls"):
		s.page(w, r, s.pulls)
	case strings.Contains(path, "/comments"):
		parts := strings.Split(path, "/")
		// .../{kind}/{number}/comments
		key := parts[len(parts)-3] + "/" + parts[len(parts)-2]
		s.page(w, r, s.comments[key])
	case strings.HasSuffix(path, "/wiki/pages"):
		var metas []map[string]any
		for title := range s.wiki {
			metas = append(metas, map[string]any{"title": title, "sub_url": "wiki/" + title})
		}
		s.page(w, r, metas)
	case strings.Contains(path, "/wiki/page/"):
		title := path[strings.LastIndex(path, "/")+1:]
		content, ok := s.wiki[title]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"title":          title,
			"sub_url":        "wiki/" + title,
			"content_base64": base64.StdEncoding.EncodeToString([]byte(content)),
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"not found"}`)
	}
}

// page slices records according to the page/limit query params.
func (s *stubHost) page(w http.ResponseWriter, r *http.Request, records []map[string]any) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 || limit < 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	start := (page - 1) * limit
	if start > len(records) {
		start = len(records)
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	writeJSON(w, records[start:end])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type stubRoundTripper struct {
	handler http.Handler
}

func (rt *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rr := httptest.NewRecorder()
	rt.handler.ServeHTTP(rr, req)
	res := rr.Result()
	res.Request = req
	return res, nil
}

func collect[T any](t *testing.T, it source.Iterator[T]) []T {
	t.Helper()
	defer it.Close()
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return out
}

var testRepo = source.Repo{Owner: "octo", Name: "demo"}

// =============================================================================
// TESTS
// =============================================================================

func TestIssuesPaginated(t *testing.T) {
	host := newStubHost()
	for i := 1; i <= 5; i++ {
		host.issues = append(host.issues, map[string]any{
			"id":     i * 10,
			"number": i,
			"title":  fmt.Sprintf("issue %d", i),
			"state":  "open",
			"user":   map[string]any{"id": 1, "login": "octo"},
			"labels": []map[string]any{{"name": "bug"}},
		})
	}

	it, err := host.client().Issues(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("issues: %v", err)
	}
	issues := collect(t, it)
	if len(issues) != 5 {
		t.Fatalf("got %d issues, want 5 across pages", len(issues))
	}
	if issues[2].ID != 30 || issues[2].Number != 3 {
		t.Fatalf("issue[2] = %+v, want id 30 number 3", issues[2])
	}
	if issues[0].Author.Username != "octo" {
		t.Fatalf("author = %q, want octo", issues[0].Author.Username)
	}
	if len(issues[0].Labels) != 1 || issues[0].Labels[0] != "bug" {
		t.Fatalf("labels = %v, want [bug]", issues[0].Labels)
	}
}

func TestPullRequestsCarryBranchSHAs(t *testing.T) {
	host := newStubHost()
	host.pulls = append(host.pulls, map[string]any{
		"id":     7,
		"number": 2,
		"title":  "add feature",
		"state":  "open",
		"user":   map[string]any{"id": 1, "login": "octo"},
		"head":   map[string]any{"ref": "feature", "sha": "abc123"},
		"base":   map[string]any{"ref": "main", "sha": "def456"},
	})

	it, err := host.client().PullRequests(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("pulls: %v", err)
	}
	prs := collect(t, it)
	if len(prs) != 1 {
		t.Fatalf("got %d pull requests, want 1", len(prs))
	}
	pr := prs[0]
	if pr.SourceBranch != "feature" || pr.TargetBranch != "main" {
		t.Fatalf("branches = %s/%s, want feature/main", pr.SourceBranch, pr.TargetBranch)
	}
	if pr.SourceSHA != "abc123" || pr.TargetSHA != "def456" {
		t.Fatalf("shas = %s/%s, want abc123/def456", pr.SourceSHA, pr.TargetSHA)
	}
}

func TestPullRequestCommentsExposeThreading(t *testing.T) {
	host := newStubHost()
	parent := 100
	host.comments["pulls/2"] = []map[string]any{
		{
			"id":       100,
			"user":     map[string]any{"id": 1, "login": "octo"},
			"body":     "inline note",
			"path":     "main.go",
			"new_line": 14,
		},
		{
			"id":        101,
			"parent_id": parent,
			"user":      map[string]any{"id": 2, "login": "reviewer"},
			"body":      "reply",
		},
	}

	it, err := host.client().PullRequestComments(context.Background(), testRepo, 2)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	comments := collect(t, it)
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if !comments[0].Inline() || comments[0].FilePath != "main.go" || *comments[0].NewLine != 14 {
		t.Fatalf("comment[0] = %+v, want inline at main.go:14", comments[0])
	}
	if comments[1].ParentID == nil || *comments[1].ParentID != 100 {
		t.Fatalf("comment[1].ParentID = %v, want 100", comments[1].ParentID)
	}
}

func TestWikiPagesResolveContent(t *testing.T) {
	host := newStubHost()
	host.wiki["Home"] = "# Welcome\n"

	it, err := host.client().WikiPages(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("wiki: %v", err)
	}
	pages := collect(t, it)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].Slug != "Home" {
		t.Fatalf("slug = %q, want Home", pages[0].Slug)
	}
	if pages[0].Content != "# Welcome\n" {
		t.Fatalf("content = %q, base64 body must be decoded", pages[0].Content)
	}
}

func TestIssuesSurfaceHostErrors(t *testing.T) {
	client := New(Config{
		BaseURL: "http://stub.gitea.local/api/v1",
		Transport: &stubRoundTripper{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"forbidden"}`)
		})},
	})

	it, err := client.Issues(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("issues: %v", err)
	}
	if it.Next() {
		t.Fatal("Next returned true against a failing host")
	}
	if it.Err() == nil {
		t.Fatal("expected the host error to surface on Err")
	}
}
