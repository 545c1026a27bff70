package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nucleus/migrate-core/internal/cache"
	"github.com/nucleus/migrate-core/internal/source"
	"github.com/nucleus/migrate-core/internal/state"
)

// =============================================================================
// MOCK TYPES
// =============================================================================

// mockSource implements source.Client over in-memory slices.
type mockSource struct {
	wiki     []source.WikiPage
	issues   []source.Issue
	pulls    []source.PullRequest
	issueCmt map[int][]source.Comment
	pullCmt  map[int][]source.Comment

	wikiErr error
}

func (m *mockSource) WikiPages(ctx context.Context, repo source.Repo) (source.Iterator[source.WikiPage], error) {
	if m.wikiErr != nil {
		return nil, m.wikiErr
	}
	return source.NewSliceIterator(m.wiki), nil
}

func (m *mockSource) Issues(ctx context.Context, repo source.Repo) (source.Iterator[source.Issue], error) {
	return source.NewSliceIterator(m.issues), nil
}

func (m *mockSource) PullRequests(ctx context.Context, repo source.Repo) (source.Iterator[source.PullRequest], error) {
	return source.NewSliceIterator(m.pulls), nil
}

func (m *mockSource) IssueComments(ctx context.Context, repo source.Repo, number int) (source.Iterator[source.Comment], error) {
	return source.NewSliceIterator(m.issueCmt[number]), nil
}

func (m *mockSource) PullRequestComments(ctx context.Context, repo source.Repo, number int) (source.Iterator[source.Comment], error) {
	return source.NewSliceIterator(m.pullCmt[number]), nil
}

// discussionCall records one CreateDiscussion/AddDiscussionReply call.
type discussionCall struct {
	discussionID string
	commentID    int64
	position     *DiffPosition
}

// mockDest implements Destination, recording every write.
type mockDest struct {
	wikiPages     []string
	labels        []string
	issues        []int64
	issueComments []int64
	mergeRequests []int64
	mrComments    []int64
	discussions   []discussionCall
	replies       []discussionCall

	failIssueIDs map[int64]bool
	failLabel    string

	nextDiscussion int
}

func newMockDest() *mockDest {
	return &mockDest{failIssueIDs: make(map[int64]bool)}
}

func (m *mockDest) CreateWikiPage(ctx context.Context, projectID string, page source.WikiPage) error {
	m.wikiPages = append(m.wikiPages, page.Slug)
	return nil
}

func (m *mockDest) CreateLabel(ctx context.Context, projectID string, label Label) error {
	if label.Name == m.failLabel {
		return fmt.Errorf("label rejected")
	}
	m.labels = append(m.labels, label.Name)
	return nil
}

func (m *mockDest) CreateIssue(ctx context.Context, projectID string, issue source.Issue) (string, error) {
	if m.failIssueIDs[issue.ID] {
		return "", fmt.Errorf("validation failed")
	}
	m.issues = append(m.issues, issue.ID)
	return fmt.Sprintf("issue-%d", issue.ID), nil
}

func (m *mockDest) CreateIssueComment(ctx context.Context, projectID, issueID string, comment source.Comment) error {
	m.issueComments = append(m.issueComments, comment.ID)
	return nil
}

func (m *mockDest) CreateMergeRequest(ctx context.Context, projectID string, pr source.PullRequest) (string, error) {
	m.mergeRequests = append(m.mergeRequests, pr.ID)
	return fmt.Sprintf("mr-%d", pr.ID), nil
}

func (m *mockDest) CreateMergeRequestComment(ctx context.Context, projectID, mergeRequestID string, comment source.Comment) error {
	m.mrComments = append(m.mrComments, comment.ID)
	return nil
}

func (m *mockDest) CreateDiscussion(ctx context.Context, projectID, mergeRequestID string, comment source.Comment, position *DiffPosition) (string, error) {
	m.nextDiscussion++
	id := fmt.Sprintf("disc-%d", m.nextDiscussion)
	m.discussions = append(m.discussions, discussionCall{discussionID: id, commentID: comment.ID, position: position})
	return id, nil
}

func (m *mockDest) AddDiscussionReply(ctx context.Context, discussionID string, comment source.Comment) error {
	m.replies = append(m.replies, discussionCall{discussionID: discussionID, commentID: comment.ID})
	return nil
}

// mockMetrics counts signals.
type mockMetrics struct {
	imported map[string]int
	finished int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{imported: make(map[string]int)}
}

func (m *mockMetrics) RecordImported(collection string) { m.imported[collection]++ }
func (m *mockMetrics) ImportFinished(projectID string)  { m.finished++ }

// =============================================================================
// HELPERS
// =============================================================================

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func newTestImporter(t *testing.T, src *mockSource, dest *mockDest) (*Importer, *cache.Memory, *state.Memory, *mockMetrics) {
	t.Helper()
	c := cache.NewMemory(time.Hour)
	states := state.NewMemory()
	if _, err := states.Reset(context.Background(), "p1"); err != nil {
		t.Fatalf("reset state: %v", err)
	}
	metrics := newMockMetrics()
	im, err := New(Config{
		ProjectID: "p1",
		Repo:      source.Repo{Owner: "acme", Name: "widgets"},
		Cache:     c,
		Source:    src,
		Dest:      dest,
		States:    states,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return im, c, states, metrics
}

// =============================================================================
// UNIT TESTS
// =============================================================================

func TestImportIssuesDedup(t *testing.T) {
	ctx := context.Background()
	src := &mockSource{issues: []source.Issue{
		{ID: 1, Number: 1, Title: "first"},
		{ID: 2, Number: 2, Title: "second"},
	}}
	dest := newMockDest()
	im, c, _, metrics := newTestImporter(t, src, dest)

	// Record 1 was persisted by an earlier run.
	if err := c.SetAdd(ctx, "migrate/p1/already-imported/issues", "1"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}

	im.ImportIssues(ctx)

	if len(dest.issues) != 1 || dest.issues[0] != 2 {
		t.Errorf("created issues = %v, want [2]", dest.issues)
	}
	if metrics.imported[CollectionIssues] != 1 {
		t.Errorf("imported counter = %d, want 1", metrics.imported[CollectionIssues])
	}
	stats := im.Stats().Collection(CollectionIssues)
	if stats.Skipped != 1 || stats.Imported != 1 {
		t.Errorf("stats = %+v, want 1 skipped 1 imported", stats)
	}

	t.Run("rerun is a no-op", func(t *testing.T) {
		im.ImportIssues(ctx)
		if len(dest.issues) != 1 {
			t.Errorf("re-run created records: %v", dest.issues)
		}
		if metrics.imported[CollectionIssues] != 1 {
			t.Errorf("re-run bumped the counter to %d", metrics.imported[CollectionIssues])
		}
	})
}

func TestImportIssuesIsolation(t *testing.T) {
	ctx := context.Background()
	src := &mockSource{issues: []source.Issue{
		{ID: 1, Number: 1}, {ID: 2, Number: 2}, {ID: 3, Number: 3},
	}}
	dest := newMockDest()
	dest.failIssueIDs[2] = true
	im, c, _, _ := newTestImporter(t, src, dest)

	im.ImportIssues(ctx)

	if len(dest.issues) != 2 {
		t.Errorf("created issues = %v, want the two valid ones", dest.issues)
	}
	if im.Errors().Len() != 1 {
		t.Errorf("error list length = %d, want 1", im.Errors().Len())
	}

	// The failed record must not be marked imported, so a retry picks it up.
	marked, err := c.SetIncludes(ctx, "migrate/p1/already-imported/issues", "2")
	if err != nil {
		t.Fatalf("SetIncludes: %v", err)
	}
	if marked {
		t.Error("failed record was marked as imported")
	}
}

func TestCommentThreading(t *testing.T) {
	ctx := context.Background()
	pr := source.PullRequest{ID: 10, Number: 5, SourceSHA: "head123", TargetSHA: "base456"}

	t.Run("replies inherit the parent position", func(t *testing.T) {
		src := &mockSource{
			pulls: []source.PullRequest{pr},
			pullCmt: map[int][]source.Comment{5: {
				{ID: 100, FilePath: "main.go", OldLine: intPtr(3), NewLine: intPtr(7)},
				{ID: 101, ParentID: int64Ptr(100), FilePath: "main.go"},
			}},
		}
		dest := newMockDest()
		im, _, _, _ := newTestImporter(t, src, dest)

		im.ImportPullRequests(ctx)

		if len(dest.discussions) != 1 {
			t.Fatalf("discussions = %d, want 1", len(dest.discussions))
		}
		root := dest.discussions[0]
		if root.position == nil || root.position.FilePath != "main.go" ||
			*root.position.NewLine != 7 || root.position.HeadSHA != "head123" || root.position.BaseSHA != "base456" {
			t.Errorf("root position = %+v", root.position)
		}
		if len(dest.replies) != 1 || dest.replies[0].discussionID != root.discussionID {
			t.Errorf("reply did not attach to the root discussion: %+v", dest.replies)
		}
	})

	t.Run("child before parent keeps a nil position", func(t *testing.T) {
		src := &mockSource{
			pulls: []source.PullRequest{pr},
			pullCmt: map[int][]source.Comment{5: {
				{ID: 201, ParentID: int64Ptr(200), FilePath: "main.go"},
				{ID: 200, FilePath: "main.go", NewLine: intPtr(4)},
				{ID: 202, ParentID: int64Ptr(200), FilePath: "main.go"},
			}},
		}
		dest := newMockDest()
		im, _, _, _ := newTestImporter(t, src, dest)

		im.ImportPullRequests(ctx)

		// Orphaned child starts its own discussion with no position.
		if len(dest.discussions) != 2 {
			t.Fatalf("discussions = %d, want 2", len(dest.discussions))
		}
		orphan := dest.discussions[0]
		if orphan.commentID != 201 || orphan.position != nil {
			t.Errorf("orphan discussion = %+v, want comment 201 with nil position", orphan)
		}
		parent := dest.discussions[1]
		if parent.commentID != 200 || parent.position == nil {
			t.Errorf("parent discussion = %+v", parent)
		}
		// The later child finds the parent's discussion and replies there.
		if len(dest.replies) != 1 || dest.replies[0].commentID != 202 ||
			dest.replies[0].discussionID != parent.discussionID {
			t.Errorf("replies = %+v", dest.replies)
		}
	})

	t.Run("non-inline comments are plain merge request comments", func(t *testing.T) {
		src := &mockSource{
			pulls: []source.PullRequest{pr},
			pullCmt: map[int][]source.Comment{5: {
				{ID: 300, Body: "looks good"},
			}},
		}
		dest := newMockDest()
		im, _, _, _ := newTestImporter(t, src, dest)

		im.ImportPullRequests(ctx)

		if len(dest.mrComments) != 1 || dest.mrComments[0] != 300 {
			t.Errorf("mr comments = %v", dest.mrComments)
		}
		if len(dest.discussions) != 0 {
			t.Errorf("unexpected discussions: %+v", dest.discussions)
		}
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("wiki failure does not stop the import", func(t *testing.T) {
		src := &mockSource{
			wikiErr: fmt.Errorf("wiki unavailable"),
			issues:  []source.Issue{{ID: 1, Number: 1}},
			pulls:   []source.PullRequest{{ID: 2, Number: 2}},
		}
		dest := newMockDest()
		im, _, states, metrics := newTestImporter(t, src, dest)

		if err := im.Execute(ctx); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(dest.issues) != 1 || len(dest.mergeRequests) != 1 {
			t.Errorf("issues=%v mrs=%v, want both imported", dest.issues, dest.mergeRequests)
		}
		if metrics.finished != 1 {
			t.Errorf("finished signal count = %d, want 1", metrics.finished)
		}

		st, err := states.Get(ctx, "p1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !strings.Contains(st.LastError, "1 records failed") {
			t.Errorf("last error = %q", st.LastError)
		}
		var details []ImportError
		if err := json.Unmarshal(st.ErrorDetails, &details); err != nil {
			t.Fatalf("decode details: %v", err)
		}
		if len(details) != 1 || details[0].Type != CollectionWiki {
			t.Errorf("details = %+v", details)
		}
	})

	t.Run("label bootstrap failure is fatal", func(t *testing.T) {
		src := &mockSource{issues: []source.Issue{{ID: 1, Number: 1}}}
		dest := newMockDest()
		dest.failLabel = "proposal"
		im, _, _, metrics := newTestImporter(t, src, dest)

		err := im.Execute(ctx)
		if err == nil {
			t.Fatal("expected fatal error from label bootstrap")
		}
		if !strings.Contains(err.Error(), "proposal") {
			t.Errorf("error = %v", err)
		}
		if len(dest.issues) != 0 {
			t.Error("issues were imported despite fatal label failure")
		}
		if metrics.finished != 1 {
			t.Error("finished signal missing on fatal path")
		}
	})

	t.Run("clean run leaves no error", func(t *testing.T) {
		src := &mockSource{
			wiki:   []source.WikiPage{{Slug: "home", Title: "Home"}},
			issues: []source.Issue{{ID: 1, Number: 1}},
		}
		dest := newMockDest()
		im, _, states, _ := newTestImporter(t, src, dest)

		if err := im.Execute(ctx); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		st, _ := states.Get(ctx, "p1")
		if st.LastError != "" {
			t.Errorf("last error = %q, want empty", st.LastError)
		}
		if len(dest.labels) != len(defaultLabels) {
			t.Errorf("labels created = %v", dest.labels)
		}
	})
}

func TestErrorListDetails(t *testing.T) {
	list := NewErrorList()
	list.Record("issues", "42", fmt.Errorf("bad payload"), map[string]string{"title": "x"})

	details, err := list.Details()
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(details, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("decoded = %v", decoded)
	}
	// The raw payload snapshot must not survive persistence.
	if _, ok := decoded[0]["Raw"]; ok {
		t.Error("raw snapshot leaked into persisted details")
	}
	if decoded[0]["type"] != "issues" || decoded[0]["id"] != "42" {
		t.Errorf("decoded entry = %v", decoded[0])
	}
}
