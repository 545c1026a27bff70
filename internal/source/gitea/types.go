package gitea

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/nucleus/migrate-core/internal/source"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

func (u wireUser) toUser() source.User {
	return source.User{ID: u.ID, Username: u.Login}
}

type wireLabel struct {
	Name string `json:"name"`
}

type wireIssue struct {
	ID        int64       `json:"id"`
	Number    int         `json:"number"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	State     string      `json:"state"`
	User      wireUser    `json:"user"`
	Labels    []wireLabel `json:"labels"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (w wireIssue) toIssue() source.Issue {
	labels := make([]string, 0, len(w.Labels))
	for _, l := range w.Labels {
		labels = append(labels, l.Name)
	}
	return source.Issue{
		ID:        w.ID,
		Number:    w.Number,
		Title:     w.Title,
		Body:      w.Body,
		State:     w.State,
		Author:    w.User.toUser(),
		Labels:    labels,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

type wireBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type wirePull struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	User      wireUser   `json:"user"`
	Head      wireBranch `json:"head"`
	Base      wireBranch `json:"base"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (w wirePull) toPullRequest() source.PullRequest {
	return source.PullRequest{
		ID:           w.ID,
		Number:       w.Number,
		Title:        w.Title,
		Body:         w.Body,
		State:        w.State,
		SourceBranch: w.Head.Ref,
		TargetBranch: w.Base.Ref,
		SourceSHA:    w.Head.SHA,
		TargetSHA:    w.Base.SHA,
		Author:       w.User.toUser(),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

type wireComment struct {
	ID        int64     `json:"id"`
	ParentID  *int64    `json:"parent_id"`
	User      wireUser  `json:"user"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	OldLine   *int      `json:"old_line"`
	NewLine   *int      `json:"new_line"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w wireComment) toComment() source.Comment {
	return source.Comment{
		ID:        w.ID,
		ParentID:  w.ParentID,
		Author:    w.User.toUser(),
		Body:      w.Body,
		FilePath:  w.Path,
		OldLine:   w.OldLine,
		NewLine:   w.NewLine,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

type wireWikiMeta struct {
	Title  string `json:"title"`
	SubURL string `json:"sub_url"`
}

func (w wireWikiMeta) toMeta() wireWikiMeta { return w }

// slug derives the page slug from the sub URL, falling back to the title.
func (w wireWikiMeta) slug() string {
	if w.SubURL != "" {
		parts := strings.Split(strings.TrimSuffix(w.SubURL, "/"), "/")
		return parts[len(parts)-1]
	}
	return strings.ReplaceAll(w.Title, " ", "-")
}

type wireWikiPage struct {
	Title         string `json:"title"`
	SubURL        string `json:"sub_url"`
	ContentBase64 string `json:"content_base64"`
	LastCommit    struct {
		Committer struct {
			Created time.Time `json:"created"`
		} `json:"committer"`
	} `json:"last_commit"`
}

func (w wireWikiPage) toWikiPage() (source.WikiPage, error) {
	content, err := base64.StdEncoding.DecodeString(w.ContentBase64)
	if err != nil {
		return source.WikiPage{}, fmt.Errorf("decode wiki content for %q: %w", w.Title, err)
	}
	return source.WikiPage{
		Slug:      wireWikiMeta{Title: w.Title, SubURL: w.SubURL}.slug(),
		Title:     w.Title,
		Content:   string(content),
		UpdatedAt: w.LastCommit.Committer.Created,
	}, nil
}
