// Package source defines the read-side collaborator for external version
// control hosts. Implementations expose paginated access to the collections
// the import pipeline copies: wiki pages, issues, pull requests, and their
// comments. Pagination is the implementation's concern; consumers only see
// iterators.
package source

import (
	"context"
	"time"
)

// Iterator walks a paginated collection lazily.
type Iterator[T any] interface {
	// Next advances to the next record, fetching further pages as needed.
	Next() bool
	// Value returns the current record. Valid only after a true Next.
	Value() T
	// Err returns the first error encountered while iterating.
	Err() error
	// Close releases any resources held by the iterator.
	Close() error
}

// Repo identifies a repository on the source host.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns the owner/name form used in API paths.
func (r Repo) FullName() string { return r.Owner + "/" + r.Name }

// User is a source-side account reference.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// WikiPage is one page of the source project's wiki.
type WikiPage struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Issue is a source issue record.
type Issue struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Author    User      `json:"author"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PullRequest is a source pull/merge request record.
type PullRequest struct {
	ID           int64     `json:"id"`
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	State        string    `json:"state"`
	SourceBranch string    `json:"sourceBranch"`
	TargetBranch string    `json:"targetBranch"`
	SourceSHA    string    `json:"sourceSha"`
	TargetSHA    string    `json:"targetSha"`
	Author       User      `json:"author"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Comment is an issue or pull request comment. For inline pull request
// comments the diff-position hints (FilePath, OldLine, NewLine) are set;
// ParentID links replies to the comment they answer.
type Comment struct {
	ID        int64     `json:"id"`
	ParentID  *int64    `json:"parentId,omitempty"`
	Author    User      `json:"author"`
	Body      string    `json:"body"`
	FilePath  string    `json:"filePath,omitempty"`
	OldLine   *int      `json:"oldLine,omitempty"`
	NewLine   *int      `json:"newLine,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Inline reports whether the comment is anchored to a diff location.
func (c Comment) Inline() bool { return c.FilePath != "" }

// Client is the source-host read API consumed by the importer.
type Client interface {
	WikiPages(ctx context.Context, repo Repo) (Iterator[WikiPage], error)
	Issues(ctx context.Context, repo Repo) (Iterator[Issue], error)
	PullRequests(ctx context.Context, repo Repo) (Iterator[PullRequest], error)
	IssueComments(ctx context.Context, repo Repo, number int) (Iterator[Comment], error)
	PullRequestComments(ctx context.Context, repo Repo, number int) (Iterator[Comment], error)
}

// SliceIterator adapts an in-memory slice to the Iterator interface.
type SliceIterator[T any] struct {
	items []T
	index int
}

// NewSliceIterator wraps items in an iterator.
func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

func (s *SliceIterator[T]) Next() bool {
	if s.index < len(s.items) {
		s.index++
		return true
	}
	return false
}

func (s *SliceIterator[T]) Value() T {
	var zero T
	if s.index == 0 || s.index > len(s.items) {
		return zero
	}
	return s.items[s.index-1]
}

func (s *SliceIterator[T]) Err() error   { return nil }
func (s *SliceIterator[T]) Close() error { return nil }
