// Package dest provides destination adapters persisting imported records.
// The importer only sees the Destination interface; this package holds the
// shipped Postgres implementation.
package dest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucleus/migrate-core/internal/importer"
	"github.com/nucleus/migrate-core/internal/source"
)

const destSchema = `
CREATE TABLE IF NOT EXISTS wiki_pages (
    project_id TEXT        NOT NULL,
    slug       TEXT        NOT NULL,
    title      TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (project_id, slug)
);

CREATE TABLE IF NOT EXISTS labels (
    project_id TEXT NOT NULL,
    name       TEXT NOT NULL,
    color      TEXT NOT NULL,
    PRIMARY KEY (project_id, name)
);

CREATE TABLE IF NOT EXISTS issues (
    id         BIGSERIAL   PRIMARY KEY,
    project_id TEXT        NOT NULL,
    source_id  BIGINT      NOT NULL,
    number     INTEGER     NOT NULL,
    title      TEXT        NOT NULL,
    body       TEXT        NOT NULL,
    state      TEXT        NOT NULL,
    author     TEXT        NOT NULL,
    labels     TEXT[]      NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (project_id, source_id)
);

CREATE TABLE IF NOT EXISTS issue_comments (
    id        BIGSERIAL PRIMARY KEY,
    issue_id  BIGINT    NOT NULL REFERENCES issues(id),
    source_id BIGINT    NOT NULL,
    author    TEXT      NOT NULL,
    body      TEXT      NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_requests (
    id            BIGSERIAL   PRIMARY KEY,
    project_id    TEXT        NOT NULL,
    source_id     BIGINT      NOT NULL,
    number        INTEGER     NOT NULL,
    title         TEXT        NOT NULL,
    body          TEXT        NOT NULL,
    state         TEXT        NOT NULL,
    author        TEXT        NOT NULL,
    source_branch TEXT        NOT NULL,
    target_branch TEXT        NOT NULL,
    source_sha    TEXT        NOT NULL,
    target_sha    TEXT        NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (project_id, source_id)
);

CREATE TABLE IF NOT EXISTS merge_request_comments (
    id               BIGSERIAL PRIMARY KEY,
    merge_request_id BIGINT    NOT NULL REFERENCES merge_requests(id),
    source_id        BIGINT    NOT NULL,
    author           TEXT      NOT NULL,
    body             TEXT      NOT NULL
);

CREATE TABLE IF NOT EXISTS discussions (
    id               BIGSERIAL PRIMARY KEY,
    merge_request_id BIGINT    NOT NULL REFERENCES merge_requests(id),
    file_path        TEXT      NOT NULL DEFAULT '',
    old_line         INTEGER,
    new_line         INTEGER,
    base_sha         TEXT      NOT NULL DEFAULT '',
    head_sha         TEXT      NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS discussion_comments (
    id            BIGSERIAL PRIMARY KEY,
    discussion_id BIGINT    NOT NULL REFERENCES discussions(id),
    source_id     BIGINT    NOT NULL,
    author        TEXT      NOT NULL,
    body          TEXT      NOT NULL
);
`

// Postgres persists imported records into a Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ importer.Destination = (*Postgres)(nil)

// NewPostgres creates a Postgres destination and ensures its tables exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, destSchema); err != nil {
		return nil, fmt.Errorf("ensure destination schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateWikiPage(ctx context.Context, projectID string, page source.WikiPage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wiki_pages (project_id, slug, title, content, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, slug) DO UPDATE
		SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		projectID, page.Slug, page.Title, page.Content, page.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wiki page %s: %w", page.Slug, err)
	}
	return nil
}

func (p *Postgres) CreateLabel(ctx context.Context, projectID string, label importer.Label) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO labels (project_id, name, color)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, name) DO NOTHING`,
		projectID, label.Name, label.Color)
	if err != nil {
		return fmt.Errorf("create label %s: %w", label.Name, err)
	}
	return nil
}

func (p *Postgres) CreateIssue(ctx context.Context, projectID string, issue source.Issue) (string, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO issues (project_id, source_id, number, title, body, state, author, labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, source_id) DO UPDATE SET title = EXCLUDED.title
		RETURNING id`,
		projectID, issue.ID, issue.Number, issue.Title, issue.Body, issue.State,
		issue.Author.Username, issue.Labels, issue.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create issue #%d: %w", issue.Number, err)
	}
	return fmt.Sprint(id), nil
}

func (p *Postgres) CreateIssueComment(ctx context.Context, projectID, issueID string, comment source.Comment) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO issue_comments (issue_id, source_id, author, body)
		VALUES ($1::bigint, $2, $3, $4)`,
		issueID, comment.ID, comment.Author.Username, comment.Body)
	if err != nil {
		return fmt.Errorf("create comment %d on issue %s: %w", comment.ID, issueID, err)
	}
	return nil
}

func (p *Postgres) CreateMergeRequest(ctx context.Context, projectID string, pr source.PullRequest) (string, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO merge_requests (project_id, source_id, number, title, body, state, author,
		                            source_branch, target_branch, source_sha, target_sha, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (project_id, source_id) DO UPDATE SET title = EXCLUDED.title
		RETURNING id`,
		projectID, pr.ID, pr.Number, pr.Title, pr.Body, pr.State, pr.Author.Username,
		pr.SourceBranch, pr.TargetBranch, pr.SourceSHA, pr.TargetSHA, pr.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create merge request !%d: %w", pr.Number, err)
	}
	return fmt.Sprint(id), nil
}

func (p *Postgres) CreateMergeRequestComment(ctx context.Context, projectID, mergeRequestID string, comment source.Comment) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO merge_request_comments (merge_request_id, source_id, author, body)
		VALUES ($1::bigint, $2, $3, $4)`,
		mergeRequestID, comment.ID, comment.Author.Username, comment.Body)
	if err != nil {
		return fmt.Errorf("create comment %d on merge request %s: %w", comment.ID, mergeRequestID, err)
	}
	return nil
}

func (p *Postgres) CreateDiscussion(ctx context.Context, projectID, mergeRequestID string, comment source.Comment, position *importer.DiffPosition) (string, error) {
	var (
		filePath, baseSHA, headSHA string
		oldLine, newLine           *int
	)
	if position != nil {
		filePath, baseSHA, headSHA = position.FilePath, position.BaseSHA, position.HeadSHA
		oldLine, newLine = position.OldLine, position.NewLine
	}
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO discussions (merge_request_id, file_path, old_line, new_line, base_sha, head_sha)
		VALUES ($1::bigint, $2, $3, $4, $5, $6)
		RETURNING id`,
		mergeRequestID, filePath, oldLine, newLine, baseSHA, headSHA).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create discussion on merge request %s: %w", mergeRequestID, err)
	}
	discussionID := fmt.Sprint(id)
	if err := p.AddDiscussionReply(ctx, discussionID, comment); err != nil {
		return "", err
	}
	return discussionID, nil
}

func (p *Postgres) AddDiscussionReply(ctx context.Context, discussionID string, comment source.Comment) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO discussion_comments (discussion_id, source_id, author, body)
		VALUES ($1::bigint, $2, $3, $4)`,
		discussionID, comment.ID, comment.Author.Username, comment.Body)
	if err != nil {
		return fmt.Errorf("add comment %d to discussion %s: %w", comment.ID, discussionID, err)
	}
	return nil
}
