package importer

import (
	"context"
	"strconv"
)

// ImportIssues copies all issues and their discussion comments. A failing
// issue or comment is captured and skipped; the collection continues.
func (im *Importer) ImportIssues(ctx context.Context) {
	it, err := im.cfg.Source.Issues(ctx, im.cfg.Repo)
	if err != nil {
		im.errors.Record(CollectionIssues, "", err, nil)
		return
	}
	defer it.Close()

	stats := im.stats.Collection(CollectionIssues)
	for it.Next() {
		issue := it.Value()
		recordID := strconv.FormatInt(issue.ID, 10)

		imported, err := im.alreadyImported(ctx, CollectionIssues, recordID)
		if err != nil {
			im.errors.Record(CollectionIssues, recordID, err, nil)
			stats.Failed++
			continue
		}
		if imported {
			stats.Skipped++
			continue
		}

		localID, err := im.cfg.Dest.CreateIssue(ctx, im.cfg.ProjectID, issue)
		if err != nil {
			im.errors.Record(CollectionIssues, recordID, err, issue)
			stats.Failed++
			continue
		}

		im.importIssueComments(ctx, issue.Number, localID)

		if err := im.markImported(ctx, CollectionIssues, recordID); err != nil {
			im.errors.Record(CollectionIssues, recordID, err, nil)
		}
		im.recordImported(CollectionIssues)
	}
	if err := it.Err(); err != nil {
		im.errors.Record(CollectionIssues, "", err, nil)
	}
}

// importIssueComments copies the discussion comments of one issue. Comment
// failures are captured against the issue but never undo it.
func (im *Importer) importIssueComments(ctx context.Context, number int, issueID string) {
	it, err := im.cfg.Source.IssueComments(ctx, im.cfg.Repo, number)
	if err != nil {
		im.errors.Record(CollectionIssues, strconv.Itoa(number), err, nil)
		return
	}
	defer it.Close()

	for it.Next() {
		comment := it.Value()
		if err := im.cfg.Dest.CreateIssueComment(ctx, im.cfg.ProjectID, issueID, comment); err != nil {
			im.errors.Record(CollectionIssues, strconv.FormatInt(comment.ID, 10), err, comment)
		}
	}
	if err := it.Err(); err != nil {
		im.errors.Record(CollectionIssues, strconv.Itoa(number), err, nil)
	}
}
