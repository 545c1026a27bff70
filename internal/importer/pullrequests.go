package importer

import (
	"context"
	"strconv"

	"github.com/nucleus/migrate-core/internal/source"
)

// ImportPullRequests copies all pull requests as merge requests, together
// with their comment threads. A failing record is captured and skipped.
func (im *Importer) ImportPullRequests(ctx context.Context) {
	it, err := im.cfg.Source.PullRequests(ctx, im.cfg.Repo)
	if err != nil {
		im.errors.Record(CollectionPullRequests, "", err, nil)
		return
	}
	defer it.Close()

	stats := im.stats.Collection(CollectionPullRequests)
	for it.Next() {
		pr := it.Value()
		recordID := strconv.FormatInt(pr.ID, 10)

		imported, err := im.alreadyImported(ctx, CollectionPullRequests, recordID)
		if err != nil {
			im.errors.Record(CollectionPullRequests, recordID, err, nil)
			stats.Failed++
			continue
		}
		if imported {
			stats.Skipped++
			continue
		}

		mergeRequestID, err := im.cfg.Dest.CreateMergeRequest(ctx, im.cfg.ProjectID, pr)
		if err != nil {
			im.errors.Record(CollectionPullRequests, recordID, err, pr)
			stats.Failed++
			continue
		}

		im.importPullRequestComments(ctx, pr, mergeRequestID)

		if err := im.markImported(ctx, CollectionPullRequests, recordID); err != nil {
			im.errors.Record(CollectionPullRequests, recordID, err, nil)
		}
		im.recordImported(CollectionPullRequests)
	}
	if err := it.Err(); err != nil {
		im.errors.Record(CollectionPullRequests, "", err, nil)
	}
}

// importPullRequestComments threads one pull request's comments. Inline
// comments without a parent get a diff position computed from their file
// path and line hints, cached by source comment ID; replies inherit the
// parent's cached position rather than recomputing it, so a whole thread
// anchors to the same diff location. Each persisted comment records its
// discussion ID so later children can attach even when the source lists
// them before their parent. A child processed before its parent keeps a
// nil position; single-pass processing accepts that.
func (im *Importer) importPullRequestComments(ctx context.Context, pr source.PullRequest, mergeRequestID string) {
	it, err := im.cfg.Source.PullRequestComments(ctx, im.cfg.Repo, pr.Number)
	if err != nil {
		im.errors.Record(CollectionPullRequests, strconv.Itoa(pr.Number), err, nil)
		return
	}
	defer it.Close()

	positions := make(map[int64]*DiffPosition)
	discussions := make(map[int64]string)

	for it.Next() {
		comment := it.Value()
		recordID := strconv.FormatInt(comment.ID, 10)

		if !comment.Inline() {
			if err := im.cfg.Dest.CreateMergeRequestComment(ctx, im.cfg.ProjectID, mergeRequestID, comment); err != nil {
				im.errors.Record(CollectionPullRequests, recordID, err, comment)
			}
			continue
		}

		if comment.ParentID == nil {
			position := buildPosition(pr, comment)
			positions[comment.ID] = position

			discussionID, err := im.cfg.Dest.CreateDiscussion(ctx, im.cfg.ProjectID, mergeRequestID, comment, position)
			if err != nil {
				im.errors.Record(CollectionPullRequests, recordID, err, comment)
				continue
			}
			discussions[comment.ID] = discussionID
			continue
		}

		// Reply: inherit the parent's cached position, which stays nil
		// when the parent has not been processed yet.
		position := positions[*comment.ParentID]
		positions[comment.ID] = position

		if discussionID, ok := discussions[*comment.ParentID]; ok {
			if err := im.cfg.Dest.AddDiscussionReply(ctx, discussionID, comment); err != nil {
				im.errors.Record(CollectionPullRequests, recordID, err, comment)
				continue
			}
			discussions[comment.ID] = discussionID
			continue
		}

		discussionID, err := im.cfg.Dest.CreateDiscussion(ctx, im.cfg.ProjectID, mergeRequestID, comment, position)
		if err != nil {
			im.errors.Record(CollectionPullRequests, recordID, err, comment)
			continue
		}
		discussions[comment.ID] = discussionID
	}
	if err := it.Err(); err != nil {
		im.errors.Record(CollectionPullRequests, strconv.Itoa(pr.Number), err, nil)
	}
}

// buildPosition derives a diff position from a comment's file hints.
func buildPosition(pr source.PullRequest, comment source.Comment) *DiffPosition {
	if !comment.Inline() {
		return nil
	}
	return &DiffPosition{
		FilePath: comment.FilePath,
		OldLine:  comment.OldLine,
		NewLine:  comment.NewLine,
		BaseSHA:  pr.TargetSHA,
		HeadSHA:  pr.SourceSHA,
	}
}
