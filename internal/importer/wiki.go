package importer

import (
	"context"
)

// ImportWiki copies the project's wiki pages. A listing failure or a
// failing page is captured on the error list; the rest of the import
// still proceeds.
func (im *Importer) ImportWiki(ctx context.Context) {
	it, err := im.cfg.Source.WikiPages(ctx, im.cfg.Repo)
	if err != nil {
		im.errors.Record(CollectionWiki, "", err, nil)
		return
	}
	defer it.Close()

	stats := im.stats.Collection(CollectionWiki)
	for it.Next() {
		page := it.Value()

		imported, err := im.alreadyImported(ctx, CollectionWiki, page.Slug)
		if err != nil {
			im.errors.Record(CollectionWiki, page.Slug, err, nil)
			stats.Failed++
			continue
		}
		if imported {
			stats.Skipped++
			continue
		}

		if err := im.cfg.Dest.CreateWikiPage(ctx, im.cfg.ProjectID, page); err != nil {
			im.errors.Record(CollectionWiki, page.Slug, err, page)
			stats.Failed++
			continue
		}
		if err := im.markImported(ctx, CollectionWiki, page.Slug); err != nil {
			im.errors.Record(CollectionWiki, page.Slug, err, nil)
		}
		im.recordImported(CollectionWiki)
	}
	if err := it.Err(); err != nil {
		im.errors.Record(CollectionWiki, "", err, nil)
	}
}
