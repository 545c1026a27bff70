package importer

import (
	"context"
	"fmt"
)

// defaultLabels is the fixed label set created before issues are imported,
// so imported records can reference them.
var defaultLabels = []Label{
	{Name: "bug", Color: "#d9534f"},
	{Name: "enhancement", Color: "#428bca"},
	{Name: "proposal", Color: "#3c763d"},
	{Name: "task", Color: "#4d4d4d"},
}

// BootstrapLabels creates the default labels. Labels are a hard
// prerequisite for the issue import: any single failure is fatal for the
// whole import, unlike per-record failures.
func (im *Importer) BootstrapLabels(ctx context.Context) error {
	for _, label := range defaultLabels {
		if err := im.cfg.Dest.CreateLabel(ctx, im.cfg.ProjectID, label); err != nil {
			return fmt.Errorf("create label %q: %w", label.Name, err)
		}
	}
	return nil
}
