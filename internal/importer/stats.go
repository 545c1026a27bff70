package importer

import (
	"encoding/json"
	"sort"
	"time"
)

// CollectionStats counts outcomes for one collection.
type CollectionStats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Stats holds per-collection counters for one run.
type Stats struct {
	collections map[string]*CollectionStats
}

// NewStats creates empty counters.
func NewStats() *Stats {
	return &Stats{collections: make(map[string]*CollectionStats)}
}

// Collection returns the counters for a collection, creating them if needed.
func (s *Stats) Collection(name string) *CollectionStats {
	if cs, ok := s.collections[name]; ok {
		return cs
	}
	cs := &CollectionStats{}
	s.collections[name] = cs
	return cs
}

// Collections returns the tracked collection names, sorted.
func (s *Stats) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders the counters keyed by collection name.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.collections)
}

// Report is the run summary archived after an import finishes.
type Report struct {
	ProjectID  string        `json:"projectId"`
	Stats      *Stats        `json:"stats"`
	Errors     []ImportError `json:"errors,omitempty"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Report builds the archivable summary of this run.
func (im *Importer) Report() *Report {
	return &Report{
		ProjectID:  im.cfg.ProjectID,
		Stats:      im.stats,
		Errors:     im.errors.All(),
		FinishedAt: time.Now().UTC(),
	}
}
