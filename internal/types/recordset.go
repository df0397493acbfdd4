// Package types contains shared types used across multiple packages to avoid import cycles.
package types

import "time"

// RecordSet is the finished output of one kind's pipeline pass.
type RecordSet struct {
	Kind    string
	Records []*Record
	Stats   ExtractionStats
}

// ExtractionStats contains statistics about one kind's extraction.
type ExtractionStats struct {
	Candidates int           // Instances returned by the winning load strategy
	Attempted  int           // Candidates examined in Phase 1
	Dropped    int           // Candidates already dead in Phase 1
	Skipped    int           // Records whose owner died before Phase 2
	Backfilled int           // Records named in Phase 3
	Strategy   string        // Load strategy that produced the candidates
	Duration   time.Duration // Time from Load to Release
}

// IDs returns the record names in order.
func (rs *RecordSet) IDs() []string {
	ids := make([]string, 0, len(rs.Records))
	for _, r := range rs.Records {
		ids = append(ids, r.Name)
	}
	return ids
}
