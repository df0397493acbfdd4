// Package manifest records extraction runs and decides whether the last one
// still matches the host binary.
package manifest

import (
	"context"
	"fmt"
	"os"
	"time"
)

// RunRecord summarizes one completed extraction run.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	Fingerprint string         `json:"fingerprint"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Attempted   int            `json:"attempted"`
	Skipped     int            `json:"skipped"`
	Current     bool           `json:"current"`
	Kinds       map[string]int `json:"kinds,omitempty"` // records written per kind
}

// SkipRatio returns Skipped / Attempted, or 0 when nothing was attempted.
func (r *RunRecord) SkipRatio() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Skipped) / float64(r.Attempted)
}

// Store persists the most recent run record.
type Store interface {
	// Load returns the latest record, or nil if no run was recorded.
	Load(ctx context.Context) (*RunRecord, error)
	Save(ctx context.Context, rec *RunRecord) error
}

// Fingerprint identifies a host build by the binary's size and modification
// time plus a version tag.
func Fingerprint(binary, version string) (string, error) {
	info, err := os.Stat(binary)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", binary, err)
	}
	return fmt.Sprintf("%d:%d:%s", info.Size(), info.ModTime().Unix(), version), nil
}

// IsCurrent reports whether rec was a stable run of the build identified by
// fingerprint.
func IsCurrent(rec *RunRecord, fingerprint string) bool {
	return rec != nil && rec.Current && fingerprint != "" && rec.Fingerprint == fingerprint
}
