package staleness

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/crx-builder/internal/repository/record"
)

// Reason explains a Verdict.
type Reason string

const (
	// ReasonMissingRecord means no record exists yet.
	ReasonMissingRecord Reason = "missing-record"
	// ReasonInvalidRecord means the record could not be parsed as a number.
	ReasonInvalidRecord Reason = "invalid-record"
	// ReasonSourcesChanged means a source entry is newer than the record.
	ReasonSourcesChanged Reason = "sources-changed"
	// ReasonUpToDate means the record covers every source entry.
	ReasonUpToDate Reason = "up-to-date"
)

// ErrNoSources is returned when the source directory has no entries.
var ErrNoSources = errors.New("source directory is empty")

// Verdict is the outcome of Check.
type Verdict struct {
	// Rebuild is true when the unit's outputs are out of date.
	Rebuild bool
	// Reason tells apart the conditions leading to the decision.
	Reason Reason
	// LatestSource is the newest source mtime in epoch seconds. The
	// builder persists exactly this value after a successful build.
	LatestSource float64
	// Recorded is the parsed record value, zero unless the record was valid.
	Recorded float64
}

// Tracker decides staleness for one unit.
type Tracker struct {
	// sourceDir holds the files whose mtimes are compared.
	sourceDir string
	// records reads the persisted timestamp.
	records record.Repository
}

// NewTracker creates a Tracker over sourceDir backed by records.
func NewTracker(sourceDir string, records record.Repository) *Tracker {
	return &Tracker{
		sourceDir: sourceDir,
		records:   records,
	}
}

// Check compares the source directory against the record. It never writes.
func (t *Tracker) Check(ctx context.Context) (*Verdict, error) {
	latest, err := LatestModification(t.sourceDir)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{LatestSource: latest}

	recorded, err := t.records.Load(ctx)

	switch {
	case errors.Is(err, record.ErrNotFound):
		verdict.Rebuild, verdict.Reason = true, ReasonMissingRecord
	case errors.Is(err, record.ErrInvalid):
		verdict.Rebuild, verdict.Reason = true, ReasonInvalidRecord
	case err != nil:
		return nil, err
	case recorded < latest:
		verdict.Rebuild, verdict.Reason, verdict.Recorded = true, ReasonSourcesChanged, recorded
	default:
		verdict.Reason, verdict.Recorded = ReasonUpToDate, recorded
	}

	return verdict, nil
}

// LatestModification returns the newest mtime, in epoch seconds, among
// the direct entries of dir. Subdirectories count by their own mtime and
// are not descended into.
func LatestModification(dir string) (float64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoSources, dir)
	}

	var latest float64

	for i, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		if mtime := record.Seconds(info.ModTime()); i == 0 || mtime > latest {
			latest = mtime
		}
	}

	return latest, nil
}
