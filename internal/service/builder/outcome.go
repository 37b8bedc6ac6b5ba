package builder

import (
	"go.uber.org/multierr"

	"github.com/oshokin/crx-builder/internal/staleness"
)

// Status is the result of processing one unit.
type Status string

const (
	// StatusBuilt means the unit was repackaged.
	StatusBuilt Status = "built"
	// StatusUpToDate means nothing had to be done.
	StatusUpToDate Status = "up-to-date"
	// StatusFailed means a step failed and the unit was skipped.
	StatusFailed Status = "failed"
)

// Outcome describes what happened to one unit.
type Outcome struct {
	// Unit is the unit name.
	Unit string
	// Status is the unit result.
	Status Status
	// ID is the extension identifier, empty if it could not be derived.
	ID string
	// Reason is the staleness verdict reason, empty if the check failed.
	Reason staleness.Reason
	// Err is set when Status is StatusFailed.
	Err error
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	// Outcomes are in processing order.
	Outcomes []Outcome
	// err collects unit failures and run-level errors.
	err error
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.err = multierr.Append(s.err, o.Err)
}

func (s *Summary) fail(err error) {
	s.err = multierr.Append(s.err, err)
}

// Count returns the number of outcomes with status st.
func (s *Summary) Count(st Status) int {
	n := 0

	for _, o := range s.Outcomes {
		if o.Status == st {
			n++
		}
	}

	return n
}

// Err returns every failure of the run combined, or nil.
func (s *Summary) Err() error {
	return s.err
}

// Errors returns the failures of the run one by one.
func (s *Summary) Errors() []error {
	return multierr.Errors(s.err)
}
