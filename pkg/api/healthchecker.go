package api

import (
	"fmt"
	"io"
)

// HealthcheckStatus is an enum that represents the outcome of a preflight
// check or fix.
type HealthcheckStatus string

var (
	// HealthcheckStatusOK indicates success in a healthcheck or a repair.
	HealthcheckStatusOK = HealthcheckStatus("ok")
	// HealthcheckStatusFailed indicates the outcome of a healthcheck or an
	// attempted fix was negative.
	HealthcheckStatusFailed = HealthcheckStatus("failed")
	// HealthcheckStatusAborted indicates an internal error during the execution
	// of a healthcheck or a fix.
	HealthcheckStatusAborted = HealthcheckStatus("aborted")
	// HealthcheckStatusOmitted indicates that a healthcheck or a fix was not
	// carried out due to previous errors.
	HealthcheckStatusOmitted = HealthcheckStatus("omitted")
)

// HealthcheckItem represents an entry in a HealthcheckReport. It is used to
// convey the result of checks and fixes.
type HealthcheckItem struct {
	// Name is a short name describing this item.
	Name string `json:"name"`
	// Status is the status of this check/fix.
	Status HealthcheckStatus `json:"status"`
	// Message optionally contains any human-readable messages to be presented
	// to the user.
	Message string `json:"message,omitempty"`
}

type HealthcheckReport struct {
	// Checks enumerates the outcomes of the health checks.
	Checks []HealthcheckItem `json:"checks"`

	// Fixes enumerates the outcomes of the fixes applied during repair, if a
	// repair was requested.
	Fixes []HealthcheckItem `json:"fixes"`
}

// ChecksSucceeded returns true if all checks succeeded.
func (hr *HealthcheckReport) ChecksSucceeded() bool {
	for _, c := range hr.Checks {
		if c.Status != HealthcheckStatusOK {
			return false
		}
	}
	return true
}

// FixesSucceeded returns true if every attempted fix succeeded.
func (hr *HealthcheckReport) FixesSucceeded() bool {
	for _, f := range hr.Fixes {
		if f.Status != HealthcheckStatusOK && f.Status != HealthcheckStatusOmitted {
			return false
		}
	}
	return true
}

// Print writes a human readable version of the report.
func (hr *HealthcheckReport) Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, "checks:")
	for _, c := range hr.Checks {
		_, _ = fmt.Fprintf(w, "* %s: %s; %s\n", c.Name, c.Status, c.Message)
	}
	if len(hr.Fixes) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nfixes:")
	for _, f := range hr.Fixes {
		_, _ = fmt.Fprintf(w, "* %s: %s; %s\n", f.Name, f.Status, f.Message)
	}
}
