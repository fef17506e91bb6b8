// Package healthcheck runs the preflight checks of a worker host, fixing
// what it can.
package healthcheck

import (
	"context"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// Checker is a function that checks whether a precondition is met. It returns
// whether the check succeeded, an optional message to present to the user, and
// error in case the check logic itself failed.
//
//   (true, *, nil) => HealthcheckStatusOK
//   (false, *, nil) => HealthcheckStatusFailed
//   (false, *, not-nil) => HealthcheckStatusAborted
type Checker func(ctx context.Context) (ok bool, msg string, err error)

type item struct {
	Name    string
	Checker Checker
	Fixer   Fixer
}

// Helper runs each check, and optionally its fix, sequentially in the order
// they are Enlist()'ed.
type Helper struct {
	items []*item
}

// Enlist registers a check. f may be nil when nothing can be done about a
// failure.
func (h *Helper) Enlist(name string, c Checker, f Fixer) {
	h.items = append(h.items, &item{name, c, f})
}

func (h *Helper) RunChecks(ctx context.Context, fix bool) *api.HealthcheckReport {
	report := &api.HealthcheckReport{}
	omitted := func(name string) {
		if fix {
			report.Fixes = append(report.Fixes, api.HealthcheckItem{Name: name, Status: api.HealthcheckStatusOmitted})
		}
	}

	for _, li := range h.items {
		check := api.HealthcheckItem{Name: li.Name}

		ok, msg, err := li.Checker(ctx)
		check.Message = msg
		switch {
		case err != nil:
			check.Status = api.HealthcheckStatusAborted
			check.Message = msg + " " + err.Error()
			report.Checks = append(report.Checks, check)
			omitted(li.Name)

		case ok:
			check.Status = api.HealthcheckStatusOK
			report.Checks = append(report.Checks, check)
			omitted(li.Name)

		default:
			check.Status = api.HealthcheckStatusFailed
			report.Checks = append(report.Checks, check)

			if !fix || li.Fixer == nil {
				omitted(li.Name)
				break
			}

			f := api.HealthcheckItem{Name: li.Name, Status: api.HealthcheckStatusOK}
			if f.Message, err = li.Fixer(ctx); err != nil {
				f.Status = api.HealthcheckStatusFailed
				f.Message += " " + err.Error()
			}
			report.Fixes = append(report.Fixes, f)
		}
	}
	return report
}
