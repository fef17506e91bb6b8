package experiment

import (
	"github.com/dfsbench/dfsbench/pkg/state"
)

const (
	fieldTimes    = "times"
	fieldExecuted = "executed"
)

// Planned is an experiment left to run, with its remaining executions.
type Planned struct {
	Info
	Remaining int
}

// Progress persists how many times each experiment was executed on a
// network, so a restarted worker only runs what is left.
type Progress struct {
	entry *state.Entry
}

func NewProgress(store *state.Store, network string) *Progress {
	return &Progress{entry: store.Entry("progress/" + network)}
}

// Plan returns the experiments left to run. On first use it records times
// and every selected experiment; afterwards it resumes from the recorded
// state, omitting experiments that already completed.
func (p *Progress) Plan(infos []Info, times int) ([]Planned, error) {
	var (
		recorded int
		executed map[string]int
	)
	ok, err := p.entry.Field(fieldTimes, &recorded)
	if err != nil {
		return nil, err
	}
	if !ok {
		executed = make(map[string]int, len(infos))
		for _, i := range infos {
			executed[i.Name()] = 0
		}
		if err := p.entry.SetField(fieldExecuted, executed); err != nil {
			return nil, err
		}
		if err := p.entry.SetField(fieldTimes, times); err != nil {
			return nil, err
		}
		recorded = times
	} else if _, err := p.entry.Field(fieldExecuted, &executed); err != nil {
		return nil, err
	}

	var out []Planned
	for _, i := range infos {
		n, ok := executed[i.Name()]
		if !ok || n >= recorded {
			continue
		}
		out = append(out, Planned{Info: i, Remaining: recorded - n})
	}
	return out, nil
}

// Done records one more execution of the named experiment.
func (p *Progress) Done(name string) error {
	executed := make(map[string]int)
	if _, err := p.entry.Field(fieldExecuted, &executed); err != nil {
		return err
	}
	executed[name]++
	return p.entry.SetField(fieldExecuted, executed)
}

// Clear forgets the progress.
func (p *Progress) Clear() error {
	return p.entry.Clear()
}
