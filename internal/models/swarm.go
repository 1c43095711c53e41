package models

import "time"

// Isolation selects how a subtask's workspace is provisioned.
type Isolation string

const (
	IsolationNone     Isolation = "none"
	IsolationSandbox  Isolation = "sandbox"
	IsolationWorktree Isolation = "worktree"
)

// Valid reports whether i is a known isolation mode.
func (i Isolation) Valid() bool {
	switch i {
	case IsolationNone, IsolationSandbox, IsolationWorktree:
		return true
	}
	return false
}

// QACheck is one artifact check within a run directory.
type QACheck struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// QAResult is the validation outcome for one subtask run directory.
type QAResult struct {
	SubtaskID string    `json:"subtask_id"`
	RunDir    string    `json:"run_dir"`
	Passed    bool      `json:"passed"`
	Checks    []QACheck `json:"checks"`
}

// TestRun is the outcome of the optional QA test command.
type TestRun struct {
	Command  string        `json:"command"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SwarmSummary aggregates a finished swarm run.
type SwarmSummary struct {
	RunID     string           `json:"run_id"`
	Objective string           `json:"objective"`
	RunDir    string           `json:"run_dir"`
	Outcomes  []SubtaskOutcome `json:"outcomes"`
	QA        []QAResult       `json:"qa"`
	Test      *TestRun         `json:"test,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Counts returns succeeded, failed and reduced subtask totals.
func (s SwarmSummary) Counts() (succeeded, failed, reduced int) {
	for _, o := range s.Outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		if o.Reduced {
			reduced++
		}
	}
	return succeeded, failed, reduced
}

// QAPassed reports whether every artifact check and the test command passed.
func (s SwarmSummary) QAPassed() bool {
	for _, q := range s.QA {
		if !q.Passed {
			return false
		}
	}
	return s.Test == nil || s.Test.Passed
}
