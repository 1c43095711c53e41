package models

import "time"

// StopReason names why a run ended.
type StopReason string

const (
	StopGoalAchieved     StopReason = "goal_achieved"
	StopMaxSteps         StopReason = "max_steps"
	StopTimeout          StopReason = "timeout"
	StopBudgetExceeded   StopReason = "budget_exceeded"
	StopLoopDetected     StopReason = "loop_detected"
	StopNoProgress       StopReason = "no_progress"
	StopNoSteps          StopReason = "planner_returned_no_steps"
	StopUnsafeBlocked    StopReason = "unsafe_action_blocked"
	StopLLMError         StopReason = "llm_error"
	StopAborted          StopReason = "aborted"
	StopInternalError    StopReason = "internal_error"
	StopMaxIterations    StopReason = "max_iterations"
	StopRetriesExhausted StopReason = "retries_exhausted"
)

// ErrorDetail is the structured error stored in result.json.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RunResult is the terminal record of a run, persisted as result.json.
type RunResult struct {
	OK         bool         `json:"ok"`
	Success    bool         `json:"success"`
	StopReason StopReason   `json:"stop_reason"`
	Error      *ErrorDetail `json:"error"`
	Steps      int          `json:"steps"`
	Goal       string       `json:"goal"`
	RunID      string       `json:"run_id"`
	Reduced    bool         `json:"reduced,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Duration returns the wall-clock length of the run.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
