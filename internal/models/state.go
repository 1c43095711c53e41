package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ActionRecord is one executed step as seen by the thrash guard.
type ActionRecord struct {
	Tool        string `json:"tool"`
	ArgsKey     string `json:"args_key"`
	Path        string `json:"path,omitempty"`
	Error       string `json:"error,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// AgentState is the working memory of a single run. It is owned by exactly
// one runner and is not safe for concurrent use.
type AgentState struct {
	Task           string
	RollingSummary string
	Observations   []Observation
	CurrentPlan    *Plan
	CurrentStepIdx int

	Actions   []ActionRecord
	FileReads map[string]int
}

// NewAgentState returns an empty state for task.
func NewAgentState(task string) *AgentState {
	return &AgentState{Task: task, FileReads: make(map[string]int)}
}

// Observe appends an observation to history.
func (s *AgentState) Observe(obs Observation) {
	s.Observations = append(s.Observations, obs)
}

// TakeOldest removes and returns the n oldest observations.
func (s *AgentState) TakeOldest(n int) []Observation {
	if n <= 0 {
		return nil
	}
	if n > len(s.Observations) {
		n = len(s.Observations)
	}
	taken := make([]Observation, n)
	copy(taken, s.Observations[:n])
	s.Observations = append([]Observation(nil), s.Observations[n:]...)
	return taken
}

// SetPlan makes p the current plan, replacing any previous one.
func (s *AgentState) SetPlan(p *Plan) {
	s.CurrentPlan = p
	s.CurrentStepIdx = 0
}

// DiscardPlan drops the current plan.
func (s *AgentState) DiscardPlan() {
	s.CurrentPlan = nil
	s.CurrentStepIdx = 0
}

// CurrentStep returns the step at the plan cursor.
func (s *AgentState) CurrentStep() (Step, bool) {
	if s.CurrentPlan == nil || s.CurrentStepIdx >= len(s.CurrentPlan.Steps) {
		return Step{}, false
	}
	return s.CurrentPlan.Steps[s.CurrentStepIdx], true
}

// Advance moves the plan cursor forward.
func (s *AgentState) Advance() { s.CurrentStepIdx++ }

// PlanExhausted reports whether there is no step left to run.
func (s *AgentState) PlanExhausted() bool {
	_, ok := s.CurrentStep()
	return !ok
}

// RecordAction appends a record for an executed step, counting file reads.
func (s *AgentState) RecordAction(rec ActionRecord) {
	if s.FileReads == nil {
		s.FileReads = make(map[string]int)
	}
	if rec.Path != "" {
		s.FileReads[rec.Path]++
	}
	s.Actions = append(s.Actions, rec)
}

// ForgetFileReads resets the read count of path.
func (s *AgentState) ForgetFileReads(path string) {
	delete(s.FileReads, path)
}

// Fingerprint hashes the rolling summary together with the latest
// observation's facts. It only changes when the run learns something new.
func (s *AgentState) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(s.RollingSummary))
	if n := len(s.Observations); n > 0 {
		last := s.Observations[n-1]
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(last.SalientFacts, "\n")))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ThrashDetection is the outcome of one thrash check. It is recomputed on
// every check.
type ThrashDetection struct {
	Detected        bool   `json:"detected"`
	ThrashType      string `json:"thrash_type,omitempty"`
	Severity        int    `json:"severity"`
	Details         string `json:"details,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
	// Path is the file behind a repeated_file_read detection.
	Path string `json:"path,omitempty"`
}
