package models

// Phase is a step of the team-mode state machine.
type Phase string

const (
	PhaseObserve  Phase = "OBSERVE"
	PhaseResearch Phase = "RESEARCH"
	PhasePlan     Phase = "PLAN"
	PhaseAskUser  Phase = "ASK_USER"
	PhaseExecute  Phase = "EXECUTE"
	PhaseVerify   Phase = "VERIFY"
	PhaseReflect  Phase = "REFLECT"
	PhaseDone     Phase = "DONE"
	PhaseAbort    Phase = "ABORT"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseAbort }

// QAPair is one question asked of the user and its answer.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// OrchestratorState is mutated in place as the supervisor moves between
// phases. It is checkpointed to disk after every phase.
type OrchestratorState struct {
	Phase              Phase          `json:"phase"`
	StepIndex          int            `json:"step_index"`
	Retries            map[string]int `json:"retries"`
	LastError          string         `json:"last_error,omitempty"`
	LastToolResult     *ToolResult    `json:"last_tool_result,omitempty"`
	LastPlan           *Plan          `json:"last_plan,omitempty"`
	LastResearch       string         `json:"last_research,omitempty"`
	QAPairs            []QAPair       `json:"qa_pairs,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	ContextFingerprint string         `json:"context_fingerprint,omitempty"`
	Iterations         int            `json:"iterations"`
	AbortReason        string         `json:"abort_reason,omitempty"`
}

// NewOrchestratorState starts in OBSERVE.
func NewOrchestratorState() *OrchestratorState {
	return &OrchestratorState{
		Phase:   PhaseObserve,
		Retries: make(map[string]int),
		Context: make(map[string]any),
	}
}
