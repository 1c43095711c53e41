package guard

import (
	"fmt"
	"sort"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Thrash types.
const (
	ThrashRepeatedAction   = "repeated_action"
	ThrashRepeatedFileRead = "repeated_file_read"
	ThrashNoProgress       = "no_progress"
	ThrashRepeatedError    = "repeated_error"
)

// Suggested actions.
const (
	SuggestSwitchStrategy   = "switch_strategy"
	SuggestAskUser          = "ask_user"
	SuggestExternalReasoner = "use_external_reasoning"
)

// Thresholds configure the ThrashGuard detectors.
type Thresholds struct {
	RepeatedAction   int
	RepeatedFileRead int
	NoProgress       int
	RepeatedError    int
	// StopSeverity is the severity at which ShouldStop escalates.
	StopSeverity int
}

// DefaultThresholds returns the stock detector settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RepeatedAction:   3,
		RepeatedFileRead: 3,
		NoProgress:       5,
		RepeatedError:    2,
		StopSeverity:     9,
	}
}

// ThrashGuard runs cheap deterministic detectors over a run's action history.
type ThrashGuard struct {
	t Thresholds
}

// NewThrashGuard fills zero thresholds with defaults.
func NewThrashGuard(t Thresholds) *ThrashGuard {
	d := DefaultThresholds()
	if t.RepeatedAction <= 0 {
		t.RepeatedAction = d.RepeatedAction
	}
	if t.RepeatedFileRead <= 0 {
		t.RepeatedFileRead = d.RepeatedFileRead
	}
	if t.NoProgress <= 0 {
		t.NoProgress = d.NoProgress
	}
	if t.RepeatedError <= 0 {
		t.RepeatedError = d.RepeatedError
	}
	if t.StopSeverity <= 0 {
		t.StopSeverity = d.StopSeverity
	}
	return &ThrashGuard{t: t}
}

// Check runs the detectors in priority order and returns the first hit.
func (g *ThrashGuard) Check(state *models.AgentState) models.ThrashDetection {
	for _, detect := range []func(*models.AgentState) models.ThrashDetection{
		g.repeatedAction,
		g.repeatedFileRead,
		g.noProgress,
		g.repeatedError,
	} {
		if d := detect(state); d.Detected {
			return d
		}
	}
	return models.ThrashDetection{}
}

// ShouldStop reports whether the current detection is severe enough to end
// the run.
func (g *ThrashGuard) ShouldStop(state *models.AgentState) (bool, models.ThrashDetection) {
	d := g.Check(state)
	return d.Detected && d.Severity >= g.t.StopSeverity, d
}

// Handled clears the history behind d once the caller has acted on it, so
// the same reads are not reported again. The other detectors look at the
// most recent actions only and clear themselves once the run does
// something different.
func (g *ThrashGuard) Handled(state *models.AgentState, d models.ThrashDetection) {
	if d.ThrashType == ThrashRepeatedFileRead && d.Path != "" {
		state.ForgetFileReads(d.Path)
	}
}

func lastN(actions []models.ActionRecord, n int) ([]models.ActionRecord, bool) {
	if n <= 0 || len(actions) < n {
		return nil, false
	}
	return actions[len(actions)-n:], true
}

func (g *ThrashGuard) repeatedAction(state *models.AgentState) models.ThrashDetection {
	tail, ok := lastN(state.Actions, g.t.RepeatedAction)
	if !ok {
		return models.ThrashDetection{}
	}
	first := tail[0]
	for _, a := range tail[1:] {
		if a.Tool != first.Tool || a.ArgsKey != first.ArgsKey {
			return models.ThrashDetection{}
		}
	}
	return models.ThrashDetection{
		Detected:        true,
		ThrashType:      ThrashRepeatedAction,
		Severity:        7,
		Details:         fmt.Sprintf("last %d steps all called %s with %s", len(tail), first.Tool, first.ArgsKey),
		SuggestedAction: SuggestSwitchStrategy,
	}
}

func (g *ThrashGuard) repeatedFileRead(state *models.AgentState) models.ThrashDetection {
	paths := make([]string, 0, len(state.FileReads))
	for p := range state.FileReads {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if n := state.FileReads[p]; n >= g.t.RepeatedFileRead {
			return models.ThrashDetection{
				Detected:        true,
				ThrashType:      ThrashRepeatedFileRead,
				Severity:        6,
				Details:         fmt.Sprintf("%s has been read %d times", p, n),
				SuggestedAction: SuggestSwitchStrategy,
				Path:            p,
			}
		}
	}
	return models.ThrashDetection{}
}

func (g *ThrashGuard) noProgress(state *models.AgentState) models.ThrashDetection {
	tail, ok := lastN(state.Actions, g.t.NoProgress)
	if !ok {
		return models.ThrashDetection{}
	}
	allErrors := true
	sameFingerprint := true
	for _, a := range tail {
		if a.Error == "" {
			allErrors = false
		}
		if a.Fingerprint != tail[0].Fingerprint {
			sameFingerprint = false
		}
	}
	switch {
	case allErrors:
		return models.ThrashDetection{
			Detected:        true,
			ThrashType:      ThrashNoProgress,
			Severity:        8,
			Details:         fmt.Sprintf("last %d steps all failed", len(tail)),
			SuggestedAction: SuggestAskUser,
		}
	case sameFingerprint:
		return models.ThrashDetection{
			Detected:        true,
			ThrashType:      ThrashNoProgress,
			Severity:        5,
			Details:         fmt.Sprintf("state unchanged for %d steps", len(tail)),
			SuggestedAction: SuggestExternalReasoner,
		}
	}
	return models.ThrashDetection{}
}

func (g *ThrashGuard) repeatedError(state *models.AgentState) models.ThrashDetection {
	tail, ok := lastN(state.Actions, g.t.RepeatedError)
	if !ok {
		return models.ThrashDetection{}
	}
	msg := tail[0].Error
	if msg == "" {
		return models.ThrashDetection{}
	}
	for _, a := range tail[1:] {
		if a.Error != msg {
			return models.ThrashDetection{}
		}
	}
	return models.ThrashDetection{
		Detected:        true,
		ThrashType:      ThrashRepeatedError,
		Severity:        7,
		Details:         fmt.Sprintf("same error %d times: %s", len(tail), msg),
		SuggestedAction: SuggestAskUser,
	}
}

// Escalation turns a detection into a message a user can act on.
func Escalation(d models.ThrashDetection) string {
	if !d.Detected {
		return ""
	}
	var advice string
	switch d.SuggestedAction {
	case SuggestSwitchStrategy:
		advice = "try a different approach or tool instead of repeating the same call"
	case SuggestAskUser:
		advice = "the agent needs guidance; clarify the goal or fix the environment"
	case SuggestExternalReasoner:
		advice = "escalate to a stronger reasoning backend or rephrase the goal"
	default:
		advice = d.SuggestedAction
	}
	return fmt.Sprintf("agent is thrashing (%s, severity %d): %s; %s", d.ThrashType, d.Severity, d.Details, advice)
}
