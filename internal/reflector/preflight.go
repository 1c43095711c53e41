package reflector

import (
	"fmt"
	"regexp"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Risk is the result of a pre-execution check.
type Risk struct {
	// Block is set for commands that destroy data outside the agent's
	// control. The runner refuses them unless unsafe mode is on.
	Block   bool     `json:"block"`
	Reasons []string `json:"reasons,omitempty"`
}

// Risky reports whether any reason was found.
func (r Risk) Risky() bool { return r.Block || len(r.Reasons) > 0 }

var destructiveCommands = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f?\s+(/|~|\*|\.\s*$)`),
	regexp.MustCompile(`\bgit\s+push\b.*(--force|-f\b)`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\s+-[a-zA-Z]*f`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
}

// Preflight predicts whether step is likely to fail or do damage, using the
// tool catalog entry and the run's action history.
func Preflight(step models.Step, spec models.ToolSpec, known bool, state *models.AgentState) Risk {
	var r Risk
	if !known && !step.IsFinish() {
		r.Reasons = append(r.Reasons, fmt.Sprintf("tool %q is not in the catalog", step.ToolName))
	}
	if spec.Dangerous {
		r.Reasons = append(r.Reasons, fmt.Sprintf("tool %q is marked dangerous", step.ToolName))
	}
	if cmd := step.StringArg("command"); cmd != "" {
		for _, re := range destructiveCommands {
			if re.MatchString(cmd) {
				r.Block = true
				r.Reasons = append(r.Reasons, fmt.Sprintf("command matches destructive pattern %s", re.String()))
				break
			}
		}
	}
	if state != nil {
		key := step.ArgsKey()
		for i := len(state.Actions) - 1; i >= 0; i-- {
			a := state.Actions[i]
			if a.Tool == step.ToolName && a.ArgsKey == key && a.Error != "" {
				r.Reasons = append(r.Reasons, fmt.Sprintf("identical call failed before: %s", oneLine(a.Error, 120)))
				break
			}
		}
	}
	return r
}
