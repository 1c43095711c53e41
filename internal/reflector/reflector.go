// Package reflector classifies the outcome of an executed step so the runner
// knows whether to advance, repair the step, or drop the plan.
package reflector

import (
	"context"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Failure types assigned by Classify.
const (
	FailureUnknownTool       = "unknown_tool"
	FailureOutsideWorkspace  = "outside_workspace"
	FailureInvalidArgs       = "invalid_args"
	FailureNotFound          = "not_found"
	FailurePermission        = "permission_error"
	FailureTimeout           = "timeout"
	FailureCompilation       = "compilation_error"
	FailureTestFailure       = "test_failure"
	FailureDependencyMissing = "dependency_missing"
	FailureRuntime           = "runtime_error"
	FailureSyntax            = "syntax_error"
	FailureUnknown           = "unknown"
)

// failurePatterns is checked in order; the first match wins.
var failurePatterns = []struct {
	kind     string
	keywords []string
}{
	{FailureUnknownTool, []string{"unknown tool"}},
	{FailureOutsideWorkspace, []string{"escapes workspace", "outside workspace", "outside the workspace"}},
	{FailureInvalidArgs, []string{"argument", "is required", "must be a", "invalid"}},
	{FailureTimeout, []string{"timeout", "timed out", "deadline exceeded", "deadline"}},
	{FailurePermission, []string{"permission denied", "access denied", "forbidden", "unauthorized", "not permitted"}},
	{FailureCompilation, []string{"compilation error", "compilation failed", "build failed", "build error", "cannot compile", "undefined:"}},
	{FailureTestFailure, []string{"test failed", "tests failed", "--- fail", "assertion failed", "fail\t"}},
	{FailureDependencyMissing, []string{"module not found", "package not found", "cannot find module", "cannot find package", "command not found", "missing package", "import error"}},
	{FailureNotFound, []string{"no such file", "not found", "does not exist"}},
	{FailureRuntime, []string{"panic", "segmentation fault", "nil pointer", "stack overflow", "runtime error"}},
	{FailureSyntax, []string{"syntax error", "unexpected token", "parse error"}},
}

// repairable failures are fixed by adjusting the same step.
var repairable = map[string]bool{
	FailureInvalidArgs: true,
	FailureNotFound:    true,
	FailureTimeout:     true,
	FailureSyntax:      true,
	FailureUnknown:     true,
}

var hints = map[string]string{
	FailureUnknownTool:       "use only tools from the catalog",
	FailureOutsideWorkspace:  "keep every path relative to the workspace root",
	FailureInvalidArgs:       "supply every required argument with the right type",
	FailureNotFound:          "list the directory first and use a path that exists",
	FailurePermission:        "choose an approach that does not need elevated access",
	FailureTimeout:           "split the work into a smaller command",
	FailureCompilation:       "read the compiler output and fix the reported file first",
	FailureTestFailure:       "read the failing test before changing code",
	FailureDependencyMissing: "check which tools and modules are installed before using them",
	FailureRuntime:           "inspect the stack trace and guard the failing path",
	FailureSyntax:            "re-check quoting and syntax of the arguments",
	FailureUnknown:           "adjust the step using the error message",
}

// Classify maps error text to a failure type by keyword.
func Classify(text string) string {
	lower := strings.ToLower(text)
	for _, p := range failurePatterns {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return p.kind
			}
		}
	}
	return FailureUnknown
}

// Hint returns the recovery hint for a failure type.
func Hint(failureType string) string {
	if h, ok := hints[failureType]; ok {
		return h
	}
	return hints[FailureUnknown]
}

// Reflector turns a step outcome into a Reflection. Without a critic it is
// purely heuristic.
type Reflector struct {
	critic llm.Backend
}

// New returns a reflector. critic may be nil.
func New(critic llm.Backend) *Reflector {
	return &Reflector{critic: critic}
}

// UsesCritic reports whether failures are sent to the reasoning backend.
func (r *Reflector) UsesCritic() bool { return r.critic != nil }

// Reflect classifies the outcome of step. Successful steps are never sent
// to the critic. A critic error is returned as is.
func (r *Reflector) Reflect(ctx context.Context, task string, step models.Step, res models.ToolResult) (models.Reflection, error) {
	if res.Success {
		return models.Reflection{
			Status:      models.ReflectionSuccess,
			Explanation: fmt.Sprintf("%s succeeded", step.ToolName),
		}, nil
	}

	base := Heuristic(step, res)
	if r.critic == nil {
		return base, nil
	}

	var out criticReply
	if err := r.critic.CompleteJSON(ctx, criticPrompt(task, step, res, base), criticSchema, &out); err != nil {
		return base, err
	}
	status := models.ReflectionStatus(out.Status)
	if !status.Valid() || status == models.ReflectionSuccess {
		// A failed tool call cannot be a success; keep the heuristic verdict.
		return base, nil
	}
	refl := base
	refl.Status = status
	if out.Explanation != "" {
		refl.Explanation = out.Explanation
	}
	if out.NextHint != "" {
		refl.NextHint = out.NextHint
	}
	if out.Lesson != "" {
		refl.Lesson = out.Lesson
	}
	return refl, nil
}

// Heuristic reflects on a failed result without a reasoning call.
func Heuristic(step models.Step, res models.ToolResult) models.Reflection {
	ft := Classify(res.Error + "\n" + res.Output)
	status := models.ReflectionReplan
	if res.Retryable || repairable[ft] {
		status = models.ReflectionMinorRepair
	}
	return models.Reflection{
		Status:      status,
		Explanation: fmt.Sprintf("%s failed (%s): %s", step.ToolName, ft, oneLine(res.Error, 160)),
		NextHint:    Hint(ft),
		FailureType: ft,
		Lesson:      Lesson(step, ft, res.Error),
	}
}

// Lesson is the reflexion text remembered for future runs.
func Lesson(step models.Step, failureType, errText string) string {
	return fmt.Sprintf("When %q used %s %s it failed with %s (%s); %s.",
		oneLine(step.Goal, 80), step.ToolName, step.ArgsKey(), failureType, oneLine(errText, 120), Hint(failureType))
}

type criticReply struct {
	Status      string `json:"status"`
	Explanation string `json:"explanation"`
	NextHint    string `json:"next_hint"`
	Lesson      string `json:"lesson"`
}

const criticSchema = `{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["minor_repair", "replan"]},
    "explanation": {"type": "string"},
    "next_hint": {"type": "string"},
    "lesson": {"type": "string"}
  },
  "required": ["status", "explanation"]
}`

func criticPrompt(task string, step models.Step, res models.ToolResult, base models.Reflection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	fmt.Fprintf(&b, "Step %s: %s\nTool: %s %s\n", step.ID, step.Goal, step.ToolName, step.ArgsKey())
	if len(step.SuccessCriteria) > 0 {
		fmt.Fprintf(&b, "Success criteria: %s\n", strings.Join(step.SuccessCriteria, "; "))
	}
	fmt.Fprintf(&b, "\nThe tool failed.\nError: %s\nOutput: %s\n", oneLine(res.Error, 500), oneLine(res.Output, 1000))
	fmt.Fprintf(&b, "Heuristic classification: %s\n\n", base.FailureType)
	b.WriteString("Decide whether a small repair of this step is enough (minor_repair) or the plan must be rebuilt (replan). ")
	b.WriteString("Give a short next_hint for the planner and a one-sentence lesson worth remembering.")
	return b.String()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return models.Clip(s, n) + "..."
	}
	return s
}
