package swarm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

const traceTailLines = 5

// ExpectedArtifacts lists the files a subtask's run directory must hold.
// Artifacts naming a path outside the run directory are ignored.
func ExpectedArtifacts(st models.Subtask) []string {
	out := []string{rundir.ResultFile, rundir.TraceFile}
	for _, a := range st.Artifacts {
		a = filepath.Clean(strings.TrimSpace(a))
		if a == "." || !models.LocalArtifact(a) || a == rundir.ResultFile || a == rundir.TraceFile {
			continue
		}
		out = append(out, a)
	}
	return out
}

// MissingArtifacts returns the expected files absent from runDir.
func MissingArtifacts(st models.Subtask, runDir string) []string {
	var missing []string
	for _, a := range ExpectedArtifacts(st) {
		if _, err := os.Stat(filepath.Join(runDir, a)); err != nil {
			missing = append(missing, a)
		}
	}
	return missing
}

// ReducedGoal rewrites st's goal after some of its dependencies failed.
// The dependent still runs, but only to summarise what failed, what is
// missing and what the next run should attempt.
func ReducedGoal(st models.Subtask, failed []models.SubtaskOutcome) string {
	ids := make([]string, len(failed))
	for i, f := range failed {
		ids[i] = f.Subtask.ID
	}

	var b strings.Builder
	b.WriteString("Reduced synthesis mode: one or more dependencies of this subtask failed, so do not attempt the original goal.\n\n")
	fmt.Fprintf(&b, "Original goal (%s): %s\n", st.ID, st.Goal)
	fmt.Fprintf(&b, "Failed dependencies: %s\n", strings.Join(ids, ", "))

	var missing []string
	for _, f := range failed {
		fmt.Fprintf(&b, "\n## %s: %s\n", f.Subtask.ID, f.Subtask.Goal)
		res := f.Result
		if loaded, err := rundir.LoadResult(f.RunDir); err == nil {
			res = loaded
		}
		fmt.Fprintf(&b, "stop reason: %s\n", orUnknown(string(res.StopReason)))
		if res.Error != nil {
			fmt.Fprintf(&b, "error (%s): %s\n", res.Error.Type, res.Error.Message)
		}
		if tail, err := rundir.TraceTail(f.RunDir, traceTailLines); err == nil && len(tail) > 0 {
			b.WriteString("last trace events:\n")
			for _, line := range tail {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
		for _, a := range MissingArtifacts(f.Subtask, f.RunDir) {
			missing = append(missing, fmt.Sprintf("%s/%s", f.Subtask.ID, a))
		}
	}

	b.WriteString("\nMissing artifacts:\n")
	if len(missing) == 0 {
		b.WriteString("- none\n")
	}
	for _, m := range missing {
		fmt.Fprintf(&b, "- %s\n", m)
	}

	b.WriteString("\nWrite a short report that explains what failed and why, lists the missing artifacts, ")
	b.WriteString("and proposes concrete objectives for the next run. Then finish.\n")
	b.WriteString("Proposed next-run objectives should include:\n")
	for _, f := range failed {
		fmt.Fprintf(&b, "- retry %s: %s\n", f.Subtask.ID, f.Subtask.Goal)
	}
	fmt.Fprintf(&b, "- then %s: %s\n", st.ID, st.Goal)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
