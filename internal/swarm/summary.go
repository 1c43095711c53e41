package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

// SummaryFile holds the machine-readable swarm summary next to summary.md.
const SummaryFile = "swarm.json"

// Markdown renders s for summary.md.
func Markdown(s models.SwarmSummary) string {
	ok, failed, reduced := s.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "# Swarm %s\n\n", s.RunID)
	fmt.Fprintf(&b, "Objective: %s\n\n", s.Objective)
	fmt.Fprintf(&b, "Subtasks: %d, succeeded: %d, failed: %d, reduced: %d, duration: %s\n\n",
		len(s.Outcomes), ok, failed, reduced, s.Duration.Round(time.Second))

	b.WriteString("| Subtask | Result | Stop reason | Reduced | Run dir |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, o := range s.Outcomes {
		result := "ok"
		if !o.Succeeded() {
			result = "failed"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %t | %s |\n", o.Subtask.ID, result, o.Result.StopReason, o.Reduced, o.RunDir)
	}

	for _, o := range s.Outcomes {
		if o.Succeeded() || o.Result.Error == nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s failed\n\n%s: %s\n", o.Subtask.ID, o.Result.Error.Type, o.Result.Error.Message)
	}

	b.WriteString("\n## QA\n\n")
	for _, q := range s.QA {
		verdict := "PASS"
		if !q.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "- %s: %s\n", q.SubtaskID, verdict)
		for _, c := range q.Checks {
			if !c.OK {
				fmt.Fprintf(&b, "  - %s: %s\n", c.Name, c.Detail)
			}
		}
	}
	if s.Test != nil {
		verdict := "PASS"
		if !s.Test.Passed {
			verdict = fmt.Sprintf("FAIL (exit %d)", s.Test.ExitCode)
		}
		fmt.Fprintf(&b, "- test command `%s`: %s\n", s.Test.Command, verdict)
		if !s.Test.Passed && s.Test.Output != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", s.Test.Output)
		}
	}
	return b.String()
}

// SaveSummary writes summary.md and swarm.json into dir.
func SaveSummary(ctx context.Context, dir *rundir.Dir, s models.SwarmSummary) error {
	if err := dir.WriteText(rundir.SummaryFile, Markdown(s)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return dir.WriteJSON(ctx, SummaryFile, s)
}

// LoadSummary reads swarm.json from a swarm run directory.
func LoadSummary(dir string) (models.SwarmSummary, error) {
	var s models.SwarmSummary
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return s, fmt.Errorf("read swarm summary: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse swarm summary: %w", err)
	}
	return s, nil
}

// Revalidate re-runs artifact QA over a finished swarm run directory and
// rewrites its summary. The test command is not re-run.
func Revalidate(ctx context.Context, dir string) (models.SwarmSummary, error) {
	s, err := LoadSummary(dir)
	if err != nil {
		return s, err
	}
	s.QA = ValidateAll(s.Outcomes)
	d, err := rundir.Open(dir)
	if err != nil {
		return s, err
	}
	if err := d.Event(ctx, rundir.EventQA, map[string]any{"revalidated": true, "passed": s.QAPassed()}); err != nil {
		return s, err
	}
	return s, SaveSummary(ctx, d, s)
}
