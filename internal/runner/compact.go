package runner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/rundir"
)

// maxSummary bounds the rolling summary.
const maxSummary = 4000

const compactSchema = `{
  "type": "object",
  "properties": {"summary": {"type": "string"}},
  "required": ["summary"]
}`

// compact folds the oldest half of the observations into the rolling
// summary. A failed reasoning call falls back to a list of salient facts.
func (r *Runner) compact(ctx context.Context, state *models.AgentState) {
	keep := r.cfg.ObservationCeiling / 2
	folded := state.TakeOldest(len(state.Observations) - keep)
	if len(folded) == 0 {
		return
	}

	method := "llm"
	var out struct {
		Summary string `json:"summary"`
	}
	err := r.backend.CompleteJSON(ctx, compactPrompt(state, folded), compactSchema, &out)
	if err != nil || strings.TrimSpace(out.Summary) == "" {
		method = "heuristic"
		out.Summary = heuristicSummary(state.RollingSummary, folded)
		if err != nil {
			r.log.LogWarn("compaction fell back to heuristic summary: " + err.Error())
		}
	}
	state.RollingSummary = clip(out.Summary, maxSummary)
	r.event(ctx, rundir.EventCompaction, map[string]any{
		"folded":  len(folded),
		"kept":    len(state.Observations),
		"method":  method,
		"summary": state.RollingSummary,
	})
}

func compactPrompt(state *models.AgentState, folded []models.Observation) string {
	var b strings.Builder
	b.WriteString("Condense the agent's history into a short summary that keeps every fact needed to finish the task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", state.Task)
	if state.RollingSummary != "" {
		fmt.Fprintf(&b, "\nCurrent summary:\n%s\n", state.RollingSummary)
	}
	b.WriteString("\nObservations to fold in:\n")
	for _, o := range folded {
		b.WriteString(observationLine(o))
	}
	return b.String()
}

func heuristicSummary(prev string, folded []models.Observation) string {
	var b strings.Builder
	if prev != "" {
		b.WriteString(prev)
		b.WriteString("\n")
	}
	for _, o := range folded {
		b.WriteString(observationLine(o))
	}
	return strings.TrimRight(b.String(), "\n")
}

func observationLine(o models.Observation) string {
	facts := strings.Join(o.SalientFacts, " | ")
	if len(o.Errors) > 0 && facts == "" {
		facts = "error: " + strings.Join(o.Errors, "; ")
	}
	return fmt.Sprintf("- %s: %s\n", o.Source, facts)
}

// clip keeps the tail of s, which holds the most recent facts.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + models.ClipTail(s, n)
}

// meteredBackend counts reasoning calls for cost accounting and reports
// liveness while a call is outstanding.
type meteredBackend struct {
	llm.Backend
	interval time.Duration
	log      Logger
	calls    atomic.Int64
}

func (m *meteredBackend) CompleteJSON(ctx context.Context, prompt, schema string, out any) error {
	m.calls.Add(1)
	beat := func(elapsed time.Duration) { m.log.LogHeartbeat(m.Backend.Name(), elapsed) }
	return llm.WithHeartbeat(ctx, m.interval, beat, func(ctx context.Context) error {
		return m.Backend.CompleteJSON(ctx, prompt, schema, out)
	})
}

// Calls returns the number of reasoning calls made so far.
func (m *meteredBackend) Calls() int { return int(m.calls.Load()) }
