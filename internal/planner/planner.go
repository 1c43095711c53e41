// Package planner turns a task and what the agent has observed so far into a
// Plan. Two strategies exist: Reactive asks for one step at a time, PlanFirst
// drafts a whole plan up front, optionally from several candidates or from a
// decomposition of the goal.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Planner produces the next plan for a run.
type Planner interface {
	Plan(ctx context.Context, req Request) (*models.Plan, error)
	Repair(ctx context.Context, req RepairRequest) (Repair, error)
	Name() string
}

// FallbackSource is a Planner that keeps a second plan from its last draft
// to switch to when the first one fails.
type FallbackSource interface {
	TakeFallback() *models.Plan
}

// Request carries everything a planner may use.
type Request struct {
	Task           string
	RollingSummary string
	Observations   []models.Observation
	Memories       []string
	Hint           string
	QAPairs        []models.QAPair
	Research       string
	// AllowQuestions lets the planner return clarifying questions instead
	// of guessing. Only the supervisor sets it.
	AllowQuestions bool
}

// recentObservations bounds how much history goes into a prompt.
const recentObservations = 8

// describe renders the shared context block used by every prompt.
func describe(req Request, catalog []models.ToolSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Task)

	b.WriteString("\nAvailable tools:\n")
	for _, t := range catalog {
		danger := ""
		if t.Dangerous {
			danger = " [dangerous]"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", t.Name, danger, t.Description)
	}

	if req.RollingSummary != "" {
		fmt.Fprintf(&b, "\nSummary of earlier work:\n%s\n", req.RollingSummary)
	}
	if obs := req.Observations; len(obs) > 0 {
		if len(obs) > recentObservations {
			obs = obs[len(obs)-recentObservations:]
		}
		b.WriteString("\nRecent observations (oldest first):\n")
		for _, o := range obs {
			fmt.Fprintf(&b, "- [%s]", o.Source)
			if len(o.Errors) > 0 {
				fmt.Fprintf(&b, " ERROR: %s", strings.Join(o.Errors, "; "))
			}
			if len(o.SalientFacts) > 0 {
				fmt.Fprintf(&b, " %s", strings.Join(o.SalientFacts, " | "))
			}
			b.WriteString("\n")
		}
	}
	if len(req.Memories) > 0 {
		b.WriteString("\nRelevant memories from earlier runs:\n")
		for _, m := range req.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if req.Research != "" {
		fmt.Fprintf(&b, "\nResearch notes:\n%s\n", req.Research)
	}
	if len(req.QAPairs) > 0 {
		b.WriteString("\nAnswers from the user:\n")
		for _, qa := range req.QAPairs {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", qa.Question, qa.Answer)
		}
	}
	if req.Hint != "" {
		fmt.Fprintf(&b, "\nGuidance: %s\n", req.Hint)
	}
	return b.String()
}
