package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/llm"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

type decomposeReply struct {
	Subtasks []struct {
		ID        string   `json:"id"`
		Goal      string   `json:"goal"`
		DependsOn []string `json:"depends_on"`
		Notes     string   `json:"notes"`
		Artifacts []string `json:"artifacts"`
	} `json:"subtasks"`
}

// Decompose asks backend to split goal into between minN and maxN subtasks
// with optional dependencies. Ids are rewritten into safe directory names
// and made unique, artifacts outside the run directory are dropped, and
// anything beyond maxN is dropped. minN is only asked for: a shorter list
// is returned as is and callers decide whether to accept it. Dependencies
// are rewritten like ids; callers decide how to treat unknown ones.
func Decompose(ctx context.Context, backend llm.Backend, goal, background string, minN, maxN int) ([]models.Subtask, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", goal)
	if background != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", background)
	}
	fmt.Fprintf(&b, "\nSplit the objective into %d to %d subtasks that can be worked on separately. ", minN, maxN)
	b.WriteString("Give each a short id and a self-contained goal. List in depends_on the ids of subtasks whose output it needs; ")
	b.WriteString("leave it empty when it can start immediately. List in artifacts any files the subtask must produce in its run directory.")

	var reply decomposeReply
	if err := backend.CompleteJSON(ctx, b.String(), decomposeSchema, &reply); err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	seen := map[string]bool{}
	var out []models.Subtask
	for i, s := range reply.Subtasks {
		if maxN > 0 && len(out) == maxN {
			break
		}
		goal := strings.TrimSpace(s.Goal)
		if goal == "" {
			continue
		}
		id := models.SafeSubtaskID(s.ID)
		if id == "" {
			id = fmt.Sprintf("T%d", i+1)
		}
		for base, n := id, 2; seen[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		seen[id] = true
		out = append(out, models.Subtask{
			ID:        id,
			Goal:      goal,
			DependsOn: safeIDs(s.DependsOn),
			Notes:     s.Notes,
			Artifacts: localArtifacts(s.Artifacts),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: decomposition returned no subtasks", ErrSchemaMismatch)
	}
	return out, nil
}

func safeIDs(in []string) []string {
	var out []string
	for _, s := range in {
		if s = models.SafeSubtaskID(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func localArtifacts(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && models.LocalArtifact(s) {
			out = append(out, s)
		}
	}
	return out
}

// Order returns subtasks in a dependency-respecting order where one exists.
// Unknown dependencies are ignored and subtasks caught in a cycle are
// appended in their original order.
func Order(subtasks []models.Subtask) []models.Subtask {
	index := make(map[string]int, len(subtasks))
	for i, s := range subtasks {
		index[s.ID] = i
	}
	inDegree := make([]int, len(subtasks))
	dependents := make([][]int, len(subtasks))
	for i, s := range subtasks {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok || j == i {
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(subtasks))
	var out []models.Subtask
	for progress := true; progress; {
		progress = false
		for i := range subtasks {
			if done[i] || inDegree[i] > 0 {
				continue
			}
			done[i] = true
			progress = true
			out = append(out, subtasks[i])
			for _, d := range dependents[i] {
				inDegree[d]--
			}
		}
	}
	for i, s := range subtasks {
		if !done[i] {
			out = append(out, s)
		}
	}
	return out
}
