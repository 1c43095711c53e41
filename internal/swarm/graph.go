package swarm

import (
	"fmt"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Sanitize returns a copy of subtasks the scheduler can always drain and
// safely lay out on disk. Ids that cannot name a directory or branch are
// rewritten, duplicates get a numeric suffix, and artifacts outside the run
// directory are dropped. Unknown and self dependencies are dropped; if a
// cycle remains every dependency is cleared. Each change is reported as a
// warning.
func Sanitize(subtasks []models.Subtask) ([]models.Subtask, []string) {
	var warnings []string

	renamed := make(map[string]string, len(subtasks))
	used := make(map[string]bool, len(subtasks))
	out := make([]models.Subtask, len(subtasks))
	for i, st := range subtasks {
		id := models.SafeSubtaskID(st.ID)
		if id == "" {
			id = fmt.Sprintf("T%d", i+1)
		}
		for base, n := id, 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[id] = true
		if id != st.ID {
			warnings = append(warnings, fmt.Sprintf("subtask id %q renamed to %s", st.ID, id))
		}
		if _, ok := renamed[st.ID]; !ok {
			renamed[st.ID] = id
		}

		var artifacts []string
		for _, a := range st.Artifacts {
			if !models.LocalArtifact(a) {
				warnings = append(warnings, fmt.Sprintf("subtask %s: dropped artifact %q outside its run directory", id, a))
				continue
			}
			artifacts = append(artifacts, a)
		}
		st.ID = id
		st.Artifacts = artifacts
		out[i] = st
	}

	for i, st := range out {
		var deps []string
		seen := make(map[string]bool)
		for _, raw := range subtasks[i].DependsOn {
			dep, known := renamed[raw]
			switch {
			case !known:
				warnings = append(warnings, fmt.Sprintf("subtask %s: dropped unknown dependency %s", st.ID, raw))
			case dep == st.ID:
				warnings = append(warnings, fmt.Sprintf("subtask %s: dropped self dependency", st.ID))
			case !seen[dep]:
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
		out[i].DependsOn = deps
	}

	if hasCycle(out) {
		warnings = append(warnings, "dependency cycle detected; running all subtasks without dependencies")
		for i := range out {
			out[i].DependsOn = nil
		}
	}
	return out, warnings
}

// hasCycle runs a three-colour DFS over the dependency edges.
func hasCycle(subtasks []models.Subtask) bool {
	const (
		white = iota
		gray
		black
	)
	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		deps[st.ID] = st.DependsOn
	}
	colors := make(map[string]int, len(subtasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, dep := range deps[id] {
			if colors[dep] == gray {
				return true
			}
			if colors[dep] == white && visit(dep) {
				return true
			}
		}
		colors[id] = black
		return false
	}
	for _, st := range subtasks {
		if colors[st.ID] == white && visit(st.ID) {
			return true
		}
	}
	return false
}

// Ready returns the pending subtasks whose dependencies have all finished,
// in input order. A subtask is ready whether its dependencies succeeded or
// not.
func Ready(pending []models.Subtask, finished map[string]bool) []models.Subtask {
	var ready []models.Subtask
	for _, st := range pending {
		ok := true
		for _, dep := range st.DependsOn {
			if !finished[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, st)
		}
	}
	return ready
}

// Waves groups subtasks into the successive ready sets the scheduler will
// release. Subtasks left over by a cycle form a final wave.
func Waves(subtasks []models.Subtask) [][]models.Subtask {
	pending := append([]models.Subtask(nil), subtasks...)
	finished := make(map[string]bool, len(subtasks))
	var waves [][]models.Subtask
	for len(pending) > 0 {
		wave := Ready(pending, finished)
		if len(wave) == 0 {
			wave = pending
		}
		waves = append(waves, wave)
		released := make(map[string]bool, len(wave))
		for _, st := range wave {
			finished[st.ID] = true
			released[st.ID] = true
		}
		rest := pending[:0:0]
		for _, st := range pending {
			if !released[st.ID] {
				rest = append(rest, st)
			}
		}
		pending = rest
	}
	return waves
}
