package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Subtask is a unit of swarm work. Subtasks are immutable once decomposed
// and referenced by id in dependency lists.
type Subtask struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	// Artifacts lists extra files the subtask is expected to produce,
	// relative to its run directory.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Validate checks the fields required for scheduling.
func (s Subtask) Validate() error {
	if s.ID == "" {
		return errors.New("subtask id is required")
	}
	if !ValidSubtaskID(s.ID) {
		return fmt.Errorf("subtask id %q is not a safe name", s.ID)
	}
	if s.Goal == "" {
		return errors.New("subtask goal is required")
	}
	for _, a := range s.Artifacts {
		if !LocalArtifact(a) {
			return fmt.Errorf("subtask %s: artifact %q is outside the run directory", s.ID, a)
		}
	}
	return nil
}

var subtaskIDChars = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidSubtaskID reports whether id can name a run directory, a sandbox
// directory and a git branch component as is.
func ValidSubtaskID(id string) bool {
	return subtaskIDChars.MatchString(id) &&
		!strings.HasPrefix(id, ".") && !strings.HasPrefix(id, "-") &&
		!strings.HasSuffix(id, ".") && !strings.HasSuffix(id, ".lock") &&
		!strings.Contains(id, "..")
}

// SafeSubtaskID rewrites id into one ValidSubtaskID accepts, or returns ""
// when nothing usable is left. Valid ids are returned unchanged.
func SafeSubtaskID(id string) string {
	id = strings.TrimSpace(id)
	if ValidSubtaskID(id) {
		return id
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r < 0x80 && subtaskIDChars.MatchString(string(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.TrimSuffix(strings.Trim(out, ".-"), ".lock")
	out = strings.Trim(out, ".-")
	if !ValidSubtaskID(out) {
		return ""
	}
	return out
}

// LocalArtifact reports whether name is a relative path that stays inside
// the directory it is joined to.
func LocalArtifact(name string) bool {
	return filepath.IsLocal(name)
}

// SubtaskOutcome is what the swarm coordinator reads back for a finished
// subtask.
type SubtaskOutcome struct {
	Subtask Subtask   `json:"subtask"`
	RunDir  string    `json:"run_dir"`
	Result  RunResult `json:"result"`
	Goal    string    `json:"goal"`
	Reduced bool      `json:"reduced"`
}

// Succeeded reports whether the subtask's run ended successfully.
func (o SubtaskOutcome) Succeeded() bool { return o.Result.OK }
