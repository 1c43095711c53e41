package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// maxOutput caps tool output returned to the planner.
const maxOutput = 16 * 1024

// Asker answers questions from the agent. Nil means no user is attached.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Workspace is the built-in tool set. All paths resolve inside Root.
type Workspace struct {
	*Set
	Root        string
	ArtifactDir string
	asker       Asker
}

// NewWorkspace registers the built-in tools over root. artifactDir, when set,
// receives artifacts such as repo_map.json.
func NewWorkspace(root, artifactDir string, asker Asker) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	w := &Workspace{Set: NewSet(), Root: abs, ArtifactDir: artifactDir, asker: asker}

	w.Register(models.ToolSpec{
		Name:        models.ToolFinish,
		Description: "Declare the goal achieved and end the run.",
		ArgsSchema:  objectSchema(map[string]string{"summary": "string"}),
	}, w.finish)
	w.Register(models.ToolSpec{
		Name:        models.ToolAskUser,
		Description: "Ask the user a clarifying question and wait for the answer.",
		ArgsSchema:  objectSchema(map[string]string{"question": "string"}, "question"),
	}, w.askUser)
	w.Register(models.ToolSpec{
		Name:        "read_file",
		Description: "Read a text file inside the workspace.",
		ArgsSchema:  objectSchema(map[string]string{"path": "string"}, "path"),
	}, w.readFile)
	w.Register(models.ToolSpec{
		Name:        "write_file",
		Description: "Create or overwrite a file inside the workspace.",
		ArgsSchema:  objectSchema(map[string]string{"path": "string", "content": "string"}, "path", "content"),
	}, w.writeFile)
	w.Register(models.ToolSpec{
		Name:        "list_files",
		Description: "List files under a directory inside the workspace.",
		ArgsSchema:  objectSchema(map[string]string{"path": "string", "recursive": "boolean"}),
	}, w.listFiles)
	w.Register(models.ToolSpec{
		Name:        "repo_map",
		Description: "Summarise the workspace layout and save it as repo_map.json.",
		ArgsSchema:  objectSchema(map[string]string{"path": "string"}),
	}, w.repoMap)
	w.Register(models.ToolSpec{
		Name:        "run_shell",
		Description: "Run a shell command in the workspace root.",
		Dangerous:   true,
		ArgsSchema:  objectSchema(map[string]string{"command": "string"}, "command"),
	}, w.runShell)
	return w, nil
}

func objectSchema(props map[string]string, required ...string) map[string]any {
	p := make(map[string]any, len(props))
	for name, typ := range props {
		p[name] = map[string]any{"type": typ}
	}
	s := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// ErrOutsideWorkspace is returned for paths escaping the root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Resolve maps a workspace-relative or absolute path to an absolute path
// inside Root, following symlinks on the existing part of the path.
func (w *Workspace) Resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(w.Root, p)
	}
	if !within(w.Root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	// Walk up to the deepest existing ancestor and check where it really is.
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	actual, err := filepath.EvalSymlinks(existing)
	if err == nil && !within(w.Root, actual) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return abs, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (w *Workspace) rel(abs string) string {
	if r, err := filepath.Rel(w.Root, abs); err == nil {
		return filepath.ToSlash(r)
	}
	return abs
}

func (w *Workspace) finish(_ context.Context, args map[string]any) models.ToolResult {
	return models.ToolResult{Success: true, Output: optionalString(args, "summary", "done")}
}

func (w *Workspace) askUser(ctx context.Context, args map[string]any) models.ToolResult {
	q, err := stringArg(args, "question")
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	if w.asker == nil {
		return models.Failure("no interactive user attached", false)
	}
	answer, err := w.asker.Ask(ctx, q)
	if err != nil {
		return models.Failure("ask user: "+err.Error(), false)
	}
	return models.ToolResult{Success: true, Output: answer, Metadata: map[string]any{"question": q}}
}

func (w *Workspace) readFile(_ context.Context, args map[string]any) models.ToolResult {
	p, err := stringArg(args, "path")
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	abs, err := w.Resolve(p)
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.Failure(fmt.Sprintf("read %s: %v", p, err), false)
	}
	out, truncated := clip(string(data))
	return models.ToolResult{
		Success:  true,
		Output:   out,
		Metadata: map[string]any{"path": w.rel(abs), "bytes": len(data), "truncated": truncated},
	}
}

func (w *Workspace) writeFile(_ context.Context, args map[string]any) models.ToolResult {
	p, err := stringArg(args, "path")
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	abs, err := w.Resolve(p)
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return models.Failure(fmt.Sprintf("create parent of %s: %v", p, err), false)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return models.Failure(fmt.Sprintf("write %s: %v", p, err), true)
	}
	return models.ToolResult{
		Success:  true,
		Output:   fmt.Sprintf("wrote %d bytes to %s", len(content), w.rel(abs)),
		Metadata: map[string]any{"path": w.rel(abs), "bytes": len(content)},
	}
}

func (w *Workspace) listFiles(_ context.Context, args map[string]any) models.ToolResult {
	abs, err := w.Resolve(optionalString(args, "path", "."))
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	files, err := w.walk(abs, optionalBool(args, "recursive"))
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	out, _ := clip(strings.Join(files, "\n"))
	return models.ToolResult{Success: true, Output: out, Metadata: map[string]any{"count": len(files)}}
}

func (w *Workspace) walk(dir string, recursive bool) ([]string, error) {
	var files []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", w.rel(dir), err)
		}
		for _, e := range entries {
			name := w.rel(filepath.Join(dir, e.Name()))
			if e.IsDir() {
				name += "/"
			}
			files = append(files, name)
		}
		return files, nil
	}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && SkipDir(d.Name()) && p != dir {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			files = append(files, w.rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", w.rel(dir), err)
	}
	sort.Strings(files)
	return files, nil
}

// RepoMap is the repo_map.json document.
type RepoMap struct {
	Root       string         `json:"root"`
	Files      int            `json:"files"`
	Extensions map[string]int `json:"extensions"`
	TopLevel   []string       `json:"top_level"`
}

func (w *Workspace) repoMap(_ context.Context, args map[string]any) models.ToolResult {
	abs, err := w.Resolve(optionalString(args, "path", "."))
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	files, err := w.walk(abs, true)
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	top, err := w.walk(abs, false)
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	m := RepoMap{Root: w.rel(abs), Files: len(files), Extensions: map[string]int{}, TopLevel: top}
	for _, f := range files {
		ext := filepath.Ext(f)
		if ext == "" {
			ext = "(none)"
		}
		m.Extensions[ext]++
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return models.Failure("encode repo map: "+err.Error(), false)
	}
	meta := map[string]any{"files": m.Files}
	if w.ArtifactDir != "" {
		target := filepath.Join(w.ArtifactDir, "repo_map.json")
		if err := os.WriteFile(target, append(data, '\n'), 0o644); err != nil {
			return models.Failure("write repo map: "+err.Error(), true)
		}
		meta["artifact"] = target
	}
	out, _ := clip(string(data))
	return models.ToolResult{Success: true, Output: out, Metadata: meta}
}

func (w *Workspace) runShell(ctx context.Context, args map[string]any) models.ToolResult {
	command, err := stringArg(args, "command")
	if err != nil {
		return models.Failure(err.Error(), false)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.Root
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()
	out, _ := clip(buf.String())
	if ctx.Err() != nil {
		return models.ToolResult{Output: out, Error: "command timed out", Retryable: true}
	}
	if runErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return models.ToolResult{
			Output:   out,
			Error:    fmt.Sprintf("command failed: %v", runErr),
			Metadata: map[string]any{"exit_code": code},
		}
	}
	return models.ToolResult{Success: true, Output: out, Metadata: map[string]any{"exit_code": 0}}
}

func clip(s string) (string, bool) {
	if len(s) <= maxOutput {
		return s, false
	}
	return models.Clip(s, maxOutput) + "\n...[truncated]", true
}

// skipDirs are never descended into by walks or sandbox copies.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".drcodept":    true,
	"node_modules": true,
	"vendor":       true,
	"build":        true,
	"dist":         true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
}

// SkipDir reports whether a directory name is VCS metadata or build output.
func SkipDir(name string) bool { return skipDirs[name] }
