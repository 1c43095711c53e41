package swarm

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Workspace is the directory one subtask works in. It is created before
// the worker starts and torn down after it finishes; no two workers share
// a sandbox or worktree.
type Workspace interface {
	Path() string
	Teardown(ctx context.Context) error
}

// GitRunner runs git in dir and returns its combined output.
type GitRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// ExecGit runs the git binary.
func ExecGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Isolator provisions workspaces for one swarm run.
type Isolator struct {
	Mode models.Isolation
	// Repo is the repository being worked on.
	Repo string
	// Base holds sandboxes and worktrees.
	Base string
	// RunID names worktree branches.
	RunID string
	// Cleanup removes worktrees on teardown. Sandboxes are always kept.
	Cleanup bool
	Git     GitRunner
}

// Acquire creates the workspace for subtask id.
func (iso *Isolator) Acquire(ctx context.Context, id string) (Workspace, error) {
	if !models.ValidSubtaskID(id) {
		return nil, fmt.Errorf("workspace for %q: unsafe subtask id", id)
	}
	switch iso.Mode {
	case models.IsolationNone, "":
		return shared(iso.Repo), nil
	case models.IsolationSandbox:
		dst := filepath.Join(iso.Base, "sandbox", id)
		if err := CopyTree(iso.Repo, dst); err != nil {
			return nil, fmt.Errorf("sandbox %s: %w", id, err)
		}
		return shared(dst), nil
	case models.IsolationWorktree:
		return iso.worktree(ctx, id)
	}
	return nil, fmt.Errorf("unknown isolation mode %q", iso.Mode)
}

type shared string

func (s shared) Path() string                   { return string(s) }
func (s shared) Teardown(context.Context) error { return nil }

type worktree struct {
	iso    *Isolator
	path   string
	branch string
}

func (iso *Isolator) worktree(ctx context.Context, id string) (Workspace, error) {
	git := iso.Git
	if git == nil {
		git = ExecGit
	}
	path, err := filepath.Abs(filepath.Join(iso.Base, "worktrees", id))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create worktree parent: %w", err)
	}
	branch := fmt.Sprintf("drcodept/%s/%s", iso.RunID, id)
	out, err := git(ctx, iso.Repo, "worktree", "add", "-b", branch, path)
	if err != nil {
		return nil, fmt.Errorf("git worktree add %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return &worktree{iso: iso, path: path, branch: branch}, nil
}

func (w *worktree) Path() string { return w.path }

// Teardown removes the worktree only when cleanup is enabled, so failed
// runs can be inspected afterwards.
func (w *worktree) Teardown(ctx context.Context) error {
	if !w.iso.Cleanup {
		return nil
	}
	git := w.iso.Git
	if git == nil {
		git = ExecGit
	}
	out, err := git(ctx, w.iso.Repo, "worktree", "remove", "--force", w.path)
	if err != nil {
		_ = os.RemoveAll(w.path)
		_, _ = git(ctx, w.iso.Repo, "worktree", "prune")
		return fmt.Errorf("git worktree remove %s: %w: %s", w.path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CopyTree copies src into dst, skipping VCS metadata and build output.
// Symlinks are recreated, not followed.
func CopyTree(src, dst string) error {
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// dst may live inside src.
		if p == dst {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			if p != src && tools.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(p, target)
		}
		return nil
	})
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
