package swarm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

func newRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "README.md"), "# demo\n")
	writeFile(t, filepath.Join(repo, "pkg", "a.go"), "package pkg\n")
	writeFile(t, filepath.Join(repo, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(repo, "node_modules", "x", "index.js"), "")
	return repo
}

func TestCopyTree(t *testing.T) {
	repo := newRepo(t)
	dst := filepath.Join(t.TempDir(), "copy")

	require.NoError(t, CopyTree(repo, dst))

	assert.FileExists(t, filepath.Join(dst, "README.md"))
	assert.FileExists(t, filepath.Join(dst, "pkg", "a.go"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
	assert.NoDirExists(t, filepath.Join(dst, "node_modules"))
}

func TestCopyTree_DestinationInsideSource(t *testing.T) {
	repo := newRepo(t)
	dst := filepath.Join(repo, "runs", "sandbox", "A")

	require.NoError(t, CopyTree(repo, dst))

	assert.FileExists(t, filepath.Join(dst, "README.md"))
	assert.NoDirExists(t, filepath.Join(dst, "runs", "sandbox", "A"))
}

func TestIsolator_None(t *testing.T) {
	repo := newRepo(t)
	iso := &Isolator{Mode: models.IsolationNone, Repo: repo}
	ws, err := iso.Acquire(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, repo, ws.Path())
	assert.NoError(t, ws.Teardown(context.Background()))
}

func TestIsolator_RejectsUnsafeIDs(t *testing.T) {
	repo := newRepo(t)
	base := t.TempDir()
	for _, mode := range []models.Isolation{models.IsolationNone, models.IsolationSandbox, models.IsolationWorktree} {
		git := &fakeGit{}
		iso := &Isolator{Mode: mode, Repo: repo, Base: base, RunID: "run", Git: git.run}
		_, err := iso.Acquire(context.Background(), "../../escaped")
		require.Error(t, err, mode)
		assert.Empty(t, git.calls, mode)
	}
	assert.NoDirExists(t, filepath.Join(filepath.Dir(base), "escaped"))
}

func TestIsolator_SandboxesAreSeparate(t *testing.T) {
	repo := newRepo(t)
	iso := &Isolator{Mode: models.IsolationSandbox, Repo: repo, Base: t.TempDir()}

	a, err := iso.Acquire(context.Background(), "A")
	require.NoError(t, err)
	b, err := iso.Acquire(context.Background(), "B")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path(), b.Path())
	writeFile(t, filepath.Join(a.Path(), "README.md"), "changed")
	data, err := os.ReadFile(filepath.Join(b.Path(), "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# demo\n", string(data))
	require.NoError(t, a.Teardown(context.Background()))
	assert.DirExists(t, a.Path(), "sandboxes are kept for inspection")
}

type fakeGit struct {
	mu      sync.Mutex
	calls   [][]string
	failOn  string
	outputs map[string]string
}

func (g *fakeGit) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, args)
	key := strings.Join(args[:2], " ")
	if key == g.failOn {
		return []byte("fatal: " + key), errors.New("exit status 128")
	}
	if key == "worktree add" {
		if err := os.MkdirAll(args[len(args)-1], 0o755); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (g *fakeGit) commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		out = append(out, strings.Join(c[:2], " "))
	}
	return out
}

func TestIsolator_WorktreeKeptWithoutCleanup(t *testing.T) {
	git := &fakeGit{}
	iso := &Isolator{Mode: models.IsolationWorktree, Repo: newRepo(t), Base: t.TempDir(), RunID: "swarm-1", Git: git.run}

	ws, err := iso.Acquire(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, git.calls, 1)
	assert.Equal(t, []string{"worktree", "add", "-b", "drcodept/swarm-1/A", ws.Path()}, git.calls[0])

	require.NoError(t, ws.Teardown(context.Background()))
	assert.Equal(t, []string{"worktree add"}, git.commands())
	assert.DirExists(t, ws.Path())
}

func TestIsolator_WorktreeCleanup(t *testing.T) {
	git := &fakeGit{}
	iso := &Isolator{Mode: models.IsolationWorktree, Repo: newRepo(t), Base: t.TempDir(), RunID: "r", Cleanup: true, Git: git.run}

	ws, err := iso.Acquire(context.Background(), "A")
	require.NoError(t, err)
	require.NoError(t, ws.Teardown(context.Background()))
	assert.Equal(t, []string{"worktree add", "worktree remove"}, git.commands())
}

func TestIsolator_WorktreeRemoveFailurePrunes(t *testing.T) {
	git := &fakeGit{failOn: "worktree remove"}
	iso := &Isolator{Mode: models.IsolationWorktree, Repo: newRepo(t), Base: t.TempDir(), RunID: "r", Cleanup: true, Git: git.run}

	ws, err := iso.Acquire(context.Background(), "A")
	require.NoError(t, err)
	assert.Error(t, ws.Teardown(context.Background()))
	assert.Equal(t, []string{"worktree add", "worktree remove", "worktree prune"}, git.commands())
	assert.NoDirExists(t, ws.Path())
}

func TestIsolator_WorktreeAddFails(t *testing.T) {
	git := &fakeGit{failOn: "worktree add"}
	iso := &Isolator{Mode: models.IsolationWorktree, Repo: newRepo(t), Base: t.TempDir(), RunID: "r", Git: git.run}

	_, err := iso.Acquire(context.Background(), "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal: worktree add")
}
