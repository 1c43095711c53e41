// Package rundir owns the on-disk layout of a single run: the append-only
// trace, the terminal result document and auxiliary artifacts.
package rundir

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/filelock"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Artifact file names inside a run directory.
const (
	TraceFile      = "trace.jsonl"
	ResultFile     = "result.json"
	PlanFile       = "plan.json"
	ResearchFile   = "research.md"
	RepoMapFile    = "repo_map.json"
	RepoIndexFile  = "repo_index.json"
	SummaryFile    = "summary.md"
	CheckpointFile = "checkpoint.json"
)

// Trace event kinds.
const (
	EventRunStart      = "run_start"
	EventObservation   = "observation"
	EventStep          = "step"
	EventPlan          = "plan"
	EventToolRetry     = "tool_retry"
	EventReflection    = "reflection"
	EventRepair        = "repair"
	EventCompaction    = "compaction"
	EventMemory        = "memory"
	EventThrash        = "thrash"
	EventLLMError      = "llm_error"
	EventPhase         = "phase"
	EventResearch      = "research"
	EventQuestion      = "question"
	EventAnswer        = "answer"
	EventResource      = "resource"
	EventSubtaskStart  = "subtask_start"
	EventSubtaskResult = "subtask_result"
	EventQA            = "qa"
	EventStop          = "stop"
)

// Dir is a run directory. Only the run that created it writes to it.
type Dir struct {
	path  string
	runID string
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Create makes base/<runID> and returns it.
func Create(base, runID string) (*Dir, error) {
	if runID == "" {
		runID = NewRunID()
	}
	p := filepath.Join(base, runID)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Dir{path: p, runID: runID}, nil
}

// Open wraps an existing run directory.
func Open(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open run dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open run dir: %s is not a directory", path)
	}
	return &Dir{path: path, runID: filepath.Base(path)}, nil
}

func (d *Dir) Path() string            { return d.path }
func (d *Dir) RunID() string           { return d.runID }
func (d *Dir) File(name string) string { return filepath.Join(d.path, name) }
func (d *Dir) TracePath() string       { return d.File(TraceFile) }
func (d *Dir) ResultPath() string      { return d.File(ResultFile) }

// Sub creates the child run directory d/name. name must be a single local
// path element.
func (d *Dir) Sub(name string) (*Dir, error) {
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("create run dir: %q is not a plain directory name", name)
	}
	return Create(d.path, name)
}

// Event appends one event to trace.jsonl. fields may be nil; "ts" and
// "event" are always set.
func (d *Dir) Event(ctx context.Context, kind string, fields map[string]any) error {
	rec := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["event"] = kind
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	return filelock.AppendLine(ctx, d.TracePath(), line)
}

// WriteResult atomically writes result.json.
func (d *Dir) WriteResult(ctx context.Context, res models.RunResult) error {
	return filelock.WriteJSON(ctx, d.ResultPath(), res)
}

// WriteJSON atomically writes v to name inside the run directory.
func (d *Dir) WriteJSON(ctx context.Context, name string, v any) error {
	return filelock.WriteJSON(ctx, d.File(name), v)
}

// WriteText atomically writes text to name inside the run directory.
func (d *Dir) WriteText(name, text string) error {
	return filelock.WriteAtomic(d.File(name), []byte(text))
}

// ErrNoResult means the run never wrote result.json.
var ErrNoResult = errors.New("result.json not found")

// LoadResult reads result.json from a run directory.
func LoadResult(dir string) (models.RunResult, error) {
	var res models.RunResult
	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, ErrNoResult
		}
		return res, fmt.Errorf("read result: %w", err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("parse result: %w", err)
	}
	return res, nil
}

// TraceTail returns the last n lines of a run's trace.
func TraceTail(dir string, n int) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, TraceFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	return ring, nil
}

// ReadEvents decodes every line of a run's trace.
func ReadEvents(dir string) ([]map[string]any, error) {
	lines, err := TraceTail(dir, 1<<20)
	if err != nil {
		return nil, err
	}
	events := make([]map[string]any, 0, len(lines))
	for i, l := range lines {
		var ev map[string]any
		if err := json.Unmarshal([]byte(l), &ev); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", i+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
