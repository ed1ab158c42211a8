package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaycore/relaycore/internal/agent"
	"github.com/relaycore/relaycore/internal/artifacts"
	"github.com/relaycore/relaycore/pkg/models"
)

// Worker abort states: running → abort_requested → aborted.
const (
	workerRunning int32 = iota
	workerAbortRequested
	workerAborted
)

// worker drives one task through one session: event observation, the
// submit-result contract, and terminal result assembly.
type worker struct {
	index int
	task  TaskItem

	def           *agent.Definition
	schema        *jsonschema.Schema
	cfg           SessionConfig
	sharedContext string
	baseline      *gitBaseline

	factory    SessionFactory
	extractors *ExtractorRegistry
	limits     Limits
	logger     *slog.Logger
	sessionDir string
	repository artifacts.Repository

	emit func(flush bool)

	observer *observer
	session  Session
	state    atomic.Int32

	abortReason atomic.Pointer[string]
}

// requestAbort enters abort_requested at most once: it aborts the
// underlying session and schedules a terminal emit. The trailing progress
// timer is owned by the batch coalescer and cancelled there.
func (w *worker) requestAbort(reason string) {
	if !w.state.CompareAndSwap(workerRunning, workerAbortRequested) {
		return
	}
	w.abortReason.Store(&reason)
	if w.session != nil {
		w.session.Abort(reason)
	}
	if w.emit != nil {
		w.emit(true)
	}
}

func (w *worker) aborting() bool {
	return w.state.Load() != workerRunning
}

// run executes the task and returns its terminal result. ctx is the
// worker's own cancellation scope, derived from the batch signal.
func (w *worker) run(ctx context.Context, obs *observer) Result {
	start := time.Now()
	result := Result{Index: w.index, ID: w.task.ID, Agent: w.def.Name}

	w.observer = obs
	defer w.observer.stop()

	capture := &submitCapture{}
	w.cfg.OnEvent = func(ev models.SessionEvent) {
		if ev.Type == models.EventToolExecutionEnd && ev.Tool != nil && ev.Tool.Name == SubmitResultTool {
			capture.record(ev.Tool.Args)
		}
		w.observer.observe(ev)
	}

	session, err := w.factory.New(ctx, w.cfg)
	if err != nil {
		w.observer.setStatus(StatusFailed)
		result.ExitCode = 1
		result.Stderr = fmt.Sprintf("spawn worker session: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	w.session = session

	// The external signal fans out to this worker's session for as long
	// as the worker runs.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			w.requestAbort("batch cancelled")
		case <-watchDone:
		}
	}()

	w.observer.setStatus(StatusRunning)
	if w.emit != nil {
		w.emit(true)
	}

	promptErr := session.Prompt(ctx, w.initialPrompt(), PromptOptions{})

	var done completion
	switch {
	case promptErr != nil && ctx.Err() != nil:
		done = completion{ExitCode: 1, Stderr: "aborted: " + ctx.Err().Error(), Aborted: true}
	case promptErr != nil:
		done = completion{ExitCode: 1, Stderr: promptErr.Error()}
	case w.aborting():
		done = completion{ExitCode: 1, Stderr: reasonOrDefault(w.abortReason.Load(), "aborted"), Aborted: true}
		if c, ok := completionFromCapture(capture, w.schema); ok {
			// The worker still delivered a structured completion before
			// the abort landed; keep it.
			done = c
		}
	default:
		done = resolveSubmit(ctx, session, capture, w.schema, w.cfg.Model, w.observer.output)
	}

	_ = session.Close()
	w.state.Store(workerAborted)

	result.Output, result.Truncated = capOutput(done.Output, w.limits)
	result.Stderr = done.Stderr
	result.ExitCode = done.ExitCode
	result.Aborted = done.Aborted
	usage := w.observer.totals()
	result.Usage = &usage
	result.Tokens = usage.TotalTokens()
	result.Duration = time.Since(start)
	result.ExtractedToolData = w.observer.snapshot().ExtractedToolData

	w.persistOutput(ctx, &result)
	w.capturePatch(ctx, &result)

	switch {
	case result.Aborted:
		w.observer.setStatus(StatusAborted)
	case result.ExitCode != 0:
		w.observer.setStatus(StatusFailed)
	default:
		w.observer.setStatus(StatusCompleted)
	}
	if w.emit != nil {
		w.emit(true)
	}
	return result
}

// initialPrompt assembles the worker's first prompt from the shared
// context and the task assignment.
func (w *worker) initialPrompt() string {
	var b strings.Builder
	if ctx := strings.TrimSpace(w.sharedContext); ctx != "" {
		b.WriteString("<context>\n")
		b.WriteString(ctx)
		b.WriteString("\n</context>\n\n")
	}
	b.WriteString(w.task.Assignment)
	if len(w.task.Skills) > 0 {
		b.WriteString("\n\nLoad these skills before starting: ")
		b.WriteString(strings.Join(w.task.Skills, ", "))
	}
	return b.String()
}

// persistOutput writes <session_dir>/<task_id>.md and records it in the
// artifact repository.
func (w *worker) persistOutput(ctx context.Context, result *Result) {
	if w.sessionDir == "" || result.Output == "" {
		return
	}
	path := filepath.Join(w.sessionDir, w.task.ID+".md")
	if err := os.WriteFile(path, []byte(result.Output), 0o644); err != nil {
		w.logger.Warn("write task output", slog.String("task", w.task.ID), slog.Any("error", err))
		return
	}
	result.OutputPath = path

	if w.repository != nil {
		art := &artifacts.Artifact{
			TaskID:   w.task.ID,
			Kind:     artifacts.KindOutput,
			MimeType: "text/markdown",
			Filename: w.task.ID + ".md",
			Size:     int64(len(result.Output)),
		}
		if err := w.repository.StoreArtifact(ctx, art, bytes.NewReader([]byte(result.Output))); err != nil {
			w.logger.Warn("store output artifact", slog.String("task", w.task.ID), slog.Any("error", err))
		}
	}
}

// capturePatch records the isolated worker's delta as
// <session_dir>/<task_id>.patch.
func (w *worker) capturePatch(ctx context.Context, result *Result) {
	if w.baseline == nil || w.cfg.WorktreeDir == "" {
		return
	}
	patch, err := w.baseline.capturePatch(ctx, w.cfg.WorktreeDir)
	if err != nil {
		w.logger.Warn("capture worktree patch", slog.String("task", w.task.ID), slog.Any("error", err))
		return
	}
	if strings.TrimSpace(patch) == "" {
		return
	}
	path := filepath.Join(w.sessionDir, w.task.ID+".patch")
	if err := os.WriteFile(path, []byte(patch), 0o644); err != nil {
		w.logger.Warn("write task patch", slog.String("task", w.task.ID), slog.Any("error", err))
		return
	}
	result.PatchPath = path
}

func reasonOrDefault(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}
