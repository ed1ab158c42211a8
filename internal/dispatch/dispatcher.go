package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaycore/relaycore/internal/agent"
	"github.com/relaycore/relaycore/internal/artifacts"
	sharedctx "github.com/relaycore/relaycore/internal/context"
	"github.com/relaycore/relaycore/internal/debounce"
	"github.com/relaycore/relaycore/internal/format"
	"github.com/relaycore/relaycore/internal/observability"
	"github.com/relaycore/relaycore/internal/usage"
)

// skippedBeforeStart is the stderr placeholder for tasks the cancellation
// signal reached before a worker picked them up.
const skippedBeforeStart = "Skipped (cancelled before start)"

// Config assembles a Dispatcher.
type Config struct {
	// Registry resolves agent names and skills.
	Registry *agent.Registry

	// Parent is the definition of the session doing the spawning; its
	// spawn rule gates which child agents are admitted. Nil means an
	// unrestricted root session.
	Parent *agent.Definition

	// ParentTools is the parent's full tool set, inherited by agents
	// without their own allowlist.
	ParentTools []string

	// ParentModel is the model used when neither the agent nor the batch
	// overrides it.
	ParentModel string

	// Thinking is the caller's thinking level, overridden per agent.
	Thinking agent.ThinkingLevel

	// Factory creates worker sessions.
	Factory SessionFactory

	// Extractors is the per-tool extractor registry; nil disables
	// extraction.
	Extractors *ExtractorRegistry

	// SessionDir is the root under which each batch gets its artifact
	// directory. Empty uses the OS temp dir.
	SessionDir string

	// Repository records batch artifacts for retention; nil disables it.
	Repository artifacts.Repository

	// PythonToolMode expands the abstract exec capability.
	PythonToolMode PythonToolMode

	// MaxConcurrency caps concurrent workers; the environment and then
	// the default apply when zero.
	MaxConcurrency int

	// MaxDepth is the recursion ceiling for child spawns.
	MaxDepth int

	// Depth is this dispatcher's own recursion depth.
	Depth int

	// OnProgress receives coalesced progress snapshots. Nil disables
	// emission.
	OnProgress ProgressFunc

	// Metrics receives dispatch counters and histograms; nil disables
	// them.
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// Dispatcher executes task batches against a bounded worker pool.
type Dispatcher struct {
	registry       *agent.Registry
	parent         *agent.Definition
	parentTools    []string
	parentModel    string
	thinking       agent.ThinkingLevel
	factory        SessionFactory
	extractors     *ExtractorRegistry
	sessionRoot    string
	repository     artifacts.Repository
	pythonToolMode PythonToolMode
	maxConcurrency int
	maxDepth       int
	depth          int
	onProgress     ProgressFunc
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// New builds a Dispatcher from cfg.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("dispatch: session factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.SessionDir
	if root == "" {
		root = os.TempDir()
	}
	return &Dispatcher{
		registry:       cfg.Registry,
		parent:         cfg.Parent,
		parentTools:    cfg.ParentTools,
		parentModel:    cfg.ParentModel,
		thinking:       cfg.Thinking,
		factory:        cfg.Factory,
		extractors:     cfg.Extractors,
		sessionRoot:    root,
		repository:     cfg.Repository,
		pythonToolMode: cfg.PythonToolMode,
		maxConcurrency: cfg.MaxConcurrency,
		maxDepth:       cfg.MaxDepth,
		depth:          cfg.Depth,
		onProgress:     cfg.OnProgress,
		metrics:        cfg.Metrics,
		logger:         logger,
	}, nil
}

// Execute runs a batch to completion under the caller's cancellation
// signal. Validation failures come back as a single textual result, never
// as an error; err is reserved for infrastructure faults like an
// uncreatable session directory.
func (d *Dispatcher) Execute(ctx context.Context, batch *Batch) (string, Details, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.execute")
	defer span.End()

	started := time.Now()
	limits := LimitsFromEnv(d.maxConcurrency, d.maxDepth)
	if d.metrics != nil && batch != nil {
		d.metrics.DispatchBatchSize.Observe(float64(len(batch.Tasks)))
	}

	def, reject := d.admit(batch)
	if reject != "" {
		return reject, rejectionDetails(reject), nil
	}

	schemaMap := batch.Schema
	if schemaMap == nil {
		schemaMap = def.OutputSchema
	}
	schema, err := compileSchema(schemaMap)
	if err != nil {
		reject = fmt.Sprintf("invalid output schema: %v", err)
		return reject, rejectionDetails(reject), nil
	}

	var baseline *gitBaseline
	if batch.Isolated {
		wd, _ := os.Getwd()
		baseline, err = captureBaseline(ctx, wd)
		if err != nil {
			reject = err.Error()
			return reject, rejectionDetails(reject), nil
		}
	}

	sessionDir := filepath.Join(d.sessionRoot, "batch-"+uuid.NewString())
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", Details{}, fmt.Errorf("create session dir: %w", err)
	}
	if strings.TrimSpace(batch.Context) != "" {
		compacted, res := sharedctx.Compact(batch.Context, sharedctx.DefaultSharedContextBudget)
		if res.Dropped {
			d.logger.Info("shared context compacted",
				slog.Int("original_tokens", res.OriginalTokens),
				slog.Int("final_tokens", res.FinalTokens))
			batch.Context = compacted
		}
		if err := os.WriteFile(filepath.Join(sessionDir, "context.md"), []byte(batch.Context), 0o644); err != nil {
			d.logger.Warn("write shared context", slog.Any("error", err))
		}
	}

	// Live progress, one slot per task, snapshotted atomically by the
	// coalesced emitter.
	progress := make([]Progress, len(batch.Tasks))
	observers := make([]*observer, len(batch.Tasks))
	var progressMu sync.Mutex
	for i, task := range batch.Tasks {
		progress[i] = Progress{Index: i, ID: task.ID, Status: StatusPending}
	}

	snapshotAll := func() []Progress {
		progressMu.Lock()
		defer progressMu.Unlock()
		out := make([]Progress, len(progress))
		for i := range progress {
			if observers[i] != nil {
				out[i] = observers[i].snapshot()
			} else {
				out[i] = progress[i].clone()
			}
		}
		return out
	}

	var coalescer *debounce.Coalescer
	if d.onProgress != nil {
		coalescer = debounce.NewCoalescer(func() { d.onProgress(snapshotAll()) })
	}
	emit := func(flush bool) {
		if coalescer != nil {
			coalescer.Schedule(flush)
		}
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]Result, len(batch.Tasks))
	sem := make(chan struct{}, limits.MaxConcurrency)
	var wg sync.WaitGroup

	for i, task := range batch.Tasks {
		i, task := i, task
		// started closes once this worker holds a slot or has given up on
		// one, so slots are taken in task order.
		started := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				close(started)
			case <-batchCtx.Done():
				close(started)
				progressMu.Lock()
				progress[i].Status = StatusAborted
				progressMu.Unlock()
				results[i] = Result{
					Index: i, ID: task.ID, Agent: def.Name,
					ExitCode: 1, Stderr: skippedBeforeStart, Aborted: true,
				}
				emit(true)
				return
			}
			defer func() { <-sem }()

			if batchCtx.Err() != nil {
				progressMu.Lock()
				progress[i].Status = StatusAborted
				progressMu.Unlock()
				results[i] = Result{
					Index: i, ID: task.ID, Agent: def.Name,
					ExitCode: 1, Stderr: skippedBeforeStart, Aborted: true,
				}
				emit(true)
				return
			}

			results[i] = d.runTask(batchCtx, batchTaskContext{
				index:      i,
				task:       task,
				batch:      batch,
				def:        def,
				schema:     schema,
				baseline:   baseline,
				limits:     limits,
				sessionDir: sessionDir,
				progress:   &progress[i],
				observers:  observers,
				progressMu: &progressMu,
				emit:       emit,
			})
		}()
		<-started
	}

	wg.Wait()
	if coalescer != nil {
		coalescer.Schedule(true)
		coalescer.Cancel()
	}

	details := Details{Results: results, Progress: snapshotAll()}
	for i := range results {
		if results[i].Usage != nil {
			details.Totals.Add(results[i].Usage)
		}
	}
	details.Stats = computeStats(results, time.Since(started))

	var notice string
	if batch.Isolated && baseline != nil {
		notice = d.reconcilePatches(ctx, baseline, results)
		if notice != "" {
			for _, r := range results {
				if r.PatchPath != "" {
					details.UnreconciledPatches = append(details.UnreconciledPatches, r.PatchPath)
				}
			}
		}
	}

	d.cleanup(ctx, baseline, sessionDir, results, len(details.UnreconciledPatches) > 0)

	summary := buildSummary(details.Stats, results, notice)
	return summary, details, nil
}

// batchTaskContext bundles the per-task wiring handed to runTask.
type batchTaskContext struct {
	index      int
	task       TaskItem
	batch      *Batch
	def        *agent.Definition
	schema     *jsonschema.Schema
	baseline   *gitBaseline
	limits     Limits
	sessionDir string
	progress   *Progress
	observers  []*observer
	progressMu *sync.Mutex
	emit       func(flush bool)
}

// runTask prepares one worker's session config (worktree, tools, model,
// thinking level) and executes it.
func (d *Dispatcher) runTask(ctx context.Context, tc batchTaskContext) (result Result) {
	ctx, span := observability.StartSpan(ctx, "dispatch.task")
	defer span.End()
	ctx = observability.WithTaskID(ctx, tc.task.ID)

	if d.metrics != nil {
		defer func() {
			status := string(StatusCompleted)
			switch {
			case result.Aborted:
				status = string(StatusAborted)
			case result.ExitCode != 0:
				status = string(StatusFailed)
			}
			d.metrics.DispatchTaskDuration.WithLabelValues(tc.def.Name, status).Observe(result.Duration.Seconds())
		}()
	}

	worktree := ""
	if tc.baseline != nil {
		wt := worktreePath(tc.sessionDir, tc.task.ID)
		if err := os.MkdirAll(filepath.Dir(wt), 0o755); err == nil {
			if err := tc.baseline.addWorktree(ctx, wt); err != nil {
				tc.progressMu.Lock()
				tc.progress.Status = StatusFailed
				tc.progressMu.Unlock()
				tc.emit(true)
				return Result{
					Index: tc.index, ID: tc.task.ID, Agent: tc.def.Name,
					ExitCode: 1, Stderr: err.Error(),
				}
			}
			worktree = wt
		}
	}

	model := firstNonEmpty(tc.def.PreferredModel, tc.batch.Model, d.parentModel)
	thinking := tc.def.Thinking
	if thinking == "" {
		thinking = d.thinking
	}

	w := &worker{
		index:         tc.index,
		task:          tc.task,
		def:           tc.def,
		schema:        tc.schema,
		sharedContext: tc.batch.Context,
		baseline:      tc.baseline,
		factory:       d.factory,
		extractors:    d.extractors,
		limits:        tc.limits,
		logger:        d.logger,
		sessionDir:    tc.sessionDir,
		repository:    d.repository,
		emit:          tc.emit,
		cfg: SessionConfig{
			TaskID:         tc.task.ID,
			Agent:          tc.def,
			Tools:          effectiveTools(tc.def, d.parentTools, d.pythonToolMode, d.depth, maxDepthOrDefault(d.maxDepth)),
			Model:          model,
			Thinking:       thinking,
			OutputSchema:   schemaMapFor(tc.batch, tc.def),
			ArtifactDir:    tc.sessionDir,
			WorktreeDir:    worktree,
			PythonToolMode: d.pythonToolMode,
			Depth:          d.depth + 1,
		},
	}

	obs := newObserver(tc.progress, d.extractors, d.logger, tc.emit, w.requestAbort)
	tc.progressMu.Lock()
	tc.observers[tc.index] = obs
	tc.progressMu.Unlock()

	return w.run(ctx, obs)
}

func schemaMapFor(batch *Batch, def *agent.Definition) map[string]any {
	if batch.Schema != nil {
		return batch.Schema
	}
	return def.OutputSchema
}

func maxDepthOrDefault(d int) int {
	if d <= 0 {
		return DefaultMaxDepth
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// computeStats folds results into the batch summary counters.
func computeStats(results []Result, wall time.Duration) BatchStats {
	stats := BatchStats{Total: len(results), WallTime: wall}
	for _, r := range results {
		switch {
		case r.Aborted:
			stats.Cancelled++
		case r.ExitCode != 0:
			stats.Failed++
		default:
			stats.Succeeded++
		}
	}
	return stats
}

// rejectionDetails is the single-textual-result shape every admission
// failure returns.
func rejectionDetails(reason string) Details {
	return Details{
		Results: []Result{{Index: 0, ExitCode: 1, Stderr: reason}},
		Stats:   BatchStats{Total: 1, Failed: 1},
	}
}

// buildSummary renders the human-readable batch summary: the headline
// count, per-task lines, previews, and any reconciliation notice.
func buildSummary(stats BatchStats, results []Result, notice string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d succeeded", stats.Succeeded, stats.Total)
	if stats.Cancelled > 0 {
		fmt.Fprintf(&b, " (%d cancelled)", stats.Cancelled)
	}
	b.WriteString("\n")

	for _, r := range results {
		status := "ok"
		switch {
		case r.Aborted:
			status = "cancelled"
		case r.ExitCode != 0:
			status = fmt.Sprintf("failed (exit %d)", r.ExitCode)
		}
		fmt.Fprintf(&b, "- %s: %s, %s, %s tokens\n",
			r.ID, status,
			format.FormatDurationMsInt(r.Duration.Milliseconds()),
			usage.FormatTokenCount(r.Tokens))
		if r.Stderr != "" && r.ExitCode != 0 {
			fmt.Fprintf(&b, "  %s\n", r.Stderr)
		}
	}

	for _, r := range results {
		if r.Output == "" {
			continue
		}
		p, cut := preview(r.Output)
		fmt.Fprintf(&b, "\n## %s\n%s\n", r.ID, p)
		if cut {
			fmt.Fprintf(&b, "[preview truncated; full output at %s]\n", r.OutputPath)
		}
	}

	if notice != "" {
		b.WriteString("\n")
		b.WriteString(notice)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// reconcilePatches applies the combined isolated-mode patches, returning
// a non-empty system notification when they must be reconciled manually.
func (d *Dispatcher) reconcilePatches(ctx context.Context, baseline *gitBaseline, results []Result) string {
	patches := make([]string, 0, len(results))
	for _, r := range results {
		if r.PatchPath == "" {
			continue
		}
		data, err := os.ReadFile(r.PatchPath)
		if err != nil {
			d.logger.Warn("read task patch", slog.String("path", r.PatchPath), slog.Any("error", err))
			continue
		}
		patches = append(patches, string(data))
	}

	applied, err := baseline.reconcile(ctx, patches)
	if err != nil || !applied {
		d.logger.Warn("patch reconciliation failed", slog.Any("error", err))
		return fmt.Sprintf("[system notification: combined patches could not be applied cleanly (%v); patch files are kept as artifacts, reconcile manually]", err)
	}
	return ""
}

// cleanup removes per-task worktrees and prunes expired artifacts. The
// session directory itself is kept while unreconciled patches remain.
func (d *Dispatcher) cleanup(ctx context.Context, baseline *gitBaseline, sessionDir string, results []Result, keepPatches bool) {
	if baseline != nil {
		for _, r := range results {
			wt := worktreePath(sessionDir, r.ID)
			if _, err := os.Stat(wt); err == nil {
				baseline.removeWorktree(ctx, wt)
			}
		}
		_ = os.Remove(filepath.Join(sessionDir, "worktrees"))
	}
	if d.repository != nil {
		if _, err := d.repository.PruneExpired(ctx); err != nil {
			d.logger.Warn("prune artifacts", slog.Any("error", err))
		}
	}
	if keepPatches {
		return
	}
	// Outputs and patches stay addressable through the returned paths;
	// only an entirely empty batch directory is removed.
	entries, err := os.ReadDir(sessionDir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(sessionDir)
	}
}
