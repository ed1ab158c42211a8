package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/relaycore/relaycore/internal/cache"
)

// Extraction is what a ToolExtractor derived from one tool result.
type Extraction struct {
	// Data is appended to progress.ExtractedToolData[tool].
	Data []any

	// Terminate asks the dispatcher to end the session once the current
	// assistant message finishes, so final token counts are captured.
	Terminate bool
}

// ToolExtractor inspects a finished tool call's result and may decorate
// the task's progress with structured payloads or request termination.
type ToolExtractor interface {
	Extract(taskID string, result json.RawMessage) (Extraction, error)
}

// ToolExtractorFunc adapts a function to ToolExtractor.
type ToolExtractorFunc func(taskID string, result json.RawMessage) (Extraction, error)

func (f ToolExtractorFunc) Extract(taskID string, result json.RawMessage) (Extraction, error) {
	return f(taskID, result)
}

// ExtractorRegistry maps tool names to extractors. Extraction errors are
// logged by the observer and never fail the task.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors map[string]ToolExtractor
}

// NewExtractorRegistry builds an empty registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{extractors: make(map[string]ToolExtractor)}
}

// Register installs an extractor for a tool name, replacing any previous
// one.
func (r *ExtractorRegistry) Register(toolName string, e ToolExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[toolName] = e
}

// Get returns the extractor for a tool name, if any.
func (r *ExtractorRegistry) Get(toolName string) (ToolExtractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[toolName]
	return e, ok
}

// Finding is the structured payload the review-findings extractor parses
// out of a submit-finding tool result.
type Finding struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Priority  string `json:"priority"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
}

// dedupeKey identifies a finding for cross-call deduplication.
func (f Finding) dedupeKey() string {
	return fmt.Sprintf("%s|%d|%d|%s|%s", f.File, f.LineStart, f.LineEnd, f.Priority, strings.TrimSpace(f.Title))
}

// findingsPayload is the accepted wire shape: either a bare finding or a
// findings list.
type findingsPayload struct {
	Findings []Finding `json:"findings"`
}

// FindingsExtractor parses review findings from a tool result and dedupes
// them by (file, line_start, line_end, priority, title) across the whole
// batch. It only decorates progress: it never sets Extraction.Terminate.
type FindingsExtractor struct {
	seen *cache.SeenSet
}

// NewFindingsExtractor builds a findings extractor with a batch-scoped
// seen-set.
func NewFindingsExtractor() *FindingsExtractor {
	return &FindingsExtractor{
		seen: cache.NewSeenSet(0, 4096),
	}
}

// Extract implements ToolExtractor.
func (e *FindingsExtractor) Extract(taskID string, result json.RawMessage) (Extraction, error) {
	if len(result) == 0 {
		return Extraction{}, nil
	}

	var payload findingsPayload
	if err := json.Unmarshal(result, &payload); err != nil || len(payload.Findings) == 0 {
		var single Finding
		if err2 := json.Unmarshal(result, &single); err2 != nil || single.Title == "" {
			if err != nil {
				return Extraction{}, fmt.Errorf("parse findings: %w", err)
			}
			return Extraction{}, nil
		}
		payload.Findings = []Finding{single}
	}

	var out Extraction
	for _, f := range payload.Findings {
		if e.seen.Seen(cache.ScopedKey("findings", f.dedupeKey())) {
			continue
		}
		out.Data = append(out.Data, f)
	}
	return out, nil
}
