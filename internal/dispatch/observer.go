package dispatch

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaycore/pkg/models"
)

const (
	// deltaRingBytes bounds the streamed-delta buffer behind the
	// recent-output tail.
	deltaRingBytes = 8 * 1024

	// recentOutputLines is how many trailing non-empty lines of the
	// current assistant message the progress carries.
	recentOutputLines = 8

	// terminationShield force-aborts a worker whose protocol dropped the
	// message_end a deferred termination was waiting on.
	terminationShield = 2 * time.Second
)

// observer reduces one worker session's event stream into the task's live
// Progress. Exactly one observer runs per worker; the dispatcher reads
// snapshots through the progress mutex.
type observer struct {
	mu       sync.Mutex
	progress *Progress

	extractors *ExtractorRegistry
	logger     *slog.Logger

	// emit schedules a coalesced progress emission; flush bypasses
	// coalescing for terminal states.
	emit func(flush bool)

	// requestAbort asks the worker to abort its session. It must be safe
	// to call from timer goroutines.
	requestAbort func(reason string)

	deltaRing []byte
	outputs   []string
	usage     models.Usage

	pendingTermination bool
	termTimer          *time.Timer
}

func newObserver(p *Progress, extractors *ExtractorRegistry, logger *slog.Logger, emit func(flush bool), requestAbort func(reason string)) *observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &observer{
		progress:     p,
		extractors:   extractors,
		logger:       logger,
		emit:         emit,
		requestAbort: requestAbort,
	}
}

// observe consumes one session event.
func (o *observer) observe(ev models.SessionEvent) {
	o.mu.Lock()

	flush := false
	switch ev.Type {
	case models.EventMessageStart:
		if ev.Message != nil && ev.Message.Role == models.RoleAssistant {
			o.deltaRing = o.deltaRing[:0]
			o.progress.RecentOutput = nil
		}

	case models.EventMessageUpdate:
		if ev.Message != nil && ev.Message.Role == models.RoleAssistant {
			o.appendDeltaLocked(ev.Message.Delta)
		}

	case models.EventToolExecutionStart:
		if ev.Tool != nil {
			o.progress.ToolCount++
			o.progress.CurrentTool = ev.Tool.Name
			o.progress.CurrentToolArgs = string(ev.Tool.Args)
			o.progress.CurrentToolStarted = ev.Time
		}

	case models.EventToolExecutionEnd:
		if ev.Tool != nil {
			o.finishToolLocked(ev)
		}

	case models.EventMessageEnd:
		if ev.Message != nil && ev.Message.Role == models.RoleAssistant {
			if ev.Usage != nil {
				o.usage.Add(ev.Usage)
				o.progress.Tokens = o.usage.TotalTokens()
			}
			o.captureAssistantTextLocked(ev.Message)
			if o.pendingTermination {
				o.firePendingTerminationLocked()
			}
		}

	case models.EventAgentEnd:
		if ev.End != nil {
			o.flushFinalMessagesLocked(ev.End.FinalMessages)
		}
		flush = true
	}

	emit := o.emit
	o.mu.Unlock()

	if emit != nil {
		emit(flush)
	}
}

func (o *observer) appendDeltaLocked(delta string) {
	if delta == "" {
		return
	}
	o.deltaRing = append(o.deltaRing, delta...)
	if overflow := len(o.deltaRing) - deltaRingBytes; overflow > 0 {
		o.deltaRing = o.deltaRing[overflow:]
	}
	o.progress.RecentOutput = tailLines(string(o.deltaRing), recentOutputLines)
}

func (o *observer) finishToolLocked(ev models.SessionEvent) {
	tool := ev.Tool

	o.progress.CurrentTool = ""
	o.progress.CurrentToolArgs = ""
	o.progress.CurrentToolStarted = time.Time{}

	rec := ToolRecord{
		Name:      tool.Name,
		StartedAt: ev.Time.Add(-tool.Elapsed),
		Elapsed:   tool.Elapsed,
		IsError:   tool.IsError,
	}
	o.progress.RecentTools = append(o.progress.RecentTools, rec)
	if len(o.progress.RecentTools) > recentToolLimit {
		o.progress.RecentTools = o.progress.RecentTools[len(o.progress.RecentTools)-recentToolLimit:]
	}

	if o.extractors == nil {
		return
	}
	extractor, ok := o.extractors.Get(tool.Name)
	if !ok {
		return
	}
	extraction, err := extractor.Extract(o.progress.ID, tool.Result)
	if err != nil {
		o.logger.Warn("tool extractor failed",
			slog.String("tool", tool.Name),
			slog.String("task", o.progress.ID),
			slog.Any("error", err))
		return
	}
	if len(extraction.Data) > 0 {
		if o.progress.ExtractedToolData == nil {
			o.progress.ExtractedToolData = make(map[string][]any)
		}
		o.progress.ExtractedToolData[tool.Name] = append(o.progress.ExtractedToolData[tool.Name], extraction.Data...)
	}
	if extraction.Terminate && !o.pendingTermination {
		// Defer the abort until the next assistant message_end so final
		// token counts land in the totals, shielded by a timer for
		// protocols that drop message_end.
		o.pendingTermination = true
		o.termTimer = time.AfterFunc(terminationShield, o.shieldExpired)
	}
}

func (o *observer) firePendingTerminationLocked() {
	o.pendingTermination = false
	if o.termTimer != nil {
		o.termTimer.Stop()
		o.termTimer = nil
	}
	if o.requestAbort != nil {
		go o.requestAbort("tool extractor requested termination")
	}
}

func (o *observer) shieldExpired() {
	o.mu.Lock()
	pending := o.pendingTermination
	o.pendingTermination = false
	o.termTimer = nil
	o.mu.Unlock()

	if pending && o.requestAbort != nil {
		o.requestAbort("termination shield expired without message_end")
	}
}

func (o *observer) captureAssistantTextLocked(msg *models.MessagePayload) {
	text := msg.Text
	if text == "" {
		text = string(o.deltaRing)
	}
	text = strings.TrimSpace(text)
	if text != "" {
		o.outputs = append(o.outputs, text)
	}
}

func (o *observer) flushFinalMessagesLocked(finals []string) {
	for _, text := range finals {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(o.outputs) > 0 && o.outputs[len(o.outputs)-1] == text {
			continue
		}
		o.outputs = append(o.outputs, text)
	}
}

// stop cancels the termination shield timer.
func (o *observer) stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pendingTermination = false
	if o.termTimer != nil {
		o.termTimer.Stop()
		o.termTimer = nil
	}
}

// output joins the captured assistant texts.
func (o *observer) output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.outputs, "\n\n")
}

// totals returns the accumulated usage.
func (o *observer) totals() models.Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

// snapshot returns a copy of the live progress.
func (o *observer) snapshot() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.clone()
}

// setStatus transitions the task status, refusing to leave a terminal
// state.
func (o *observer) setStatus(s Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress.Status.Terminal() {
		return false
	}
	o.progress.Status = s
	return true
}

// tailLines returns the last n non-empty lines of text.
func tailLines(text string, n int) []string {
	if text == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
	}
	// Reverse back into document order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
