package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaycore/relaycore/internal/backoff"
)

// SubmitResultTool is the mandatory terminator every agent must call to
// deliver its structured output.
const SubmitResultTool = "submit_result"

// maxSubmitReminders bounds how many times the dispatcher re-prompts a
// worker that finished without calling submit_result.
const maxSubmitReminders = 3

// submitReminderPrompt is the nudge sent on each reminder round.
const submitReminderPrompt = "You must call the submit_result tool with your final result. " +
	"Do not reply with text; call submit_result now."

// missingSubmitWarning prefixes the output when no completion could be
// reconstructed.
const missingSubmitWarning = "[system warning: the agent did not call submit_result; raw output follows]"

// submitPayload is the wire shape carried by the submit_result tool call.
type submitPayload struct {
	Status string          `json:"status,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// submitCapture records whether and what the worker submitted. It is
// written by the event path and read by the contract loop.
type submitCapture struct {
	mu      sync.Mutex
	called  bool
	payload submitPayload
}

func (c *submitCapture) record(args json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var payload submitPayload
	if err := json.Unmarshal(args, &payload); err != nil {
		// A malformed submit still counts as called; the raw args become
		// the data so nothing the worker sent is lost.
		payload = submitPayload{Data: args}
	}
	c.called = true
	c.payload = payload
}

func (c *submitCapture) get() (submitPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, c.called
}

// compileSchema turns a JSON-schema-like map into a validator. A nil map
// yields a nil schema meaning "no validation".
func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add output schema: %w", err)
	}
	compiled, err := compiler.Compile("output_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	return compiled, nil
}

// validatesAgainst reports whether raw JSON satisfies the schema. A nil
// schema accepts anything.
func validatesAgainst(schema *jsonschema.Schema, raw json.RawMessage) bool {
	if schema == nil {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return schema.Validate(v) == nil
}

// completion is the resolved terminal output of one worker.
type completion struct {
	Output   string
	Stderr   string
	ExitCode int
	Aborted  bool
}

// resolveSubmit drives the submit-result contract after the worker's
// initial prompt returned: restrict the tool set, remind up to three
// times with a model-appropriate forced-tool-choice hint, then fall back
// to reconstructing the result from the final assistant text.
func resolveSubmit(ctx context.Context, session Session, capture *submitCapture, schema *jsonschema.Schema, model string, rawOutput func() string) completion {
	if done, ok := completionFromCapture(capture, schema); ok {
		return done
	}

	session.SetActiveTools([]string{SubmitResultTool})
	style := toolChoiceStyleForModel(model)
	opts := PromptOptions{Style: style}
	if style != ToolChoiceNone {
		opts.ForceTool = &ForcedTool{Name: SubmitResultTool}
	}

	policy := backoff.ReminderPolicy()
	for i := 0; i < maxSubmitReminders; i++ {
		if i > 0 {
			if err := backoff.SleepAttempt(ctx, policy, i); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		if err := session.Prompt(ctx, submitReminderPrompt, opts); err != nil {
			break
		}
		if done, ok := completionFromCapture(capture, schema); ok {
			return done
		}
	}

	return completionFromFallback(schema, rawOutput())
}

// completionFromCapture converts a recorded submit_result call into a
// completion. Schema-violating data does not count as a completion so the
// reminder loop keeps going.
func completionFromCapture(capture *submitCapture, schema *jsonschema.Schema) (completion, bool) {
	payload, called := capture.get()
	if !called {
		return completion{}, false
	}

	if payload.Status == "aborted" {
		return completion{ExitCode: 0, Stderr: payload.Reason, Aborted: true}, true
	}

	data := payload.Data
	if len(data) == 0 {
		return completion{}, false
	}
	if !validatesAgainst(schema, data) {
		return completion{}, false
	}
	return completion{Output: formatJSON(data)}, true
}

// completionFromFallback tries to reconstruct a structured completion
// from the worker's raw assistant output, then settles for the
// warning-prefixed raw text.
func completionFromFallback(schema *jsonschema.Schema, raw string) completion {
	trimmed := strings.TrimSpace(raw)

	if candidate := extractJSON(trimmed); candidate != nil && validatesAgainst(schema, candidate) {
		return completion{Output: formatJSON(candidate)}
	}

	out := missingSubmitWarning
	if trimmed != "" {
		out += "\n" + trimmed
	}
	exit := 1
	if trimmed != "" && schema == nil {
		exit = 0
	}
	return completion{Output: out, ExitCode: exit}
}

// extractJSON returns text as raw JSON when it parses, trying the whole
// string first and then the largest brace-delimited span.
func extractJSON(text string) json.RawMessage {
	if text == "" {
		return nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "}]")
	if start < 0 || end <= start {
		return nil
	}
	span := text[start : end+1]
	if json.Valid([]byte(span)) {
		return json.RawMessage(span)
	}
	return nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
