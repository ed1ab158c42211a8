// Package models provides the domain types shared across the relaycore
// orchestration components: the worker-session event stream the dispatcher
// observes, and the additive usage accounting attached to it.
package models

import (
	"encoding/json"
	"time"
)

// SessionEvent is the unified event model for a subagent worker session.
// The dispatcher reduces this stream into per-task progress and results.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
//   - Add fields, don't rename or remove
type SessionEvent struct {
	// Type identifies the kind of event.
	Type SessionEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a session for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// SessionID identifies the worker session that emitted the event.
	SessionID string `json:"session_id,omitempty"`

	// Payloads are set per Type; an assistant message_end carries both
	// Message and Usage, every other event at most one payload.
	Message *MessagePayload `json:"message,omitempty"`
	Tool    *ToolPayload    `json:"tool,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
	End     *AgentEndPayload `json:"end,omitempty"`
}

// SessionEventType identifies the kind of session event.
type SessionEventType string

const (
	// EventMessageStart opens a new message. An assistant message start
	// clears the observer's recent-output tail.
	EventMessageStart SessionEventType = "message_start"

	// EventMessageUpdate carries an incremental text delta.
	EventMessageUpdate SessionEventType = "message_update"

	// EventMessageEnd closes a message. Assistant message ends carry a
	// usage block; token totals are additive only for those.
	EventMessageEnd SessionEventType = "message_end"

	// EventToolExecutionStart marks a tool call beginning.
	EventToolExecutionStart SessionEventType = "tool_execution_start"

	// EventToolExecutionEnd marks a tool call finishing, with its result.
	EventToolExecutionEnd SessionEventType = "tool_execution_end"

	// EventAgentEnd closes the session; final assistant messages flush
	// into the output buffer.
	EventAgentEnd SessionEventType = "agent_end"
)

// MessageRole discriminates message origins on message events.
type MessageRole string

const (
	RoleAssistant  MessageRole = "assistant"
	RoleUser       MessageRole = "user"
	RoleToolResult MessageRole = "tool_result"
)

// MessagePayload describes message lifecycle and streaming deltas.
type MessagePayload struct {
	// Role is the message origin. Only assistant messages feed the
	// recent-output tail and the usage totals.
	Role MessageRole `json:"role"`

	// Delta is the incremental text on message_update events.
	Delta string `json:"delta,omitempty"`

	// Text is the full message text, when known (message_end).
	Text string `json:"text,omitempty"`
}

// ToolPayload describes tool execution events. Args and Result stay opaque
// JSON to avoid coupling the event stream to tool schemas.
type ToolPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name"`

	// Args is the raw JSON arguments (for start events).
	Args json.RawMessage `json:"args,omitempty"`

	// For end events:
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Elapsed time.Duration   `json:"elapsed,omitempty"`
}

// AgentEndPayload carries the session's terminal state.
type AgentEndPayload struct {
	// FinalMessages are the assistant texts produced by the closing turn,
	// in order.
	FinalMessages []string `json:"final_messages,omitempty"`

	// Error is set when the session ended on an internal failure.
	Error string `json:"error,omitempty"`

	// Aborted reports whether the session was cancelled rather than
	// running to completion.
	Aborted bool `json:"aborted,omitempty"`
}

// Usage is the additive token and cost accounting attached to assistant
// message_end events and summed across a batch.
type Usage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`

	Cost Cost `json:"cost"`
}

// Cost is the USD cost breakdown matching the Usage token fields.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
	Total      float64 `json:"total"`
}

// TotalTokens returns the sum across all token categories.
func (u *Usage) TotalTokens() int64 {
	if u == nil {
		return 0
	}
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Add accumulates another usage block into u.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
	u.Cost.Input += other.Cost.Input
	u.Cost.Output += other.Cost.Output
	u.Cost.CacheRead += other.Cost.CacheRead
	u.Cost.CacheWrite += other.Cost.CacheWrite
	u.Cost.Total += other.Cost.Total
}
