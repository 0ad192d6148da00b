// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the agent worker runtime (spec §4.8,
// component C8): the single-threaded cooperative event loop that
// drives one instance's conversation with its configured Reasoner and
// ToolInvoker.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/agoctl/ago/lib/wire"
)

// State is a worker's position in its lifecycle state machine:
//
//	Initialising -> Ready -> (Thinking <-> Observing) -> Ready -> ... -> Stopping -> Stopped
//
// Exactly one state is active at a time; the loop in [Worker.Run]
// is the sole writer.
type State string

const (
	StateInitialising State = "Initialising"
	StateReady        State = "Ready"
	StateThinking     State = "Thinking"
	StateObserving    State = "Observing"
	StateStopping     State = "Stopping"
	StateStopped      State = "Stopped"
)

// Defaults per spec §4.8.
const (
	DefaultMaxTurnIterations = 25
	DefaultMaxConversation   = 200
	DefaultMaxScratchpad     = 8192
	DefaultContextEntries    = 20
)

// Role tags who produced a ConversationEntry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
	// RoleAgent tags a message delivered by another instance through
	// the router, as distinct from RoleUser (a chat message from the
	// client) — so an agent's log reads "who said this" correctly.
	RoleAgent Role = "agent"
	// RoleOutgoing tags the mirrored record of a message this instance
	// itself sent to another instance, per spec §4.7 step 4.
	RoleOutgoing Role = "outgoing"
)

// ConversationEntry is one record in the worker's rolling conversation
// log: an inbound message, an assistant reply, a system notice, or
// the mirrored record of an outgoing message. Tool observations go to
// the scratchpad, not here.
type ConversationEntry struct {
	Role    Role
	Content string
	At      time.Time
}

// ToolCall is what a [Reasoner] emits when it wants the worker to
// invoke a tool rather than produce a final answer.
type ToolCall struct {
	Name   string
	Params map[string]any
}

// ReasonResult is the outcome of one [Reasoner.Reason] call: either a
// final answer to surface to the user, or a tool call to dispatch.
// Exactly one of FinalAnswer or ToolCall is set.
type ReasonResult struct {
	FinalAnswer string
	ToolCall    *ToolCall
}

// PromptContext is everything a [Reasoner] needs to decide the next
// step: the template's system prompt, the tail of the conversation
// log, the scratchpad, and the names of tools currently available.
type PromptContext struct {
	SystemPrompt string
	History      []ConversationEntry
	Scratchpad   string
	ToolNames    []string
}

// Reasoner is the narrow interface to an LLM backend. ago's own code
// never speaks a provider's wire protocol directly — it calls Reason
// and branches on the result. See lib/reasoner for the concrete
// Anthropic-backed implementation.
type Reasoner interface {
	Reason(ctx context.Context, promptContext PromptContext) (ReasonResult, error)
}

// ToolResult is what a [ToolInvoker] returns for one invocation.
type ToolResult struct {
	Output string
	Err    error
}

// ToolInvoker is the narrow interface to a tool backend. See lib/tool
// for the concrete MCP-backed implementation.
type ToolInvoker interface {
	List(ctx context.Context) ([]string, error)
	Invoke(ctx context.Context, call ToolCall) (ToolResult, error)
}

// Config bundles a Worker's tunable limits, all defaulted from the
// spec §4.8 constants above when zero.
type Config struct {
	MaxTurnIterations int
	MaxConversation   int
	MaxScratchpad     int
	ContextEntries    int
	ToolTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTurnIterations == 0 {
		c.MaxTurnIterations = DefaultMaxTurnIterations
	}
	if c.MaxConversation == 0 {
		c.MaxConversation = DefaultMaxConversation
	}
	if c.MaxScratchpad == 0 {
		c.MaxScratchpad = DefaultMaxScratchpad
	}
	if c.ContextEntries == 0 {
		c.ContextEntries = DefaultContextEntries
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30 * time.Second
	}
	return c
}

// Worker runs one instance's event loop: draining inbound messages,
// preparing a prompt, calling the Reasoner, dispatching any tool call
// the Reasoner wants, and looping until a turn produces a final
// answer or the per-turn iteration bound is hit.
type Worker struct {
	config Config
	logger *slog.Logger

	reasoner Reasoner
	tools    ToolInvoker

	systemPrompt string

	mu           sync.Mutex
	state        State
	conversation []ConversationEntry
	scratchpad   string
	output       io.Writer

	inbound chan ConversationEntry
}

// New constructs a Worker in state Initialising. Call Run to start
// its event loop; Submit to enqueue inbound messages (from the
// router, via the worker's own control socket).
func New(systemPrompt string, reasoner Reasoner, tools ToolInvoker, config Config, logger *slog.Logger) *Worker {
	return &Worker{
		config:       config.withDefaults(),
		logger:       logger,
		reasoner:     reasoner,
		tools:        tools,
		systemPrompt: systemPrompt,
		state:        StateInitialising,
		output:       io.Discard,
		inbound:      make(chan ConversationEntry, DefaultMaxConversation),
	}
}

// SetOutput directs the worker's conversation-log and turn-event
// lines to output. cmd/agoworker points this at its own stdout, which
// processmgr has already redirected into the instance's log file —
// the same file `logs`/`chat` tail. Defaults to io.Discard so tests
// that never call SetOutput stay silent.
func (w *Worker) SetOutput(output io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.output = output
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Submit enqueues an inbound chat message for the worker to process
// on its next idle iteration. Per spec §4.8's Open Question
// resolution, a message that arrives while the worker is Thinking is
// queued, not rejected — it simply waits for the channel to be
// drained at the top of the next loop iteration.
func (w *Worker) Submit(entry ConversationEntry) error {
	select {
	case w.inbound <- entry:
		return nil
	default:
		return fmt.Errorf("worker: inbound queue full (capacity %d)", DefaultMaxConversation)
	}
}

// Run drives the event loop until ctx is cancelled. It transitions
// Initialising -> Ready immediately (a worker has nothing to
// initialize beyond construction in this system — no external
// session handshake is required), then waits for inbound messages,
// running one full turn per message.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateReady)
	w.logger.Info("worker ready")

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopping)
			w.logger.Info("worker stopping")
			w.setState(StateStopped)
			return nil
		case entry := <-w.inbound:
			w.appendConversation(entry)
			w.runTurn(ctx)
			w.setState(StateReady)
		}
	}
}

// runTurn executes the prepare/decide/observe loop for one user
// message, bounded by MaxTurnIterations. Tool observations accumulate
// in the scratchpad, not the conversation log — only a final answer
// (or the truncation notice) is appended there. The scratchpad is
// cleared and a turn-boundary event emitted however the turn ends.
func (w *Worker) runTurn(ctx context.Context) {
	for iteration := 1; iteration <= w.config.MaxTurnIterations; iteration++ {
		w.setState(StateThinking)

		result, err := w.decide(ctx)
		if err != nil {
			w.logger.Error("reasoner failed", "iteration", iteration, "error", err)
			result = ReasonResult{FinalAnswer: "I could not form a valid step"}
		}

		if result.ToolCall == nil {
			w.appendConversation(ConversationEntry{Role: RoleAssistant, Content: result.FinalAnswer, At: now()})
			w.endTurn(wire.EventTurnComplete, result.FinalAnswer)
			return
		}

		w.setState(StateObserving)
		observation := w.observe(ctx, *result.ToolCall)
		w.appendScratchpad(result.ToolCall.Name, observation)
	}

	w.logger.Warn("turn truncated: exceeded max iterations", "max_iterations", w.config.MaxTurnIterations)
	note := fmt.Sprintf("turn truncated after %d iterations without a final answer", w.config.MaxTurnIterations)
	w.appendConversation(ConversationEntry{Role: RoleSystem, Content: note, At: now()})
	w.endTurn(wire.EventTurnTruncated, note)
}

// appendScratchpad records a tool observation in the scratchpad
// (spec §4.8 step 3), keeping only the tail once MaxScratchpad is
// exceeded — never in the conversation log, which only ever holds
// messages and final answers.
func (w *Worker) appendScratchpad(tool, observation string) {
	existing := w.Scratchpad()
	entry := fmt.Sprintf("[tool %s] %s", tool, observation)
	if existing != "" {
		entry = existing + "\n" + entry
	}
	w.SetScratchpad(entry)
}

// endTurn clears the scratchpad (cleared on turn-complete, per spec
// §4.8) and emits a turn-boundary marker to the worker's output so a
// live `chat` stream knows to stop relaying and return.
func (w *Worker) endTurn(kind wire.EventKind, text string) {
	w.SetScratchpad("")

	w.mu.Lock()
	output := w.output
	w.mu.Unlock()
	if _, err := fmt.Fprintln(output, wire.EncodeTurnMarker(kind, text)); err != nil {
		w.logger.Warn("writing turn event marker", "error", err)
	}
}

// decide prepares the current prompt context and asks the Reasoner
// for the next step, retrying up to 3 times if the Reasoner's output
// fails to parse — a malformed tool-call/final-answer shape is
// treated as a transient modeling hiccup, not a fatal error, per
// spec §4.8. If every attempt fails, runTurn ends the turn with a
// fixed final answer instead.
func (w *Worker) decide(ctx context.Context) (ReasonResult, error) {
	const maxParseRetries = 3

	promptContext := w.prepare()

	var lastErr error
	for attempt := 1; attempt <= maxParseRetries+1; attempt++ {
		result, err := w.reasoner.Reason(ctx, promptContext)
		if err == nil {
			return result, nil
		}
		lastErr = err
		w.logger.Warn("reasoner call failed, retrying", "attempt", attempt, "error", err)
	}
	return ReasonResult{}, fmt.Errorf("worker: reasoner failed after %d attempts: %w", maxParseRetries+1, lastErr)
}

// observe dispatches call to the tool invoker under a per-call
// deadline. A timeout is surfaced as an observation ("the tool timed
// out") rather than aborting the turn, per spec §4.8: a slow tool
// should not take the whole instance down.
func (w *Worker) observe(ctx context.Context, call ToolCall) string {
	callCtx, cancel := context.WithTimeout(ctx, w.config.ToolTimeout)
	defer cancel()

	result, err := w.tools.Invoke(callCtx, call)
	if err != nil {
		return fmt.Sprintf("tool %q failed: %v", call.Name, err)
	}
	if result.Err != nil {
		return fmt.Sprintf("tool %q reported an error: %v", call.Name, result.Err)
	}
	return result.Output
}

// prepare builds the PromptContext from the last ContextEntries
// conversation entries plus the current scratchpad and tool surface.
func (w *Worker) prepare() PromptContext {
	w.mu.Lock()
	defer w.mu.Unlock()

	history := w.conversation
	if len(history) > w.config.ContextEntries {
		history = history[len(history)-w.config.ContextEntries:]
	}

	var toolNames []string
	if w.tools != nil {
		if names, err := w.tools.List(context.Background()); err == nil {
			toolNames = names
		}
	}

	return PromptContext{
		SystemPrompt: w.systemPrompt,
		History:      append([]ConversationEntry(nil), history...),
		Scratchpad:   w.scratchpad,
		ToolNames:    toolNames,
	}
}

// appendConversation appends entry to the log, truncating the oldest
// entries once MaxConversation is exceeded — a ring buffer by
// truncation rather than a circular index, since reads always want
// the tail in order.
func (w *Worker) appendConversation(entry ConversationEntry) {
	w.mu.Lock()
	w.conversation = append(w.conversation, entry)
	if over := len(w.conversation) - w.config.MaxConversation; over > 0 {
		w.conversation = w.conversation[over:]
	}
	output := w.output
	w.mu.Unlock()

	if _, err := fmt.Fprintln(output, encodeConversation(entry)); err != nil {
		w.logger.Warn("writing conversation entry to output", "error", err)
	}
}

// Scratchpad returns the worker's current scratchpad contents.
func (w *Worker) Scratchpad() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scratchpad
}

// SetScratchpad replaces the scratchpad contents, keeping only the
// tail once MaxScratchpad bytes is exceeded (spec §4.8's
// keep-tail truncation policy).
func (w *Worker) SetScratchpad(content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if over := len(content) - w.config.MaxScratchpad; over > 0 {
		content = content[over:]
	}
	w.scratchpad = content
}

// Conversation returns a snapshot of the current conversation log.
func (w *Worker) Conversation() []ConversationEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ConversationEntry(nil), w.conversation...)
}

// now is a seam for tests; production code always uses time.Now.
var now = time.Now
