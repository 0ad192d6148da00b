// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type stubReasoner struct {
	results []ReasonResult
	errs    []error
	calls   int

	// beforeReason, if set, runs before the call-th Reason call (0
	// indexed) returns — used to observe worker state mid-turn.
	beforeReason func(call int)
}

func (s *stubReasoner) Reason(context.Context, PromptContext) (ReasonResult, error) {
	i := s.calls
	s.calls++
	if s.beforeReason != nil {
		s.beforeReason(i)
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return ReasonResult{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	if len(s.results) == 0 {
		return ReasonResult{}, nil
	}
	return s.results[len(s.results)-1], nil
}

type stubTools struct {
	names []string
	out   ToolResult
}

func (s *stubTools) List(context.Context) ([]string, error) { return s.names, nil }
func (s *stubTools) Invoke(context.Context, ToolCall) (ToolResult, error) {
	return s.out, nil
}

func waitForState(t *testing.T, w *Worker, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if w.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state never reached %s, stuck at %s", want, w.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunAnswersDirectly(t *testing.T) {
	t.Parallel()

	reasoner := &stubReasoner{results: []ReasonResult{{FinalAnswer: "hello there"}}}
	w := New("you are helpful", reasoner, &stubTools{}, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := w.Submit(ConversationEntry{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForState(t, w, StateReady)

	conv := w.Conversation()
	if len(conv) != 2 {
		t.Fatalf("conversation = %v, want 2 entries", conv)
	}
	if conv[1].Role != RoleAssistant || conv[1].Content != "hello there" {
		t.Errorf("final entry = %+v, want assistant/hello there", conv[1])
	}
}

func TestRunDispatchesToolThenAnswers(t *testing.T) {
	t.Parallel()

	reasoner := &stubReasoner{results: []ReasonResult{
		{ToolCall: &ToolCall{Name: "search", Params: map[string]any{"q": "go"}}},
		{FinalAnswer: "done"},
	}}
	tools := &stubTools{names: []string{"search"}, out: ToolResult{Output: "3 results"}}
	w := New("sys", reasoner, tools, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(ConversationEntry{Role: RoleUser, Content: "find stuff"})
	waitForState(t, w, StateReady)

	conv := w.Conversation()
	if len(conv) != 2 {
		t.Fatalf("conversation = %v, want 2 entries (tool observations stay in the scratchpad)", conv)
	}
	if conv[1].Role != RoleAssistant || conv[1].Content != "done" {
		t.Errorf("final entry = %+v, want assistant/done", conv[1])
	}
	if got := w.Scratchpad(); got != "" {
		t.Errorf("Scratchpad() = %q, want empty after turn-complete", got)
	}
}

// TestRunKeepsToolObservationsInScratchpad confirms the observation
// actually lives in the scratchpad while the turn is still open, not
// just that it's gone by the time the turn completes.
func TestRunKeepsToolObservationsInScratchpad(t *testing.T) {
	t.Parallel()

	observed := make(chan string, 1)
	reasoner := &stubReasoner{results: []ReasonResult{
		{ToolCall: &ToolCall{Name: "search", Params: map[string]any{"q": "go"}}},
		{FinalAnswer: "done"},
	}}
	tools := &stubTools{names: []string{"search"}, out: ToolResult{Output: "3 results"}}
	w := New("sys", reasoner, tools, Config{}, testLogger())
	reasoner.beforeReason = func(call int) {
		if call == 1 {
			observed <- w.Scratchpad()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(ConversationEntry{Role: RoleUser, Content: "find stuff"})

	select {
	case got := <-observed:
		if !strings.Contains(got, "3 results") {
			t.Errorf("scratchpad before final answer = %q, want it to contain the tool observation", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reasoner never reached its second call")
	}

	waitForState(t, w, StateReady)
	if got := w.Scratchpad(); got != "" {
		t.Errorf("Scratchpad() = %q, want empty after turn-complete", got)
	}
}

func TestRunRetriesReasonerOnError(t *testing.T) {
	t.Parallel()

	reasoner := &stubReasoner{
		errs:    []error{errors.New("parse fail"), errors.New("parse fail")},
		results: []ReasonResult{{}, {}, {FinalAnswer: "recovered"}},
	}
	w := New("sys", reasoner, &stubTools{}, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(ConversationEntry{Role: RoleUser, Content: "hi"})
	waitForState(t, w, StateReady)

	conv := w.Conversation()
	last := conv[len(conv)-1]
	if last.Role != RoleAssistant || last.Content != "recovered" {
		t.Errorf("last entry = %+v, want assistant/recovered", last)
	}
}

func TestRunTruncatesAfterMaxIterations(t *testing.T) {
	t.Parallel()

	reasoner := &stubReasoner{results: []ReasonResult{{ToolCall: &ToolCall{Name: "loop"}}}}
	tools := &stubTools{names: []string{"loop"}, out: ToolResult{Output: "again"}}
	w := New("sys", reasoner, tools, Config{MaxTurnIterations: 3}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(ConversationEntry{Role: RoleUser, Content: "loop forever"})
	waitForState(t, w, StateReady)

	conv := w.Conversation()
	last := conv[len(conv)-1]
	if last.Role != RoleSystem {
		t.Errorf("last entry role = %v, want system truncation notice", last.Role)
	}
}

func TestScratchpadKeepsTail(t *testing.T) {
	t.Parallel()

	w := New("sys", &stubReasoner{}, &stubTools{}, Config{MaxScratchpad: 5}, testLogger())
	w.SetScratchpad("abcdefgh")
	if got := w.Scratchpad(); got != "defgh" {
		t.Errorf("Scratchpad() = %q, want %q", got, "defgh")
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	w := New("sys", &stubReasoner{}, &stubTools{}, Config{}, testLogger())
	for i := 0; i < DefaultMaxConversation; i++ {
		if err := w.Submit(ConversationEntry{Content: "x"}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := w.Submit(ConversationEntry{Content: "overflow"}); err == nil {
		t.Fatal("expected error once inbound queue is full")
	}
}
