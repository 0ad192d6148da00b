// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package reasoner

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/agoctl/ago/lib/worker"
)

func TestToAnthropicMessagesMapsRoles(t *testing.T) {
	promptContext := worker.PromptContext{
		History: []worker.ConversationEntry{
			{Role: worker.RoleUser, Content: "hi"},
			{Role: worker.RoleAssistant, Content: "hello"},
			{Role: worker.RoleTool, Content: "3 results"},
		},
		Scratchpad: "notes",
	}

	messages := toAnthropicMessages(promptContext)
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4 (3 history + scratchpad)", len(messages))
	}
	if messages[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("messages[0].Role = %v, want user", messages[0].Role)
	}
	if messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("messages[1].Role = %v, want assistant", messages[1].Role)
	}
	// Tool observations and scratchpad both fold back in as user turns.
	if messages[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("messages[2].Role = %v, want user", messages[2].Role)
	}
	if messages[3].Role != anthropic.MessageParamRoleUser {
		t.Errorf("messages[3].Role = %v, want user", messages[3].Role)
	}
}

func TestToAnthropicMessagesOmitsEmptyScratchpad(t *testing.T) {
	messages := toAnthropicMessages(worker.PromptContext{
		History: []worker.ConversationEntry{{Role: worker.RoleUser, Content: "hi"}},
	})
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1 (no scratchpad appended)", len(messages))
	}
}

// fromAnthropicMessage's branching on resp.Content is exercised
// end-to-end against the live API rather than unit-tested here: its
// input is a *anthropic.Message built entirely from SDK-internal
// union-type constructors, not something test code should construct
// by hand.
