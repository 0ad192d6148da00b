// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"testing"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/worker"
)

func TestListEmptyWhenNoServersConnected(t *testing.T) {
	m := &MCP{byTool: make(map[string]*server)}
	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("names = %v, want empty", names)
	}
}

func TestInvokeUnknownToolReturnsBadTemplate(t *testing.T) {
	m := &MCP{byTool: make(map[string]*server)}
	_, err := m.Invoke(context.Background(), worker.ToolCall{Name: "nonexistent"})
	if !agoerr.Is(err, agoerr.BadTemplate) {
		t.Fatalf("err = %v, want BadTemplate", err)
	}
}

func TestCloseIsIdempotentOnEmptyMCP(t *testing.T) {
	m := &MCP{byTool: make(map[string]*server)}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
