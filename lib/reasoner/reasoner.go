// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package reasoner provides the concrete [worker.Reasoner] backing
// ago ships with: an adapter over the Anthropic Messages API via the
// official Go SDK (component C9).
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/worker"
)

// DefaultMaxTokens bounds a single completion when a template doesn't
// specify one.
const DefaultMaxTokens = 4096

// Anthropic implements [worker.Reasoner] over the Anthropic Messages
// API. Each worker process builds its own; it holds no
// per-conversation state.
type Anthropic struct {
	client      anthropic.Client
	model       string
	temperature *float64
	maxTokens   int64
}

// Option configures an Anthropic reasoner at construction time.
type Option func(*Anthropic)

// WithTemperature overrides the sampling temperature. Templates that
// don't set one leave the API default in effect.
func WithTemperature(t float64) Option {
	return func(a *Anthropic) { a.temperature = &t }
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int64) Option {
	return func(a *Anthropic) { a.maxTokens = n }
}

// NewAnthropic builds a reasoner for model, authenticating from the
// ANTHROPIC_API_KEY environment variable. cmd/agoworker resolves the
// model name from its template (falling back to the config's default
// model) and constructs one at startup.
func NewAnthropic(model string, opts ...Option) (*Anthropic, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, agoerr.New(agoerr.ConfigInvalid, "ANTHROPIC_API_KEY is not set")
	}

	a := &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// toolInputSchema is the minimal JSON Schema the Anthropic API
// requires for each declared tool — an open object, since ago's
// ToolInvoker surface doesn't carry per-parameter schemas (the MCP
// server itself validates arguments on invocation).
func toolInputSchema() anthropic.ToolInputSchemaParam {
	return anthropic.ToolInputSchemaParam{
		Properties: map[string]any{},
	}
}

// Reason sends promptContext to the Anthropic Messages API and
// translates the response into a [worker.ReasonResult]: a tool_use
// content block becomes a ToolCall, anything else becomes the final
// answer text.
func (a *Anthropic) Reason(ctx context.Context, promptContext worker.PromptContext) (worker.ReasonResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  toAnthropicMessages(promptContext),
	}
	if promptContext.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: promptContext.SystemPrompt}}
	}
	if a.temperature != nil {
		params.Temperature = anthropic.Float(*a.temperature)
	}
	if len(promptContext.ToolNames) > 0 {
		schema := toolInputSchema()
		params.Tools = make([]anthropic.ToolUnionParam, len(promptContext.ToolNames))
		for i, name := range promptContext.ToolNames {
			params.Tools[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        name,
				InputSchema: schema,
			}}
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return worker.ReasonResult{}, agoerr.Wrap(agoerr.ReasonerParseErr, fmt.Errorf("anthropic: %w", err))
	}

	return fromAnthropicMessage(resp)
}

func toAnthropicMessages(promptContext worker.PromptContext) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, entry := range promptContext.History {
		switch entry.Role {
		case worker.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(entry.Content)))
		case worker.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(entry.Content)))
		case worker.RoleTool:
			// Tool observations are folded back in as a user turn
			// describing the outcome — ago's conversation log doesn't
			// track Anthropic tool_use IDs across turns, since a turn
			// always completes its tool dispatch before the next
			// Reason call.
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("tool result: "+entry.Content)))
		case worker.RoleSystem:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("system: "+entry.Content)))
		}
	}
	if promptContext.Scratchpad != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("scratchpad:\n"+promptContext.Scratchpad)))
	}
	return messages
}

func fromAnthropicMessage(resp *anthropic.Message) (worker.ReasonResult, error) {
	var text string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			var params map[string]any
			if err := json.Unmarshal(b.Input, &params); err != nil {
				return worker.ReasonResult{}, agoerr.Wrap(agoerr.ReasonerParseErr, fmt.Errorf("decoding tool_use input: %w", err))
			}
			return worker.ReasonResult{ToolCall: &worker.ToolCall{Name: b.Name, Params: params}}, nil
		}
	}
	return worker.ReasonResult{FinalAnswer: text}, nil
}
