package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// scriptedModel is the deterministic stand-in for a language model.
type scriptedModel struct {
	invokeTool string
	toolArgs   map[string]interface{}
	text       string
	usage      Usage
	err        error
	delay      time.Duration

	calls   int
	lastReq CompletionRequest
}

func (m *scriptedModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.calls++
	m.lastReq = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	resp := &CompletionResponse{Text: m.text, Usage: m.usage, FinishReason: "stop"}
	if m.invokeTool != "" {
		for _, tool := range req.Tools {
			if tool.Name != m.invokeTool {
				continue
			}
			res := tool.Call(m.toolArgs)
			call := ToolCall{Name: tool.Name, Args: m.toolArgs}
			tr := ToolResult{Name: tool.Name, Result: res}
			resp.ToolCalls = []ToolCall{call}
			resp.ToolResults = []ToolResult{tr}
			resp.Steps = []Step{{ToolCalls: resp.ToolCalls, ToolResults: resp.ToolResults}}
			resp.FinishReason = "tool_calls"
			return resp, nil
		}
		return nil, fmt.Errorf("tool %q not offered", m.invokeTool)
	}
	resp.Steps = []Step{{Text: m.text}}
	return resp, nil
}

func dispatchContext(kind int, content string) *skills.Context {
	return &skills.Context{
		Ctx:    context.Background(),
		Event:  event.New(kind, content, nil),
		PeerID: "peer-x",
	}
}

func dispatcherRegistry(t *testing.T, stored *[]string) *skills.Registry {
	t.Helper()
	reg := skills.NewRegistry()
	err := reg.Register(&skills.Skill{
		Name:        "store_note",
		Description: "Store a note.",
		Kinds:       []int{1},
		Execute: func(_ map[string]interface{}, ctx *skills.Context) skills.Result {
			*stored = append(*stored, ctx.Event.Content)
			return skills.Ok()
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestDirectDispatcherRoutesByKind(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	d := NewDirectDispatcher(reg)

	res := d.HandleEvent(dispatchContext(1, "note body"))
	if !res.Success {
		t.Fatalf("dispatch failed: %+v", res.Error)
	}
	if len(stored) != 1 || stored[0] != "note body" {
		t.Errorf("skill did not run: %v", stored)
	}
}

func TestDirectDispatcherUnhandledKind(t *testing.T) {
	var stored []string
	d := NewDirectDispatcher(dispatcherRegistry(t, &stored))

	res := d.HandleEvent(dispatchContext(42, "mystery"))
	if res.Success {
		t.Fatal("dispatch of unhandled kind succeeded")
	}
	if res.Error.Code != btp.CodeUnhandled || res.Error.Message != "unhandled kind" {
		t.Errorf("error = %+v, want F99 unhandled kind", res.Error)
	}
	if len(stored) != 0 {
		t.Error("skill ran for an undeclared kind")
	}
}

func TestDirectDispatcherIgnoresGeneralists(t *testing.T) {
	reg := skills.NewRegistry()
	if err := reg.Register(&skills.Skill{
		Name:    "generalist",
		Execute: func(map[string]interface{}, *skills.Context) skills.Result { return skills.Ok() },
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDirectDispatcher(reg)
	res := d.HandleEvent(dispatchContext(42, ""))
	if res.Success {
		t.Error("generalist handled a kind on the direct path")
	}
}

func newTestAI(t *testing.T, reg *skills.Registry, budget *Budget, model ModelClient, opts AIOptions) *AIDispatcher {
	t.Helper()
	pb := NewPromptBuilder("agent-t", "pk", "g.agent.t", "", reg)
	return NewAIDispatcher(reg, pb, budget, model, NewDirectDispatcher(reg), opts)
}

func TestAIDispatcherInvokesChosenSkill(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	budget := NewBudget(1000, time.Hour, nil)
	model := &scriptedModel{invokeTool: "store_note", usage: Usage{Prompt: 10, Completion: 5, Total: 15}}
	ai := newTestAI(t, reg, budget, model, AIOptions{Enabled: true})

	res := ai.HandleEvent(dispatchContext(1, "ai-routed"))
	if !res.Success {
		t.Fatalf("dispatch failed: %+v", res.Error)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want exactly 1", model.calls)
	}
	if len(stored) != 1 || stored[0] != "ai-routed" {
		t.Errorf("skill did not run via model: %v", stored)
	}
	if got := budget.Snapshot().UsedTokens; got != 15 {
		t.Errorf("budget used = %d, want 15", got)
	}
	if len(model.lastReq.Tools) == 0 {
		t.Error("model was offered no tools")
	}
}

func TestAIDispatcherDisabledUsesFallback(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	model := &scriptedModel{invokeTool: "store_note"}
	ai := newTestAI(t, reg, NewBudget(1000, time.Hour, nil), model, AIOptions{Enabled: false})

	res := ai.HandleEvent(dispatchContext(1, "direct"))
	if !res.Success || len(stored) != 1 {
		t.Fatalf("fallback did not run: %+v", res)
	}
	if model.calls != 0 {
		t.Error("model called despite being disabled")
	}
}

func TestAIDispatcherBudgetExhaustedNoFallback(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	budget := NewBudget(100, time.Hour, nil)
	budget.RecordUsage(0, 0, 100)
	model := &scriptedModel{invokeTool: "store_note"}
	ai := newTestAI(t, reg, budget, model, AIOptions{Enabled: true, FallbackOnExhaustion: false})

	res := ai.HandleEvent(dispatchContext(1, "refused"))
	if res.Success {
		t.Fatal("dispatch succeeded with exhausted budget")
	}
	if res.Error.Code != btp.CodeBudgetExhausted || res.Error.Message != "AI agent budget exhausted" {
		t.Errorf("error = %+v, want T03", res.Error)
	}
	if model.calls != 0 {
		t.Error("model called despite exhausted budget")
	}
	if len(stored) != 0 {
		t.Error("fallback ran despite FallbackOnExhaustion=false")
	}
}

func TestAIDispatcherBudgetExhaustedWithFallback(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	budget := NewBudget(100, time.Hour, nil)
	budget.RecordUsage(0, 0, 100)
	model := &scriptedModel{invokeTool: "store_note"}
	ai := newTestAI(t, reg, budget, model, AIOptions{Enabled: true, FallbackOnExhaustion: true})

	res := ai.HandleEvent(dispatchContext(1, "fell back"))
	if !res.Success || len(stored) != 1 {
		t.Fatalf("fallback did not run: %+v", res)
	}
	if model.calls != 0 {
		t.Error("fallback path called the model")
	}
}

func TestAIDispatcherModelErrorFallsBack(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	budget := NewBudget(1000, time.Hour, nil)
	model := &scriptedModel{err: errors.New("upstream 500")}
	ai := newTestAI(t, reg, budget, model, AIOptions{Enabled: true})

	res := ai.HandleEvent(dispatchContext(1, "recovered"))
	if !res.Success || len(stored) != 1 {
		t.Fatalf("fallback did not recover: %+v", res)
	}
	if got := budget.Snapshot().UsedTokens; got != 0 {
		t.Errorf("budget mutated on failed model call: %d", got)
	}
}

func TestAIDispatcherTimeoutFallsBack(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	model := &scriptedModel{invokeTool: "store_note", delay: time.Second}
	ai := newTestAI(t, reg, NewBudget(1000, time.Hour, nil), model, AIOptions{
		Enabled: true,
		Timeout: 20 * time.Millisecond,
	})

	res := ai.HandleEvent(dispatchContext(1, "slow model"))
	if !res.Success {
		t.Fatalf("fallback did not run after timeout: %+v", res)
	}
	if len(stored) != 1 {
		t.Error("fallback skill did not execute")
	}
}

func TestAIDispatcherNoToolCallRefusal(t *testing.T) {
	var stored []string
	reg := dispatcherRegistry(t, &stored)
	budget := NewBudget(1000, time.Hour, nil)
	model := &scriptedModel{text: "I cannot help with that.", usage: Usage{Total: 7}}
	ai := newTestAI(t, reg, budget, model, AIOptions{Enabled: true})

	res := ai.HandleEvent(dispatchContext(1, "refused politely"))
	if res.Success {
		t.Fatal("refusal reported success")
	}
	if res.Error.Code != btp.CodeUnhandled || res.Error.Message != "I cannot help with that." {
		t.Errorf("error = %+v", res.Error)
	}
	if got := budget.Snapshot().UsedTokens; got != 7 {
		t.Errorf("usage not recorded for refusal: %d", got)
	}
}

func TestExtractResultScansStepsNewestFirst(t *testing.T) {
	older := ToolResult{Name: "a", Result: skills.Fail("F99", "older")}
	newer := ToolResult{Name: "b", Result: skills.Ok()}
	resp := &CompletionResponse{
		Steps: []Step{{ToolResults: []ToolResult{older}}, {ToolResults: []ToolResult{newer}}},
	}
	res := extractResult(resp)
	if !res.Success {
		t.Errorf("extract picked the older step result: %+v", res)
	}
}
