package model

import (
	"context"
	"errors"
	"testing"

	"github.com/plango-run/plango/runtime"
)

func TestAsServiceDispatchesThroughEngine(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	mock := &MockChatModel{Responses: []ChatOut{{Text: "Paris"}}}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{}))

	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	out, err := engine.Run(context.Background(), rc, "run-llm", "What is the capital of France?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got string
	if err := out.As(&got); err != nil {
		t.Fatalf("As: %v", err)
	}
	if got != "Paris" {
		t.Fatalf("got %q, want %q", got, "Paris")
	}
	if mock.CallCount() != 1 {
		t.Fatalf("CallCount = %d, want 1", mock.CallCount())
	}
	if mock.Calls[0].Messages[0].Content != "What is the capital of France?" {
		t.Errorf("model received prompt %q", mock.Calls[0].Messages[0].Content)
	}
}

func TestAsServiceReadsPromptFromVar(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	mock := &MockChatModel{Responses: []ChatOut{{Text: "ack"}}}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{
		PromptField:  "start.question",
		SystemPrompt: "Answer tersely.",
	}))

	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-llm-field", map[string]any{"question": "2+2?"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("CallCount = %d, want 1", len(mock.Calls))
	}
	call := mock.Calls[0]
	if call.Messages[0].Role != RoleSystem || call.Messages[0].Content != "Answer tersely." {
		t.Errorf("system message = %+v", call.Messages[0])
	}
	if call.Messages[1].Content != "2+2?" {
		t.Errorf("user message content = %q, want %q", call.Messages[1].Content, "2+2?")
	}
}

func TestAsServiceSurfacesToolCalls(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	mock := &MockChatModel{Responses: []ChatOut{{
		ToolCalls: []ToolCall{{Name: "get_weather", Input: map[string]interface{}{"location": "SF"}}},
	}}}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{}))

	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-llm-tools", "what's the weather"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cell, ok := rc.GetVar("ask")
	if !ok {
		t.Fatal("expected ask's var to be set")
	}
	name, ok := cell.Get("ToolCalls.0.Name")
	if !ok || name != "get_weather" {
		t.Errorf("ToolCalls.0.Name = %v, ok=%v", name, ok)
	}
}

func TestAsServiceRecordsCostTrackerUsage(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	mock := &MockChatModel{Responses: []ChatOut{{
		Text:  "Paris",
		Usage: Usage{InputTokens: 100, OutputTokens: 20},
	}}}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{ModelName: "gpt-4o"}))

	tracker := runtime.NewCostTracker("run-cost", "USD")
	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry), runtime.WithCostTracker(tracker))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-cost", "capital of France?"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	in, out := tracker.GetTokenUsage()
	if in != 100 || out != 20 {
		t.Fatalf("GetTokenUsage() = (%d, %d), want (100, 20)", in, out)
	}
	calls := tracker.GetCallHistory()
	if len(calls) != 1 || calls[0].NodeName != "ask" {
		t.Fatalf("GetCallHistory() = %+v, want one call attributed to node %q", calls, "ask")
	}
}

func TestAsServiceSkipsCostTrackerWithoutUsage(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	mock := &MockChatModel{Responses: []ChatOut{{Text: "Paris"}}}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{ModelName: "gpt-4o"}))

	tracker := runtime.NewCostTracker("run-cost-empty", "USD")
	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry), runtime.WithCostTracker(tracker))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-cost-empty", "capital of France?"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(tracker.GetCallHistory()) != 0 {
		t.Fatalf("expected no calls recorded when the model reports no usage")
	}
}

func TestAsServiceWrapsModelError(t *testing.T) {
	plan := runtime.NewDAG().
		Node("start", runtime.ServiceStart, nil).
		Node("ask", "llm", nil).
		Node("end", runtime.ServiceEnd, nil).
		Edge("start", "ask").
		Edge("ask", "end")

	boom := errors.New("rate limited")
	mock := &MockChatModel{Err: boom}
	registry := runtime.NewDefaultServiceRegistry()
	registry.Register("llm", AsService(mock, PromptConfig{}))

	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-llm-err", "hi"); err == nil {
		t.Fatal("expected Run to fail")
	} else if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want wrapping %v", err, boom)
	}
}
