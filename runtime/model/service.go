package model

import (
	"context"
	"fmt"
	"reflect"

	"github.com/plango-run/plango/runtime"
)

// PromptConfig configures AsService: where in the run's data a node reading
// from a ChatModel should find its prompt, and what system framing (if any)
// to send alongside it.
type PromptConfig struct {
	// PromptField is a dotted path read via Context.GetVarField to build the
	// user message content. Empty reads the run's raw input instead.
	PromptField string

	// SystemPrompt, if set, is sent as a leading system message on every call.
	SystemPrompt string

	// Tools are offered to the model on every call.
	Tools []ToolSpec

	// ModelName identifies the underlying model for cost attribution (e.g.
	// "claude-sonnet-4-5-20250929", "gpt-4o"). A ChatModel has no way to
	// report its own name, so AsService needs it separately to key a
	// CostTracker lookup. Left empty, usage is still recorded against "".
	ModelName string
}

// AsService adapts a ChatModel into a runtime.ServiceFunc, so any of this
// package's providers (or a MockChatModel in tests) can be registered and
// dispatched like any other node: it resolves the node's configured
// prompt, calls m.Chat, and writes the result as the node's output Cell —
// the response text alone when the model returned no tool calls, or the
// full ChatOut (JSON-encoded) when it did, so a downstream node can read
// out.ToolCalls.
func AsService(m ChatModel, cfg PromptConfig) runtime.ServiceFunc {
	return func(ctx context.Context, rc *runtime.Context, se runtime.ServiceEntity) (runtime.Cell, error) {
		prompt, err := resolvePrompt(rc, cfg.PromptField)
		if err != nil {
			return nil, fmt.Errorf("model: node %q: %w", se.NodeName, err)
		}

		messages := make([]Message, 0, 2)
		if cfg.SystemPrompt != "" {
			messages = append(messages, Message{Role: RoleSystem, Content: cfg.SystemPrompt})
		}
		messages = append(messages, Message{Role: RoleUser, Content: prompt})

		out, err := m.Chat(ctx, messages, cfg.Tools)
		if err != nil {
			return nil, fmt.Errorf("model: node %q: chat: %w", se.NodeName, err)
		}
		recordUsage(rc, cfg.ModelName, se.NodeName, out.Usage)
		if len(out.ToolCalls) > 0 {
			return runtime.NewJSONCell(out)
		}
		return runtime.NewJSONCell(out.Text)
	}
}

// recordUsage attributes a call's token usage to a CostTracker attached to
// rc via WithCostTracker, if one is present. A run with no tracker, or a
// provider that reported no usage, is a silent no-op — cost tracking is
// opt-in (spec's engine-level CostTracker option), not mandatory plumbing.
func recordUsage(rc *runtime.Context, modelName, nodeName string, usage Usage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	var tracker *runtime.CostTracker
	if !rc.Env().Get(reflect.TypeOf(tracker), &tracker) {
		return
	}
	_ = tracker.RecordLLMCall(modelName, usage.InputTokens, usage.OutputTokens, nodeName)
}

func resolvePrompt(rc *runtime.Context, field string) (string, error) {
	if field == "" {
		v, ok := rc.TakeInput()
		if !ok {
			// The start service normally consumes the input slot and stores
			// the input as its own var, so read it back from there.
			cell, found := rc.GetVar(rc.Plan().StartNodeName())
			if !found {
				return "", fmt.Errorf("no run input, and no PromptField configured")
			}
			v, _ = cell.Get("*")
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("run input is %T, want string", v)
		}
		return s, nil
	}
	val, ok := rc.GetVarField(field)
	if !ok {
		return "", fmt.Errorf("field %q not found among run vars", field)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, want string", field, val)
	}
	return s, nil
}
