package agent

import (
	"context"

	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// Usage is the token triple reported by a model response.
type Usage struct {
	Prompt     int64 `json:"promptTokens"`
	Completion int64 `json:"completionTokens"`
	Total      int64 `json:"totalTokens"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]interface{}
}

// ToolResult pairs a tool call with the handler result it produced.
type ToolResult struct {
	Name   string
	Result skills.Result
}

// Step is one round of the model conversation: optional text plus the tool
// calls issued in that round and their local results.
type Step struct {
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// CompletionRequest is one dispatcher-to-model exchange.
type CompletionRequest struct {
	System    string
	Prompt    string
	Tools     []skills.Tool
	MaxSteps  int
	MaxTokens int64
}

// CompletionResponse is the model's answer across all steps.
type CompletionResponse struct {
	Text         string
	Steps        []Step
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	Usage        Usage
	FinishReason string
}

// ModelClient is the language-model capability. Implementations run tool
// calls locally between steps and report cumulative usage.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
