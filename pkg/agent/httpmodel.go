package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// defaultMaxSteps bounds the tool-call rounds of one completion.
const defaultMaxSteps = 5

// HTTPModel speaks the chat-completions protocol against an OpenAI-style
// endpoint and runs tool calls locally between rounds.
type HTTPModel struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPModel returns a client for the given endpoint. The per-request
// deadline comes from the caller's context, not the HTTP client.
func NewHTTPModel(baseURL, apiKey, model string) *HTTPModel {
	return &HTTPModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFuncCall `json:"function"`
}

type chatFuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string   `json:"type"`
	Function chatFunc `json:"function"`
}

type chatFunc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Tools     []chatTool    `json:"tools,omitempty"`
	MaxTokens int64         `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements ModelClient.
func (m *HTTPModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	toolIndex := make(map[string]skills.Tool, len(req.Tools))
	toolDefs := make([]chatTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolIndex[t.Name] = t
		toolDefs = append(toolDefs, chatTool{
			Type: "function",
			Function: chatFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  paramsSchema(t.Params),
			},
		})
	}

	messages := []chatMessage{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.Prompt},
	}

	var resp CompletionResponse
	for step := 0; step < maxSteps; step++ {
		cc, err := m.chat(ctx, chatRequest{
			Model:     m.model,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		resp.Usage.Prompt += cc.Usage.PromptTokens
		resp.Usage.Completion += cc.Usage.CompletionTokens
		resp.Usage.Total += cc.Usage.TotalTokens

		choice := cc.Choices[0]
		resp.FinishReason = choice.FinishReason
		st := Step{Text: choice.Message.Content}

		if len(choice.Message.ToolCalls) == 0 {
			resp.Text = choice.Message.Content
			resp.Steps = append(resp.Steps, st)
			return &resp, nil
		}

		messages = append(messages, choice.Message)
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]interface{}{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]interface{}{}
				}
			}
			call := ToolCall{Name: tc.Function.Name, Args: args}
			st.ToolCalls = append(st.ToolCalls, call)
			resp.ToolCalls = append(resp.ToolCalls, call)

			var result skills.Result
			if tool, ok := toolIndex[tc.Function.Name]; ok {
				result = tool.Call(args)
			} else {
				result = skills.Fail(btp.CodeUnhandled, fmt.Sprintf("unknown tool %q", tc.Function.Name))
			}
			tr := ToolResult{Name: tc.Function.Name, Result: result}
			st.ToolResults = append(st.ToolResults, tr)
			resp.ToolResults = append(resp.ToolResults, tr)

			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(`{"success":false}`)
			}
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    string(content),
			})
		}
		resp.Steps = append(resp.Steps, st)
	}
	resp.FinishReason = "max_steps"
	return &resp, nil
}

func (m *HTTPModel) chat(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent: chat request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("agent: read chat response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent: chat endpoint returned %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("agent: decode chat response: %w", err)
	}
	if cc.Error != nil {
		return nil, fmt.Errorf("agent: model error: %s", cc.Error.Message)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("agent: chat response has no choices")
	}
	return &cc, nil
}

func paramsSchema(params []skills.Param) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
