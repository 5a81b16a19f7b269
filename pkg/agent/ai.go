package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/retry"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// DefaultAITimeout bounds one model call.
const DefaultAITimeout = 10 * time.Second

// AIOptions configures the AI dispatcher.
type AIOptions struct {
	// Enabled gates the model path entirely.
	Enabled bool
	// FallbackOnExhaustion sends budget-refused events to the fallback
	// dispatcher instead of rejecting them.
	FallbackOnExhaustion bool
	// Timeout bounds one model call; zero uses DefaultAITimeout.
	Timeout time.Duration
	// MaxSteps bounds the tool-call rounds per call; zero uses the default.
	MaxSteps int
	// MaxTokensPerRequest is passed through to the model; zero leaves the
	// model's own limit in force.
	MaxTokensPerRequest int64
}

// AIDispatcher lets a language model choose and invoke a skill, with the
// direct dispatcher as its fallback ladder.
type AIDispatcher struct {
	reg      *skills.Registry
	prompts  *PromptBuilder
	budget   *Budget
	model    ModelClient
	fallback Dispatcher
	opts     AIOptions
}

// NewAIDispatcher wires the dispatcher. model may be nil, which forces the
// fallback path.
func NewAIDispatcher(reg *skills.Registry, prompts *PromptBuilder, budget *Budget, model ModelClient, fallback Dispatcher, opts AIOptions) *AIDispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAITimeout
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &AIDispatcher{
		reg:      reg,
		prompts:  prompts,
		budget:   budget,
		model:    model,
		fallback: fallback,
		opts:     opts,
	}
}

// HandleEvent implements Dispatcher. The model is called at most once per
// invocation; every model failure, including timeout, converts to a fallback
// dispatch rather than an error toward the peer.
func (d *AIDispatcher) HandleEvent(dctx *skills.Context) skills.Result {
	if !d.opts.Enabled || d.model == nil {
		return d.fallback.HandleEvent(dctx)
	}
	if !d.budget.CanSpend(0) {
		if d.opts.FallbackOnExhaustion {
			return d.fallback.HandleEvent(dctx)
		}
		return skills.Fail(btp.CodeBudgetExhausted, "AI agent budget exhausted")
	}

	req := CompletionRequest{
		System:    d.prompts.EventPrompt(dctx),
		Prompt:    "Handle the incoming event now. Choose exactly one skill and call it, or refuse with a reason.",
		Tools:     d.reg.ToTools(dctx),
		MaxSteps:  d.opts.MaxSteps,
		MaxTokens: d.opts.MaxTokensPerRequest,
	}
	resp, err := retry.WithTimeout(dctx.Background(), d.opts.Timeout,
		func(ctx context.Context) (*CompletionResponse, error) {
			return d.model.Complete(ctx, req)
		})
	if err != nil {
		zap.L().Warn("model call failed, dispatching via fallback",
			zap.Int("kind", dctx.Event.Kind), zap.Error(err))
		return d.fallback.HandleEvent(dctx)
	}

	// Usage is recorded for every received response, even when the result
	// interpretation below comes up empty.
	d.budget.RecordUsage(resp.Usage.Prompt, resp.Usage.Completion, resp.Usage.Total)
	return extractResult(resp)
}

// extractResult picks the handler result out of a model response: the last
// top-level tool result, else the last tool result found scanning steps from
// newest to oldest, else a refusal built from the response text.
func extractResult(resp *CompletionResponse) skills.Result {
	if n := len(resp.ToolResults); n > 0 {
		return resp.ToolResults[n-1].Result
	}
	for i := len(resp.Steps) - 1; i >= 0; i-- {
		if n := len(resp.Steps[i].ToolResults); n > 0 {
			return resp.Steps[i].ToolResults[n-1].Result
		}
	}
	msg := resp.Text
	if msg == "" {
		msg = "No matching skill for this event kind"
	}
	return skills.Fail(btp.CodeUnhandled, msg)
}
