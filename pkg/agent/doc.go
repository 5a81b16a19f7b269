// Package agent contains the event dispatchers and the resources they
// consume: the rolling token budget, the system-prompt builder and the
// language-model client.
//
// # Dispatchers
//
// A Dispatcher turns one dispatch context into a handler result. The
// DirectDispatcher routes by event kind through a fixed map built at boot.
// The AIDispatcher asks a language model to choose and invoke a skill,
// honoring the token budget and a per-call timeout, and falls back to the
// direct dispatcher whenever the model path is unavailable:
//
//	direct := agent.NewDirectDispatcher(reg)
//	ai := agent.NewAIDispatcher(reg, prompts, budget, model, direct, agent.AIOptions{
//		Enabled:              true,
//		FallbackOnExhaustion: true,
//	})
//	res := ai.HandleEvent(dctx)
//
// # Budget
//
// The Budget accounts token usage over a rolling window and emits telemetry
// on every mutation: a usage record per call, latched warnings at 80% and
// 95%, and an exhaustion record when nothing remains. Telemetry failures
// never perturb budget state.
//
// # Model client
//
// ModelClient is a capability, not a dependency: the HTTP implementation
// speaks the chat-completions protocol and runs tool calls locally between
// steps, while tests substitute a scripted client.
package agent
