package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/dvm"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
)

// TextCompleter produces a plain-text completion for a prompt. The node
// wraps its model client into this; nil disables text tasks.
type TextCompleter interface {
	CompleteText(ctx context.Context, prompt string) (string, error)
}

// Fetcher retrieves url job inputs. *storage.Client satisfies it; nil
// disables url inputs.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// DVMJob handles the whole job-request kind range. Discovery requests are
// answered from the registry, delegations honor their timeout, and text
// tasks run through the completer with inputs and resolved dependencies
// folded into the prompt. Job-level failures become error-status result
// events rather than rejects: the job was handled, its outcome was an
// error.
func DVMJob(db *eventdb.DB, reg *Registry, completer TextCompleter, fetcher Fetcher) *Skill {
	return &Skill{
		Name:        "dvm_job",
		Description: "Process job requests: text tasks, skill discovery and task delegation.",
		KindRange:   [2]int{event.KindJobRequestMin, event.KindJobRequestMax},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			job, err := dvm.ParseJobRequest(ctx.Event)
			if err != nil {
				return Fail(btp.CodeMalformed, err.Error())
			}

			deps, err := dvm.Resolve(job, db)
			if err != nil {
				return errorResult(job, btp.CodeMalformed, err.Error(), ctx)
			}

			switch ctx.Event.Kind {
			case event.KindDiscovery:
				return discoveryResult(job, reg, ctx)
			case event.KindDelegation:
				return delegationResult(job, deps, completer, fetcher, ctx)
			default:
				return textResult(job, deps, completer, fetcher, ctx.Background(), ctx)
			}
		},
	}
}

// discoveryResult answers a kind-5300 request with the skill catalogue.
func discoveryResult(job *dvm.JobRequest, reg *Registry, ctx *Context) Result {
	catalogue, err := json.Marshal(map[string]interface{}{
		"agentId": ctx.AgentID,
		"pubkey":  ctx.AgentPubKey,
		"skills":  reg.Summaries(),
	})
	if err != nil {
		return Fail(btp.CodeUnhandled, err.Error())
	}
	return jobResult(job, string(catalogue), ctx)
}

// delegationResult runs a kind-5900 delegation as a text task under the
// requested timeout.
func delegationResult(job *dvm.JobRequest, deps map[string]dvm.Resolved, completer TextCompleter, fetcher Fetcher, ctx *Context) Result {
	del, err := dvm.ParseDelegationRequest(job.Event)
	if err != nil {
		return Fail(btp.CodeMalformed, err.Error())
	}
	runCtx := ctx.Background()
	if del.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(del.Timeout)*time.Second)
		defer cancel()
	}
	return textResult(job, deps, completer, fetcher, runCtx, ctx)
}

// textResult builds a prompt from the job surface and completes it.
func textResult(job *dvm.JobRequest, deps map[string]dvm.Resolved, completer TextCompleter, fetcher Fetcher, runCtx context.Context, ctx *Context) Result {
	if completer == nil {
		return errorResult(job, btp.CodeUnhandled, "no model configured for text tasks", ctx)
	}
	prompt, err := buildJobPrompt(runCtx, job, deps, fetcher)
	if err != nil {
		return errorResult(job, btp.CodeMalformed, err.Error(), ctx)
	}
	text, err := completer.CompleteText(runCtx, prompt)
	if err != nil {
		zap.L().Warn("job completion failed",
			zap.String("eventId", job.Event.ID), zap.Error(err))
		return errorResult(job, btp.CodeUnhandled, err.Error(), ctx)
	}
	return jobResult(job, text, ctx)
}

// buildJobPrompt folds inputs, resolved dependencies and params into one
// prompt. Url inputs are fetched; event and job inputs resolve against the
// event database through the dependency map.
func buildJobPrompt(runCtx context.Context, job *dvm.JobRequest, deps map[string]dvm.Resolved, fetcher Fetcher) (string, error) {
	var b strings.Builder
	for _, in := range job.Inputs {
		switch in.Type {
		case dvm.InputText:
			b.WriteString(in.Data)
			b.WriteByte('\n')
		case dvm.InputURL:
			if fetcher == nil {
				return "", errors.New("url inputs are not supported on this node")
			}
			data, err := fetcher.Fetch(runCtx, in.Data)
			if err != nil {
				return "", fmt.Errorf("fetch input %s: %w", in.Data, err)
			}
			b.Write(data)
			b.WriteByte('\n')
		case dvm.InputEvent, dvm.InputJob:
			if dep, ok := deps[in.Data]; ok {
				b.WriteString(dep.Content)
				b.WriteByte('\n')
			}
		}
	}
	for id, dep := range deps {
		referenced := false
		for _, in := range job.Inputs {
			if in.Data == id {
				referenced = true
				break
			}
		}
		if !referenced {
			b.WriteString(dep.Content)
			b.WriteByte('\n')
		}
	}
	if p, ok := job.Params["prompt"]; ok {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	prompt := strings.TrimSpace(b.String())
	if prompt == "" {
		return "", errors.New("job request carries no usable inputs")
	}
	return prompt, nil
}

// jobResult wraps content into a success result event for the request.
func jobResult(job *dvm.JobRequest, content string, ctx *Context) Result {
	ev, err := dvm.FormatJobResult(dvm.ResultInput{
		Request: job.Event,
		Content: content,
		Amount:  ctx.Amount,
		Status:  dvm.StatusSuccess,
	})
	if err != nil {
		return Fail(btp.CodeUnhandled, err.Error())
	}
	return Ok(ev)
}

// errorResult wraps a job-level failure into an error-status result event.
func errorResult(job *dvm.JobRequest, code, message string, ctx *Context) Result {
	ev, err := dvm.FormatErrorResult(job.Event, code, message, ctx.Amount)
	if err != nil {
		return Fail(btp.CodeUnhandled, err.Error())
	}
	return Ok(ev)
}
