package rlm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/diffpilot/diffpilot/internal/cache"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/provider"
	"github.com/diffpilot/diffpilot/internal/sandbox"
)

// Options bound a controller's resource use.
type Options struct {
	MainModel   string
	SubModel    string
	MaxLLMCalls int
	Deadline    time.Duration
	TokenLimit  int64
}

// Controller drives review sessions. It is single-threaded cooperative per
// session: exactly one LLM call or one sandbox execution is outstanding at a
// time, and iteration k's observation is committed to the transcript before
// iteration k+1 starts. Across sessions the controller is freely concurrent;
// the cache and gateway are the only shared structures.
type Controller struct {
	client  llm.Client
	exec    *sandbox.Executor
	gateway provider.Gateway
	cache   *cache.Cache
	prompts *llm.PromptManager
	opts    Options
	logger  *slog.Logger
}

func NewController(client llm.Client, exec *sandbox.Executor, gateway provider.Gateway, artifacts *cache.Cache, prompts *llm.PromptManager, opts Options, logger *slog.Logger) *Controller {
	return &Controller{
		client:  client,
		exec:    exec,
		gateway: gateway,
		cache:   artifacts,
		prompts: prompts,
		opts:    opts,
		logger:  logger,
	}
}

// AskRequest is one question against a session.
type AskRequest struct {
	Session      *core.ReviewSession
	Question     string
	Conversation []llm.Message
	Selection    *core.DiffSelection
	RepoConfig   *core.RepoConfig
}

// Ask opens the iteration loop and streams events. The returned channel
// always yields start first and end last, with every iteration frame ahead
// of the first block frame; it is closed after end.
func (c *Controller) Ask(ctx context.Context, req AskRequest) <-chan core.Event {
	events := make(chan core.Event, 16)
	go func() {
		defer close(events)
		c.run(ctx, req, events)
	}()
	return events
}

type systemData struct {
	Iteration     int
	MaxIterations int
}

func (c *Controller) run(ctx context.Context, req AskRequest, events chan<- core.Event) {
	session := req.Session
	events <- core.StartEvent(session.ReviewID, req.Question)

	runCtx := ctx
	var cancel context.CancelFunc
	if c.opts.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.opts.Deadline)
		defer cancel()
	}

	m := &meter{}
	tools := &sessionTools{
		ctx:      runCtx,
		pr:       session.PR,
		gateway:  c.gateway,
		cache:    c.cache,
		client:   c.client,
		subModel: c.opts.SubModel,
		meter:    m,
		maxCalls: c.opts.MaxLLMCalls,
	}

	var blocks []core.AnswerBlock
	answered := false
	parseFailures := 0

	for len(session.Transcript) < session.IterationBudget {
		index := len(session.Transcript) + 1

		system, err := c.prompts.Render(llm.SystemPrompt, llm.DefaultProvider, systemData{
			Iteration:     index,
			MaxIterations: session.IterationBudget,
		})
		if err != nil {
			c.fail(session, events, fmt.Errorf("render system prompt: %w", err))
			return
		}
		prompt := buildUserPrompt(session, req.Question, req.Conversation, req.Selection, req.RepoConfig)

		action, err := c.callForAction(runCtx, system, prompt, m)
		if err != nil {
			if c.finalizeOnFatal(ctx, runCtx, session, events, err) {
				return
			}
			if !errors.Is(err, core.ErrParse) {
				c.fail(session, events, err)
				return
			}
			// Parse failure: the iteration is consumed and the loop advances.
			parseFailures++
			it := session.Append(core.Iteration{Error: "parse"})
			events <- core.IterationEvent(it)
			if parseFailures >= 2 {
				c.fail(session, events, fmt.Errorf("%w: model output unparseable twice in a row", core.ErrParse))
				return
			}
			continue
		}
		parseFailures = 0

		started := time.Now()
		obs := c.exec.Execute(runCtx, action.Code, tools)
		it := session.Append(core.Iteration{
			Reasoning:  action.Reasoning,
			Code:       action.Code,
			Output:     renderObservation(obs),
			Error:      obs.Error,
			DurationMS: time.Since(started).Milliseconds(),
		})
		events <- core.IterationEvent(it)

		c.logger.Debug("iteration completed",
			"review_id", session.ReviewID,
			"iteration", it.Index,
			"answered", obs.Answered,
			"error", obs.Error)

		if obs.Answered {
			blocks = obs.Blocks
			answered = true
			break
		}

		if _, tokens := m.snapshot(); c.opts.TokenLimit > 0 && tokens >= c.opts.TokenLimit {
			blocks = []core.AnswerBlock{{
				Type: core.BlockMarkdown,
				Content: fmt.Sprintf("The session token budget (%d tokens) was exhausted before the "+
					"investigation finished. The transcript above holds the evidence gathered so far.", c.opts.TokenLimit),
			}}
			answered = true
			break
		}

		if runCtx.Err() != nil {
			if c.finalizeOnFatal(ctx, runCtx, session, events, runCtx.Err()) {
				return
			}
		}
	}

	if !answered {
		// Budget exhausted without a terminal answer: one forced synthesis
		// call over the full transcript.
		synthesized, err := c.synthesize(runCtx, session, req.Question, m)
		if err != nil {
			if c.finalizeOnFatal(ctx, runCtx, session, events, err) {
				return
			}
			c.fail(session, events, err)
			return
		}
		blocks = synthesized
	}

	_, tokens := m.snapshot()
	session.TokensUsed = tokens
	session.Status = core.StatusAnswered
	for _, b := range blocks {
		events <- core.BlockEvent(b)
	}
	events <- core.EndEvent()
}

// callForAction performs one main-loop LLM call with strict parsing and one
// bounded retry carrying a stricter instruction.
func (c *Controller) callForAction(ctx context.Context, system, prompt string, m *meter) (llm.Action, error) {
	raw, usage, err := c.client.Generate(ctx, llm.Request{
		Model:  c.opts.MainModel,
		System: system,
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		return llm.Action{}, err
	}
	m.add(usage)

	action, perr := llm.ParseAction(raw)
	if perr == nil {
		return action, nil
	}

	raw, usage, err = c.client.Generate(ctx, llm.Request{
		Model:  c.opts.MainModel,
		System: system,
		Prompt: prompt + "\n\nYour previous response was not valid JSON. Respond with exactly one JSON object of the form {\"reasoning\": string, \"code\": string} and nothing else.",
		JSON:   true,
	})
	if err != nil {
		return llm.Action{}, err
	}
	m.add(usage)
	return llm.ParseAction(raw)
}

// synthesize runs the "must answer now" call that closes out a session whose
// budget ran dry.
func (c *Controller) synthesize(ctx context.Context, session *core.ReviewSession, question string, m *meter) ([]core.AnswerBlock, error) {
	prompt, err := c.prompts.Render(llm.FinalizePrompt, llm.DefaultProvider, struct {
		Question   string
		Transcript string
	}{
		Question:   question,
		Transcript: formatTranscript(session.Transcript),
	})
	if err != nil {
		return nil, fmt.Errorf("render finalize prompt: %w", err)
	}

	text, usage, err := c.client.Generate(ctx, llm.Request{
		Model:  c.opts.MainModel,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	m.add(usage)
	return llm.ParseAnswerBlocks(text), nil
}

// finalizeOnFatal handles the errors that abort a session: cancellation,
// the session deadline, and auth failures. It reports whether the stream was
// finalized.
func (c *Controller) finalizeOnFatal(parent, runCtx context.Context, session *core.ReviewSession, events chan<- core.Event, err error) bool {
	switch {
	case parent.Err() != nil || errors.Is(err, context.Canceled):
		session.Status = core.StatusAborted
		events <- core.ErrorEvent(core.ErrCancelled.Error(), "the session was cancelled by the caller")
	case runCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		session.Status = core.StatusAborted
		events <- core.ErrorEvent(core.ErrDeadline.Error(), "the session deadline elapsed before an answer was produced")
	case errors.Is(err, core.ErrUnauthorized):
		session.Status = core.StatusFailed
		events <- core.ErrorEvent(core.ErrUnauthorized.Error(), "the hosting provider rejected the configured credentials")
	default:
		return false
	}
	events <- core.EndEvent()
	return true
}

// fail finalizes the stream for non-recoverable controller errors.
func (c *Controller) fail(session *core.ReviewSession, events chan<- core.Event, err error) {
	session.Status = core.StatusFailed
	c.logger.Error("session failed", "review_id", session.ReviewID, "error", err)
	events <- core.ErrorEvent(core.ErrorCode(err), "the session failed before an answer was produced")
	events <- core.EndEvent()
}

func renderObservation(obs sandbox.Observation) string {
	out := obs.Stdout
	if obs.ReturnValue != "" {
		if out != "" {
			out += "\n"
		}
		out += "=> " + obs.ReturnValue
	}
	return out
}
