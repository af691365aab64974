package rlm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffpilot/diffpilot/internal/cache"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/provider"
	"github.com/diffpilot/diffpilot/internal/sandbox"
)

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, _ llm.Request) (string, llm.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return "", llm.Usage{}, fmt.Errorf("scripted LLM exhausted after %d calls", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, llm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}, nil
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGateway serves a tiny fixed repository.
type fakeGateway struct {
	fetches atomic.Int32
}

func (f *fakeGateway) ParseURL(string) (provider.Ref, error) {
	panic("not used in controller tests")
}

func (f *fakeGateway) LoadPR(context.Context, string) (*core.PRInfo, error) {
	panic("not used in controller tests")
}

func (f *fakeGateway) FetchFile(_ context.Context, _ *core.PRInfo, path, _ string) (string, error) {
	f.fetches.Add(1)
	if path == "README" {
		return "# Hello World\n", nil
	}
	return "", fmt.Errorf("%w: %s", core.ErrNotFound, path)
}

func (f *fakeGateway) Search(context.Context, *core.PRInfo, string, string) ([]core.SearchHit, error) {
	return []core.SearchHit{{Path: "README", Line: 1, Snippet: "# Hello World"}}, nil
}

func testPR() *core.PRInfo {
	return &core.PRInfo{
		ReviewID: "rev1",
		Provider: "github",
		Repo:     core.Repo{Owner: "octocat", Name: "Hello-World"},
		Number:   1,
		Title:    "Update README",
		BaseSHA:  "base123",
		HeadSHA:  "head456",
		Files: []core.PRFile{
			{Path: "README", Status: core.FileModified, Additions: 1, Deletions: 0,
				Patch: "@@ -1,1 +1,2 @@\n # Hello World\n+New line\n"},
		},
	}
}

func action(reasoning, code string) string {
	return fmt.Sprintf(`{"reasoning": %q, "code": %q}`, reasoning, code)
}

type harness struct {
	controller *Controller
	llm        *scriptedLLM
	gateway    *fakeGateway
	cache      *cache.Cache
}

func newHarness(t *testing.T, responses []string) *harness {
	t.Helper()
	prompts, err := llm.NewPromptManager()
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	client := &scriptedLLM{responses: responses}
	gateway := &fakeGateway{}
	artifacts := cache.New(1 << 20)
	exec := sandbox.NewExecutor(10*time.Second, logger)

	controller := NewController(client, exec, gateway, artifacts, prompts, Options{
		MainModel:   "main-model",
		SubModel:    "sub-model",
		MaxLLMCalls: 25,
		Deadline:    time.Minute,
		TokenLimit:  1_000_000,
	}, logger)

	return &harness{controller: controller, llm: client, gateway: gateway, cache: artifacts}
}

func collect(t *testing.T, events <-chan core.Event) []core.Event {
	t.Helper()
	var all []core.Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, event)
		case <-timeout:
			t.Fatal("stream did not complete")
		}
	}
}

// assertStreamShape checks the ordering guarantee: start first, end last,
// every iteration before the first block.
func assertStreamShape(t *testing.T, events []core.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventStart, events[0].Type)
	assert.Equal(t, core.EventEnd, events[len(events)-1].Type)

	starts, ends := 0, 0
	firstBlock, lastIteration := -1, -1
	lastIndex := 0
	for i, e := range events {
		switch e.Type {
		case core.EventStart:
			starts++
		case core.EventEnd:
			ends++
		case core.EventBlock:
			if firstBlock == -1 {
				firstBlock = i
			}
		case core.EventIteration:
			lastIteration = i
			it := e.Data.(core.Iteration)
			assert.Equal(t, lastIndex+1, it.Index, "iteration indices increase without gaps")
			lastIndex = it.Index
		}
	}
	assert.Equal(t, 1, starts, "start exactly once")
	assert.Equal(t, 1, ends, "end exactly once")
	if firstBlock != -1 && lastIteration != -1 {
		assert.Less(t, lastIteration, firstBlock, "all iterations precede the first block")
	}
}

func eventsOfType(events []core.Event, kind core.EventType) []core.Event {
	var out []core.Event
	for _, e := range events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestAskAnswersOnFirstIteration(t *testing.T) {
	h := newHarness(t, []string{
		action("no issues to investigate", `answer(md("No issues."))`),
	})
	session := core.NewReviewSession("rev1", testPR(), 3)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{
		Session:  session,
		Question: "Any security concerns?",
	}))

	assertStreamShape(t, events)
	assert.Len(t, eventsOfType(events, core.EventIteration), 1)

	blocks := eventsOfType(events, core.EventBlock)
	require.Len(t, blocks, 1)
	assert.Equal(t, core.AnswerBlock{Type: core.BlockMarkdown, Content: "No issues."}, blocks[0].Data)

	assert.Equal(t, core.StatusAnswered, session.Status)
	assert.Equal(t, 1, h.llm.callCount())
	assert.Positive(t, session.TokensUsed)
}

func TestAskFetchesThenAnswers(t *testing.T) {
	h := newHarness(t, []string{
		action("read the README first", `fmt.Println(fetch_file("README"))`),
		action("now I can answer", `answer(md("The README greets the world."))`),
	})
	session := core.NewReviewSession("rev1", testPR(), 5)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{
		Session:  session,
		Question: "What does the README say?",
	}))

	assertStreamShape(t, events)
	iterations := eventsOfType(events, core.EventIteration)
	require.Len(t, iterations, 2)

	first := iterations[0].Data.(core.Iteration)
	assert.Contains(t, first.Output, "# Hello World")
	assert.Empty(t, first.Error)

	assert.Equal(t, int32(1), h.gateway.fetches.Load(), "one provider GET for the README")
	assert.Equal(t, 1, h.cache.Len(), "exactly one cache entry for (head, README)")
	assert.Equal(t, 2, h.llm.callCount())
}

func TestAskSecondSessionHitsCache(t *testing.T) {
	h := newHarness(t, []string{
		action("read the README", `fmt.Println(fetch_file("README"))`),
		action("answer", `answer(md("done"))`),
		action("read the README again", `fmt.Println(fetch_file("README"))`),
		action("answer", `answer(md("done again"))`),
	})

	for _, id := range []string{"rev1", "rev2"} {
		session := core.NewReviewSession(id, testPR(), 5)
		events := collect(t, h.controller.Ask(context.Background(), AskRequest{Session: session, Question: "q"}))
		assertStreamShape(t, events)
	}

	assert.Equal(t, int32(1), h.gateway.fetches.Load(), "the artifact cache deduplicates across sessions")
}

func TestAskForcesSynthesisAtBudget(t *testing.T) {
	h := newHarness(t, []string{
		action("poking around 1", `fmt.Println("step 1")`),
		action("poking around 2", `fmt.Println("step 2")`),
		action("poking around 3", `fmt.Println("step 3")`),
		"The investigation ran out of budget; based on the transcript the change looks safe.",
	})
	session := core.NewReviewSession("rev1", testPR(), 3)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{
		Session:  session,
		Question: "Is this safe?",
	}))

	assertStreamShape(t, events)
	assert.Len(t, eventsOfType(events, core.EventIteration), 3)

	blocks := eventsOfType(events, core.EventBlock)
	require.NotEmpty(t, blocks, "budget exhaustion still produces an answer")
	assert.Contains(t, blocks[0].Data.(core.AnswerBlock).Content, "ran out of budget")

	assert.Equal(t, core.StatusAnswered, session.Status)
	assert.Equal(t, 4, h.llm.callCount(), "three iterations plus one synthesis call")
	assert.LessOrEqual(t, len(session.Transcript), session.IterationBudget+1)
}

func TestAskRecoversFromSandboxError(t *testing.T) {
	h := newHarness(t, []string{
		action("try a file that may not exist", `fmt.Println(fetch_file("missing.go"))`),
		action("fall back to search", `
hits := search("Hello")
fmt.Println(hits[0].Path)
`),
		action("answer", `answer(md("Found it in README."))`),
	})
	session := core.NewReviewSession("rev1", testPR(), 5)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{Session: session, Question: "q"}))

	assertStreamShape(t, events)
	iterations := eventsOfType(events, core.EventIteration)
	require.Len(t, iterations, 3)

	first := iterations[0].Data.(core.Iteration)
	assert.Contains(t, first.Error, "NotFound", "the guest saw the capability error")
	assert.Equal(t, core.StatusAnswered, session.Status, "capability errors never abort the session")
}

func TestAskParseFailureConsumesIteration(t *testing.T) {
	h := newHarness(t, []string{
		"this is not json",
		"still not json",
		action("recovered", `answer(md("ok"))`),
	})
	session := core.NewReviewSession("rev1", testPR(), 5)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{Session: session, Question: "q"}))

	assertStreamShape(t, events)
	iterations := eventsOfType(events, core.EventIteration)
	require.NotEmpty(t, iterations)
	assert.Equal(t, "parse", iterations[0].Data.(core.Iteration).Error)
	assert.Equal(t, core.StatusAnswered, session.Status)
}

func TestAskTwoParseFailuresInARowFail(t *testing.T) {
	h := newHarness(t, []string{
		"garbage", "garbage", "garbage", "garbage",
	})
	session := core.NewReviewSession("rev1", testPR(), 5)

	events := collect(t, h.controller.Ask(context.Background(), AskRequest{Session: session, Question: "q"}))

	assertStreamShape(t, events)
	errorEvents := eventsOfType(events, core.EventError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, core.ErrParse.Error(), errorEvents[0].Data.(core.ErrorData).Type)
	assert.Equal(t, core.StatusFailed, session.Status)
}

func TestAskCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, []string{action("r", `fmt.Println("x")`)})
	session := core.NewReviewSession("rev1", testPR(), 5)

	events := collect(t, h.controller.Ask(ctx, AskRequest{Session: session, Question: "q"}))

	assertStreamShape(t, events)
	errorEvents := eventsOfType(events, core.EventError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, core.ErrCancelled.Error(), errorEvents[0].Data.(core.ErrorData).Type)
	assert.Equal(t, core.StatusAborted, session.Status)
}
