package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/diffpilot/diffpilot/internal/core"
)

// Observation is everything one execution produced.
type Observation struct {
	Stdout      string
	ReturnValue string
	Error       string
	Truncated   bool
	Answered    bool
	Blocks      []core.AnswerBlock
	LLMCalls    int
}

const (
	// StdoutCap bounds captured stdout per execution.
	StdoutCap = 32 << 10
	// TruncationMarker is appended once when StdoutCap is reached.
	TruncationMarker = "…[truncated]"
	// MaxLLMCallsPerExec bounds nested llm_query calls per iteration.
	MaxLLMCallsPerExec = 4

	returnValueCap = 4 << 10
)

// Packages loaded into the interpreter. Guest code cannot import; it reaches
// only the eight the guest program pre-imports (fmt, strings, strconv, regexp,
// sort, bytes, math, encoding/json). Everything else in the standard library,
// notably os, net, os/exec, syscall and unsafe, is never loaded into the
// interpreter.
var allowedPackages = []string{
	"fmt/fmt",
	"strings/strings",
	"strconv/strconv",
	"regexp/regexp",
	"sort/sort",
	"bytes/bytes",
	"math/math",
	"encoding/json/json",
	"encoding/base64/base64",
	"encoding/csv/csv",
	"unicode/unicode",
	"unicode/utf8/utf8",
	"errors/errors",
	"container/list/list",
	"container/heap/heap",
	"path/path",
}

// Executor runs guest snippets. It is stateless across executions: every run
// gets a fresh interpreter, so no state leaks between iterations or sessions.
type Executor struct {
	timeout time.Duration
	symbols interp.Exports
	logger  *slog.Logger
}

// NewExecutor builds an executor with the given per-execution wall clock.
func NewExecutor(timeout time.Duration, logger *slog.Logger) *Executor {
	restricted := make(interp.Exports, len(allowedPackages))
	for _, key := range allowedPackages {
		if symbols, ok := stdlib.Symbols[key]; ok {
			restricted[key] = symbols
		}
	}
	return &Executor{timeout: timeout, symbols: restricted, logger: logger}
}

// runState tracks one execution's interceptor bookkeeping.
type runState struct {
	caps     Capabilities
	ctx      context.Context
	answered atomic.Bool
	blocks   []core.AnswerBlock
	llmCalls int
}

// Execute runs code under the interceptor and returns the observation.
// Guest failures are captured, never returned as Go errors; the only error
// conditions are host-side (programming) mistakes.
func (e *Executor) Execute(ctx context.Context, code string, caps Capabilities) Observation {
	var obs Observation

	code = strings.TrimSpace(code)
	if code == "" {
		return obs
	}
	if err := rejectImports(code); err != nil {
		obs.Error = err.Error()
		return obs
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	state := &runState{caps: caps, ctx: runCtx}
	stdout := newLimitWriter(StdoutCap)

	i := interp.New(interp.Options{Stdout: stdout, Stderr: io.Discard})
	if err := i.Use(e.symbols); err != nil {
		obs.Error = fmt.Sprintf("%s: load stdlib: %v", core.ErrSandboxExec, err)
		return obs
	}
	if err := i.Use(e.capabilityExports(state)); err != nil {
		obs.Error = fmt.Sprintf("%s: load capabilities: %v", core.ErrSandboxExec, err)
		return obs
	}

	program := buildProgram(code)

	type evalResult struct {
		value reflect.Value
		err   error
	}
	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("%v", r)}
			}
		}()
		if _, err := i.Eval(program); err != nil {
			done <- evalResult{err: err}
			return
		}
		v, err := i.Eval("main.run()")
		done <- evalResult{value: v, err: err}
	}()

	select {
	case <-runCtx.Done():
		// The guest goroutine cannot be preempted mid-loop; it is abandoned
		// and unblocks on its next capability call, which sees the dead
		// context. The iteration is forfeited either way.
		obs.Error = "timeout"
		obs.Stdout, obs.Truncated = stdout.contents()
		return obs
	case res := <-done:
		obs.Stdout, obs.Truncated = stdout.contents()
		obs.Answered = state.answered.Load()
		obs.Blocks = state.blocks
		obs.LLMCalls = state.llmCalls

		if res.err != nil {
			obs.Error = e.classifyError(res.err, state)
		} else if res.value.IsValid() && res.value.CanInterface() {
			if v := res.value.Interface(); v != nil {
				obs.ReturnValue = renderReturn(v)
			}
		}
		return obs
	}
}

// classifyError lowers an Eval error to the short observation string. The
// answer sentinel is not an error at all.
func (e *Executor) classifyError(err error, state *runState) string {
	var p interp.Panic
	if errors.As(err, &p) {
		switch v := p.Value.(type) {
		case answerDone:
			return ""
		case guestError:
			return v.Error()
		default:
			return shorten(fmt.Sprintf("panic: %v", v))
		}
	}
	if state.answered.Load() && strings.Contains(err.Error(), "answerDone") {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return shorten(err.Error())
}

// capabilityExports binds the interceptor into the guest under the virtual
// package diffpilot/caps. All bookkeeping (answer flag, llm quota) lives in
// the per-execution state, so sessions cannot observe each other.
func (e *Executor) capabilityExports(state *runState) interp.Exports {
	fetchFile := func(path string, sha ...string) string {
		if state.dropAfterAnswer() {
			return ""
		}
		state.checkContext()
		text, err := state.caps.FetchFile(path, firstOr(sha, ""))
		if err != nil {
			panic(guestError{code: core.ErrorCode(err), msg: shorten(err.Error())})
		}
		return text
	}

	search := func(query string, sha ...string) []Hit {
		if state.dropAfterAnswer() {
			return nil
		}
		state.checkContext()
		results, err := state.caps.Search(query, firstOr(sha, ""))
		if err != nil {
			panic(guestError{code: core.ErrorCode(err), msg: shorten(err.Error())})
		}
		hits := make([]Hit, len(results))
		for i, r := range results {
			hits[i] = Hit{Path: r.Path, Line: r.Line, Snippet: r.Snippet}
		}
		return hits
	}

	llmQuery := func(prompt string, system ...string) string {
		if state.dropAfterAnswer() {
			return ""
		}
		state.checkContext()
		if state.llmCalls >= MaxLLMCallsPerExec {
			panic(guestError{
				code: core.ErrCapabilityDenied.Error(),
				msg:  fmt.Sprintf("llm_query limit of %d per iteration reached", MaxLLMCallsPerExec),
			})
		}
		state.llmCalls++
		text, err := state.caps.LLMQuery(prompt, firstOr(system, ""))
		if err != nil {
			panic(guestError{code: core.ErrorCode(err), msg: shorten(err.Error())})
		}
		return text
	}

	answer := func(blocks ...Block) {
		if !state.answered.CompareAndSwap(false, true) {
			panic(guestError{code: core.ErrSandboxExec.Error(), msg: "answer called more than once"})
		}
		for _, b := range blocks {
			blockType := core.BlockMarkdown
			if b.Type == string(core.BlockCode) {
				blockType = core.BlockCode
			}
			state.blocks = append(state.blocks, core.AnswerBlock{
				Type:     blockType,
				Content:  b.Content,
				Language: b.Language,
			})
		}
		panic(answerDone{})
	}

	return interp.Exports{
		"diffpilot/caps/caps": {
			"FetchFile": reflect.ValueOf(fetchFile),
			"Search":    reflect.ValueOf(search),
			"LLMQuery":  reflect.ValueOf(llmQuery),
			"Answer":    reflect.ValueOf(answer),
			"Block":     reflect.ValueOf((*Block)(nil)),
			"Hit":       reflect.ValueOf((*Hit)(nil)),
		},
	}
}

// dropAfterAnswer implements the post-answer semantics: once the terminal
// primitive ran, further capability calls in the same iteration are dropped
// silently.
func (s *runState) dropAfterAnswer() bool {
	return s.answered.Load()
}

func (s *runState) checkContext() {
	if s.ctx.Err() != nil {
		panic(guestError{code: core.ErrSandboxTimeout.Error(), msg: "execution deadline exceeded"})
	}
}

// guestPrelude wires the exact capability names of the sandbox ABI to the
// injected package. It is prepended to every guest program.
const guestPrelude = `package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"diffpilot/caps"
)

var (
	_ = bytes.Contains
	_ = json.Marshal
	_ = fmt.Sprintf
	_ = math.Abs
	_ = regexp.MustCompile
	_ = sort.Strings
	_ = strconv.Itoa
	_ = strings.Contains
)

func fetch_file(path string, sha ...string) string { return caps.FetchFile(path, sha...) }

func search(query string, sha ...string) []caps.Hit { return caps.Search(query, sha...) }

func llm_query(prompt string, system ...string) string { return caps.LLMQuery(prompt, system...) }

func answer(blocks ...caps.Block) { caps.Answer(blocks...) }

func md(content string) caps.Block { return caps.Block{Type: "markdown", Content: content} }

func codeblock(content, language string) caps.Block {
	return caps.Block{Type: "code", Content: content, Language: language}
}
`

func buildProgram(code string) string {
	var b strings.Builder
	b.WriteString(guestPrelude)
	b.WriteString("\nfunc run() any {\n")
	b.WriteString(code)
	b.WriteString("\n\treturn nil\n}\n")
	return b.String()
}

// rejectImports refuses snippets that try to pull in their own packages; the
// preloaded set is the whole surface.
func rejectImports(code string) error {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || trimmed == "import (" {
			return fmt.Errorf("%s: import statements are not allowed; fmt, strings, strconv, regexp, sort, bytes, math and encoding/json are pre-imported", core.ErrSandboxExec)
		}
	}
	return nil
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}

func renderReturn(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > returnValueCap {
		s = s[:returnValueCap] + TruncationMarker
	}
	return s
}

func shorten(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		s = s[:idx]
	}
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// limitWriter caps captured output at n bytes, stamping the truncation
// marker exactly once. The mutex covers the timeout path, where the host
// reads while an abandoned guest goroutine may still be writing.
type limitWriter struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func newLimitWriter(limit int) *limitWriter {
	return &limitWriter{limit: limit}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.truncated {
		return len(p), nil
	}
	remaining := w.limit - w.buf.Len()
	if len(p) <= remaining {
		w.buf.Write(p)
		return len(p), nil
	}
	w.buf.Write(p[:remaining])
	w.buf.WriteString(TruncationMarker)
	w.truncated = true
	return len(p), nil
}

func (w *limitWriter) contents() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String(), w.truncated
}
