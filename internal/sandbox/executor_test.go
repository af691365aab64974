package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffpilot/diffpilot/internal/core"
)

// fakeCaps is a scripted interceptor.
type fakeCaps struct {
	files      map[string]string
	llmReplies []string
	fetchCalls int
	llmCalls   int
}

func (f *fakeCaps) FetchFile(path, _ string) (string, error) {
	f.fetchCalls++
	if text, ok := f.files[path]; ok {
		return text, nil
	}
	return "", fmt.Errorf("%w: %s", core.ErrNotFound, path)
}

func (f *fakeCaps) Search(query, _ string) ([]core.SearchHit, error) {
	return []core.SearchHit{{Path: "pkg/config.go", Line: 14, Snippet: "match: " + query}}, nil
}

func (f *fakeCaps) LLMQuery(_, _ string) (string, error) {
	f.llmCalls++
	if f.llmCalls <= len(f.llmReplies) {
		return f.llmReplies[f.llmCalls-1], nil
	}
	return "sub answer", nil
}

func newTestExecutor(timeout time.Duration) *Executor {
	return NewExecutor(timeout, slog.New(slog.DiscardHandler))
}

func TestExecuteCapturesStdout(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `fmt.Println("hello", 1+2)`, &fakeCaps{})

	assert.Empty(t, obs.Error)
	assert.Equal(t, "hello 3\n", obs.Stdout)
	assert.False(t, obs.Answered)
}

func TestExecuteReturnValue(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `return strings.ToUpper("ok")`, &fakeCaps{})

	assert.Empty(t, obs.Error)
	assert.Equal(t, "OK", obs.ReturnValue)
}

func TestExecuteFetchFileCapability(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	caps := &fakeCaps{files: map[string]string{"README": "# Hello\nWorld\n"}}

	obs := e.Execute(context.Background(), `
content := fetch_file("README")
fmt.Println(len(content))
`, caps)

	assert.Empty(t, obs.Error)
	assert.Equal(t, "14\n", obs.Stdout)
	assert.Equal(t, 1, caps.fetchCalls)
}

func TestExecuteSearchCapability(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `
hits := search("timeout")
for _, h := range hits {
	fmt.Println(h.Path, h.Line, h.Snippet)
}
`, &fakeCaps{})

	assert.Empty(t, obs.Error)
	assert.Equal(t, "pkg/config.go 14 match: timeout\n", obs.Stdout)
}

func TestExecuteAnswerTerminates(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `
answer(md("No issues."), codeblock("x := 1", "go"))
fmt.Println("never printed")
`, &fakeCaps{})

	assert.Empty(t, obs.Error)
	assert.True(t, obs.Answered)
	require.Len(t, obs.Blocks, 2)
	assert.Equal(t, core.AnswerBlock{Type: core.BlockMarkdown, Content: "No issues."}, obs.Blocks[0])
	assert.Equal(t, core.AnswerBlock{Type: core.BlockCode, Content: "x := 1", Language: "go"}, obs.Blocks[1])
	assert.NotContains(t, obs.Stdout, "never printed", "nothing after answer executes")
}

// A capability call made after answer (behind a guest recover) is dropped
// silently; a second answer call is an error.
func TestExecutePostAnswerSemantics(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	caps := &fakeCaps{files: map[string]string{"README": "hi"}}

	obs := e.Execute(context.Background(), `
func() {
	defer func() { recover() }()
	answer(md("done"))
}()
content := fetch_file("README")
fmt.Println("got:", content)
answer(md("again"))
`, caps)

	assert.True(t, obs.Answered)
	require.Len(t, obs.Blocks, 1, "only the first answer's blocks are kept")
	assert.Equal(t, "done", obs.Blocks[0].Content)
	assert.Equal(t, 0, caps.fetchCalls, "post-answer capability calls are dropped")
	assert.Equal(t, "got: \n", obs.Stdout)
	assert.Contains(t, obs.Error, "answer called more than once")
}

func TestExecuteCapabilityErrorIsGuestCatchable(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `fetch_file("missing.go")`, &fakeCaps{})

	assert.Contains(t, obs.Error, "NotFound")
	assert.False(t, obs.Answered)
}

func TestExecuteGuestPanicIsCaptured(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `
var xs []int
fmt.Println(xs[3])
`, &fakeCaps{})

	assert.NotEmpty(t, obs.Error)
	assert.False(t, strings.Contains(obs.Error, "\n"), "errors are single-line summaries")
}

func TestExecuteStdoutTruncation(t *testing.T) {
	e := newTestExecutor(30 * time.Second)
	obs := e.Execute(context.Background(), `
line := strings.Repeat("x", 1024)
for i := 0; i < 64; i++ {
	fmt.Println(line)
}
`, &fakeCaps{})

	assert.True(t, obs.Truncated)
	assert.LessOrEqual(t, len(obs.Stdout), StdoutCap+len(TruncationMarker))
	assert.True(t, strings.HasSuffix(obs.Stdout, TruncationMarker))
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(150 * time.Millisecond)
	start := time.Now()
	obs := e.Execute(context.Background(), `
n := 0
for i := 0; i < 2000000000; i++ {
	n += i
}
fmt.Println(n)
`, &fakeCaps{})

	assert.Equal(t, "timeout", obs.Error)
	assert.Less(t, time.Since(start), 5*time.Second, "the host returns promptly, the guest is abandoned")
}

func TestExecuteLLMQueryQuota(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	caps := &fakeCaps{}
	obs := e.Execute(context.Background(), `
for i := 0; i < 10; i++ {
	fmt.Println(llm_query("sub question"))
}
`, caps)

	assert.Contains(t, obs.Error, "CapabilityDenied")
	assert.Equal(t, MaxLLMCallsPerExec, caps.llmCalls)
	assert.Equal(t, MaxLLMCallsPerExec, obs.LLMCalls)
}

func TestExecuteRejectsImports(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `import "os"
fmt.Println(os.Getenv("HOME"))`, &fakeCaps{})

	assert.Contains(t, obs.Error, "import statements are not allowed")
}

func TestExecuteForbiddenPackagesUnavailable(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), `fmt.Println(os.Getenv("HOME"))`, &fakeCaps{})

	assert.NotEmpty(t, obs.Error, "os is not loaded into the interpreter")
}

func TestExecuteEmptyCode(t *testing.T) {
	e := newTestExecutor(10 * time.Second)
	obs := e.Execute(context.Background(), "   \n", &fakeCaps{})
	assert.Equal(t, Observation{}, obs)
}
