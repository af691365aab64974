// Package sandbox executes model-generated Go snippets in an isolated yaegi
// interpreter. The guest has no ambient network or filesystem access; the
// only outward channel is the capability set injected per execution.
package sandbox

import "github.com/diffpilot/diffpilot/internal/core"

// Block is the guest-visible answer block. It mirrors core.AnswerBlock but
// stays a plain struct so guest code never touches host types.
type Block struct {
	Type     string
	Content  string
	Language string
}

// Hit is the guest-visible search result.
type Hit struct {
	Path    string
	Line    int
	Snippet string
}

// Capabilities is the interceptor contract between the sandbox and the
// controller. Every call a guest makes travels through exactly one of these
// methods; errors returned here surface as guest panics carrying the stable
// error code.
type Capabilities interface {
	FetchFile(path, sha string) (string, error)
	Search(query, sha string) ([]core.SearchHit, error)
	LLMQuery(prompt, system string) (string, error)
}

// guestError is the panic value raised into guest code when a capability
// fails. Guests may recover() it; unrecovered it becomes the iteration error.
type guestError struct {
	code string
	msg  string
}

func (e guestError) Error() string { return e.code + ": " + e.msg }

// answerDone is the sentinel panic that implements the NoReturn semantics of
// the answer primitive.
type answerDone struct{}
