// Package rlm implements the recursive language model controller: the
// bounded loop that alternates LLM reasoning, sandboxed code execution, and
// observation feedback until the model delivers a terminal answer.
package rlm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/diffpilot/diffpilot/internal/cache"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/provider"
)

// meter aggregates a session's LLM usage across the main loop and nested
// sub-queries. The mutex covers abandoned sandbox goroutines that may still
// issue a capability call after a timeout.
type meter struct {
	mu       sync.Mutex
	llmCalls int
	tokens   int64
}

func (m *meter) add(usage llm.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls++
	m.tokens += usage.TotalTokens
}

func (m *meter) snapshot() (int, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.llmCalls, m.tokens
}

// sessionTools is the capability interceptor bound to one session. It is the
// only path from guest code to the outside world: files and search go
// through the artifact cache to the provider gateway, and nested LLM queries
// go to the sub-model as single-shot calls with no tool access, so the
// controller depth stays statically one.
type sessionTools struct {
	ctx      context.Context
	pr       *core.PRInfo
	gateway  provider.Gateway
	cache    *cache.Cache
	client   llm.Client
	subModel string
	meter    *meter
	maxCalls int
}

// subQueryOutputTokens bounds a nested llm_query response.
const subQueryOutputTokens = 2048

func (t *sessionTools) FetchFile(path, sha string) (string, error) {
	resolved := t.pr.ResolveSHA(sha)
	key := cache.Key{
		Provider: t.pr.Provider,
		Repo:     t.pr.Repo.Owner + "/" + t.pr.Repo.Name,
		SHA:      resolved,
		Path:     path,
	}
	data, err := t.cache.GetOrLoad(t.ctx, key, func(ctx context.Context) ([]byte, error) {
		text, err := t.gateway.FetchFile(ctx, t.pr, path, resolved)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *sessionTools) Search(query, sha string) ([]core.SearchHit, error) {
	resolved := t.pr.ResolveSHA(sha)
	key := cache.Key{
		Provider: t.pr.Provider,
		Repo:     t.pr.Repo.Owner + "/" + t.pr.Repo.Name,
		SHA:      resolved,
		Path:     "\x00search\x00" + query,
	}
	data, err := t.cache.GetOrLoad(t.ctx, key, func(ctx context.Context) ([]byte, error) {
		hits, err := t.gateway.Search(ctx, t.pr, query, resolved)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hits)
	})
	if err != nil {
		return nil, err
	}
	var hits []core.SearchHit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, fmt.Errorf("%w: corrupt cached search result: %v", core.ErrTransport, err)
	}
	return hits, nil
}

func (t *sessionTools) LLMQuery(prompt, system string) (string, error) {
	calls, _ := t.meter.snapshot()
	if calls >= t.maxCalls {
		return "", fmt.Errorf("%w: session quota of %d LLM calls reached", core.ErrBudgetExceeded, t.maxCalls)
	}
	text, usage, err := t.client.Generate(t.ctx, llm.Request{
		Model:           t.subModel,
		System:          system,
		Prompt:          prompt,
		MaxOutputTokens: subQueryOutputTokens,
	})
	if err != nil {
		return "", err
	}
	t.meter.add(usage)
	return text, nil
}

// FileKey returns the cache key token for a file artifact; it is what the
// HTTP layer surfaces as cacheKey.
func FileKey(pr *core.PRInfo, path, sha string) string {
	return cache.Key{
		Provider: pr.Provider,
		Repo:     pr.Repo.Owner + "/" + pr.Repo.Name,
		SHA:      pr.ResolveSHA(sha),
		Path:     path,
	}.Token()
}
