package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffpilot/diffpilot/internal/core"
)

func TestSessionsPutGet(t *testing.T) {
	s := NewSessions()
	pr := reviewPR()
	cfg := core.DefaultRepoConfig()

	s.Put(pr, cfg)

	gotPR, gotCfg, err := s.Get(pr.ReviewID)
	require.NoError(t, err)
	assert.Same(t, pr, gotPR)
	assert.Same(t, cfg, gotCfg)
}

func TestSessionsUnknownID(t *testing.T) {
	s := NewSessions()
	_, _, err := s.Get("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSessionsExpireAfterTTL(t *testing.T) {
	s := NewSessions()
	now := time.Now()
	s.now = func() time.Time { return now }

	pr := reviewPR()
	s.Put(pr, nil)

	// Just before the TTL the entry survives and its clock refreshes.
	now = now.Add(sessionTTL - time.Minute)
	_, _, err := s.Get(pr.ReviewID)
	require.NoError(t, err)

	// The refreshed entry outlives the original deadline.
	now = now.Add(sessionTTL - time.Minute)
	_, _, err = s.Get(pr.ReviewID)
	require.NoError(t, err)

	// Once idle past the TTL, the entry is gone.
	now = now.Add(sessionTTL + time.Minute)
	_, _, err = s.Get(pr.ReviewID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
