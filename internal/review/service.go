package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/diffpilot/diffpilot/internal/cache"
	"github.com/diffpilot/diffpilot/internal/config"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/provider"
	"github.com/diffpilot/diffpilot/internal/rlm"
	"github.com/diffpilot/diffpilot/internal/storage"
)

// Service is the application face of the engine: everything the HTTP API and
// the CLI do goes through here.
type Service struct {
	gateway    provider.Gateway
	cache      *cache.Cache
	controller *rlm.Controller
	pipeline   *Pipeline
	sessions   *Sessions
	suggest    *llm.SuggestionGenerator
	dispatcher core.JobDispatcher
	store      storage.Store
	budget     int
	logger     *slog.Logger
}

func NewService(
	gateway provider.Gateway,
	artifacts *cache.Cache,
	controller *rlm.Controller,
	pipeline *Pipeline,
	sessions *Sessions,
	suggest *llm.SuggestionGenerator,
	dispatcher core.JobDispatcher,
	store storage.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		gateway:    gateway,
		cache:      artifacts,
		controller: controller,
		pipeline:   pipeline,
		sessions:   sessions,
		suggest:    suggest,
		dispatcher: dispatcher,
		store:      store,
		budget:     cfg.MaxIterations,
		logger:     logger,
	}
}

// SetDispatcher attaches the background worker pool. The prefetch job fetches
// through the service, so the dispatcher is wired after construction.
func (s *Service) SetDispatcher(d core.JobDispatcher) { s.dispatcher = d }

// LoadPR resolves the URL, snapshots the pull request, registers the review,
// and queues a background prefetch of the changed files. The repo's own
// .diffpilot.yml, when present at head, is loaded alongside.
func (s *Service) LoadPR(ctx context.Context, prURL string) (*core.PRInfo, error) {
	pr, err := s.gateway.LoadPR(ctx, prURL)
	if err != nil {
		return nil, err
	}

	repoCfg := s.loadRepoConfig(ctx, pr)
	s.sessions.Put(pr, repoCfg)

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, &core.PrefetchEvent{ReviewID: pr.ReviewID, PR: pr}); err != nil {
			s.logger.Warn("prefetch not queued", "review_id", pr.ReviewID, "error", err)
		}
	}
	return pr, nil
}

func (s *Service) loadRepoConfig(ctx context.Context, pr *core.PRInfo) *core.RepoConfig {
	text, err := s.fetchCached(ctx, pr, config.RepoConfigFile, pr.HeadSHA)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("failed to fetch repo config", "review_id", pr.ReviewID, "error", err)
		}
		return core.DefaultRepoConfig()
	}
	cfg, err := config.ParseRepoConfig([]byte(text))
	if err != nil {
		s.logger.Warn("ignoring malformed repo config", "review_id", pr.ReviewID, "error", err)
		return core.DefaultRepoConfig()
	}
	s.logger.Info("loaded repo config", "review_id", pr.ReviewID,
		"instructions", len(cfg.CustomInstructions))
	return cfg
}

// Resolve returns the PR snapshot for a review ID.
func (s *Service) Resolve(reviewID string) (*core.PRInfo, error) {
	pr, _, err := s.sessions.Get(reviewID)
	return pr, err
}

// GetFile returns the base and head versions of a file in a review. Either
// side is nil when the file does not exist at that commit (added or removed
// files).
func (s *Service) GetFile(ctx context.Context, reviewID, path string) (oldFile, newFile *core.FileContents, err error) {
	pr, _, err := s.sessions.Get(reviewID)
	if err != nil {
		return nil, nil, err
	}
	oldFile = s.fileAt(ctx, pr, path, pr.BaseSHA)
	newFile = s.fileAt(ctx, pr, path, pr.HeadSHA)
	return oldFile, newFile, nil
}

func (s *Service) fileAt(ctx context.Context, pr *core.PRInfo, path, sha string) *core.FileContents {
	text, err := s.fetchCached(ctx, pr, path, sha)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("file fetch failed", "path", path, "sha", sha, "error", err)
		}
		return nil
	}
	return &core.FileContents{
		Name:     path,
		Contents: text,
		CacheKey: rlm.FileKey(pr, path, sha),
	}
}

// fetchCached pulls a file through the artifact cache, exactly the way the
// sandbox capability path does, so background prefetch, sandbox reads, and
// the HTTP file endpoint all share one entry per (sha, path).
func (s *Service) fetchCached(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error) {
	resolved := pr.ResolveSHA(sha)
	key := cache.Key{
		Provider: pr.Provider,
		Repo:     pr.Repo.Owner + "/" + pr.Repo.Name,
		SHA:      resolved,
		Path:     path,
	}
	data, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		text, err := s.gateway.FetchFile(ctx, pr, path, resolved)
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

// Prefetch warms the cache with one file version; the background prefetch
// job fans out over this.
func (s *Service) Prefetch(ctx context.Context, pr *core.PRInfo, path, sha string) error {
	_, err := s.fetchCached(ctx, pr, path, sha)
	return err
}

// Ask opens a new review session for the question and streams its events.
func (s *Service) Ask(ctx context.Context, reviewID, question string, conversation []llm.Message, selection *core.DiffSelection) (<-chan core.Event, error) {
	pr, repoCfg, err := s.sessions.Get(reviewID)
	if err != nil {
		return nil, err
	}
	session := core.NewReviewSession(reviewID, pr, s.budget)
	return s.controller.Ask(ctx, rlm.AskRequest{
		Session:      session,
		Question:     question,
		Conversation: conversation,
		Selection:    selection,
		RepoConfig:   repoCfg,
	}), nil
}

// Review runs the automated review pipeline for a loaded review and persists
// the report when history is configured.
func (s *Service) Review(ctx context.Context, reviewID string) (*core.ReviewReport, error) {
	pr, repoCfg, err := s.sessions.Get(reviewID)
	if err != nil {
		return nil, err
	}
	session := core.NewReviewSession(reviewID, pr, s.budget)
	report, err := s.pipeline.Run(ctx, session, repoCfg)
	if err != nil {
		return nil, err
	}
	s.persistReport(ctx, pr, report)
	return report, nil
}

// ReviewURL is the CLI one-shot: load, review, return both.
func (s *Service) ReviewURL(ctx context.Context, prURL string) (*core.PRInfo, *core.ReviewReport, error) {
	pr, err := s.LoadPR(ctx, prURL)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.Review(ctx, pr.ReviewID)
	if err != nil {
		return pr, nil, err
	}
	return pr, report, nil
}

func (s *Service) persistReport(ctx context.Context, pr *core.PRInfo, report *core.ReviewReport) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("failed to serialize report", "review_id", pr.ReviewID, "error", err)
		return
	}
	record := &storage.ReportRecord{
		Provider:     pr.Provider,
		RepoFullName: fmt.Sprintf("%s/%s", pr.Repo.Owner, pr.Repo.Name),
		PRNumber:     pr.Number,
		HeadSHA:      pr.HeadSHA,
		ReportJSON:   string(payload),
	}
	if err := s.store.SaveReport(ctx, record); err != nil {
		s.logger.Error("failed to persist report", "review_id", pr.ReviewID, "error", err)
	}
}

// Suggestions produces follow-up prompts for the conversation state.
func (s *Service) Suggestions(ctx context.Context, reviewID string, conversation []llm.Message, lastAnswer string) ([]string, error) {
	pr, _, err := s.sessions.Get(reviewID)
	if err != nil {
		return nil, err
	}
	return s.suggest.Generate(ctx, pr, conversation, lastAnswer), nil
}
