package wire

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/wire"

	"github.com/diffpilot/diffpilot/internal/app"
	"github.com/diffpilot/diffpilot/internal/cache"
	"github.com/diffpilot/diffpilot/internal/config"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/db"
	"github.com/diffpilot/diffpilot/internal/gitutil"
	"github.com/diffpilot/diffpilot/internal/jobs"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/logger"
	"github.com/diffpilot/diffpilot/internal/provider"
	"github.com/diffpilot/diffpilot/internal/review"
	"github.com/diffpilot/diffpilot/internal/rlm"
	"github.com/diffpilot/diffpilot/internal/sandbox"
	"github.com/diffpilot/diffpilot/internal/server"
	"github.com/diffpilot/diffpilot/internal/storage"
)

// AppSet is the provider set building the whole application.
var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	config.LoadConfig,
	llm.NewPromptManager,
	review.NewPipeline,
	review.NewSessions,
	provideLogger,
	provideSearcher,
	provideGateway,
	provideCache,
	provideLLMClient,
	provideExecutor,
	provideController,
	provideSuggestions,
	provideStore,
	provideService,
	provideDispatcher,
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(logger.Config{
		Level:  cfg.LogLevel.String(),
		Format: "text",
		Output: "stderr",
	}, os.Stderr)
}

func provideSearcher(cfg *config.Config, log *slog.Logger) (*gitutil.TreeSearcher, func(), error) {
	searcher, err := gitutil.NewTreeSearcher(cfg.GitHubToken, log)
	if err != nil {
		return nil, func() {}, err
	}
	return searcher, func() {
		if err := searcher.Close(); err != nil {
			log.Warn("failed to remove materialized trees", "error", err)
		}
	}, nil
}

func provideGateway(ctx context.Context, cfg *config.Config, searcher *gitutil.TreeSearcher, log *slog.Logger) (provider.Gateway, error) {
	return provider.NewRegistry(ctx, cfg, searcher, log)
}

func provideCache(cfg *config.Config) *cache.Cache {
	return cache.New(cfg.CacheBytes)
}

func provideLLMClient(ctx context.Context, cfg *config.Config, log *slog.Logger) (llm.Client, error) {
	return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.MainModel, log)
}

func provideExecutor(cfg *config.Config, log *slog.Logger) *sandbox.Executor {
	return sandbox.NewExecutor(cfg.SandboxTimeout, log)
}

func provideController(client llm.Client, exec *sandbox.Executor, gateway provider.Gateway, artifacts *cache.Cache, prompts *llm.PromptManager, cfg *config.Config, log *slog.Logger) *rlm.Controller {
	return rlm.NewController(client, exec, gateway, artifacts, prompts, rlm.Options{
		MainModel:   cfg.MainModel,
		SubModel:    cfg.SubModel,
		MaxLLMCalls: cfg.MaxLLMCalls,
		Deadline:    cfg.Deadline,
		TokenLimit:  cfg.SessionTokenLimit,
	}, log)
}

func provideSuggestions(client llm.Client, cfg *config.Config, prompts *llm.PromptManager) *llm.SuggestionGenerator {
	return llm.NewSuggestionGenerator(client, cfg.SubModel, prompts)
}

// provideStore opens the optional report history. Without DATABASE_URL the
// store is nil and persistence is simply skipped.
func provideStore(cfg *config.Config, log *slog.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("report history disabled; DATABASE_URL is not set")
		return nil, func() {}, nil
	}
	database, cleanup, err := db.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, func() {}, err
	}
	return storage.NewStore(database.DB), cleanup, nil
}

func provideService(
	gateway provider.Gateway,
	artifacts *cache.Cache,
	controller *rlm.Controller,
	pipeline *review.Pipeline,
	sessions *review.Sessions,
	suggest *llm.SuggestionGenerator,
	store storage.Store,
	cfg *config.Config,
	log *slog.Logger,
) *review.Service {
	return review.NewService(gateway, artifacts, controller, pipeline, sessions, suggest, nil, store, cfg, log)
}

// provideDispatcher builds the background worker pool and attaches it to the
// service; the prefetch job fetches through the service, which is why the
// dispatcher is wired after it.
func provideDispatcher(svc *review.Service, cfg *config.Config, log *slog.Logger) core.JobDispatcher {
	job := jobs.NewPrefetchJob(svc.Prefetch, log)
	dispatcher := jobs.NewDispatcher(job, cfg.MaxWorkers, log)
	svc.SetDispatcher(dispatcher)
	return dispatcher
}
