package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/diffpilot/diffpilot/internal/config"
	"github.com/diffpilot/diffpilot/internal/core"
)

// Registry is the Gateway implementation that routes every call to the
// provider owning the URL or PRInfo.
type Registry struct {
	parser    *urlParser
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRegistry wires the configured providers. The GitHub provider is always
// present (unauthenticated calls work for public repos); GitLab likewise.
func NewRegistry(ctx context.Context, cfg *config.Config, local LocalSearcher, logger *slog.Logger) (*Registry, error) {
	gh, err := NewGitHubProvider(ctx, GitHubOptions{
		Token:             cfg.GitHubToken,
		APIBase:           cfg.GitHubAPIBase,
		AppID:             cfg.GitHubAppID,
		AppInstallationID: cfg.GitHubAppInstallationID,
		AppPrivateKeyPath: cfg.GitHubPrivateKeyPath,
	}, local, logger)
	if err != nil {
		return nil, fmt.Errorf("github provider: %w", err)
	}
	gl := NewGitLabProvider(cfg.GitLabToken, cfg.GitLabAPIBase, local, logger)

	return &Registry{
		parser: newURLParser(cfg.GitHubAPIBase, cfg.GitLabAPIBase),
		providers: map[string]Provider{
			gh.Name(): gh,
			gl.Name(): gl,
		},
		logger: logger,
	}, nil
}

// newRegistryWithProviders is the test seam.
func newRegistryWithProviders(parser *urlParser, providers map[string]Provider, logger *slog.Logger) *Registry {
	return &Registry{parser: parser, providers: providers, logger: logger}
}

// ParseURL resolves a pull/merge request or issue URL to a provider Ref.
func (r *Registry) ParseURL(rawURL string) (Ref, error) {
	return r.parser.Parse(rawURL)
}

// LoadPR parses the URL, loads the snapshot through the owning provider, and
// stamps a fresh review ID.
func (r *Registry) LoadPR(ctx context.Context, rawURL string) (*core.PRInfo, error) {
	ref, err := r.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if ref.Kind != KindPR {
		return nil, fmt.Errorf("%w: %s is not a pull/merge request", core.ErrURLInvalid, rawURL)
	}

	p := r.providers[ref.Provider]
	info, err := p.LoadPR(ctx, ref)
	if err != nil {
		return nil, err
	}
	info.ReviewID = uuid.NewString()[:8]
	r.logger.Info("loaded pull request",
		"provider", ref.Provider,
		"repo", info.Repo.Owner+"/"+info.Repo.Name,
		"pr", info.Number,
		"review_id", info.ReviewID,
		"files", len(info.Files))
	return info, nil
}

func (r *Registry) providerFor(pr *core.PRInfo) (Provider, error) {
	p, ok := r.providers[pr.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", core.ErrValidation, pr.Provider)
	}
	return p, nil
}

// FetchFile resolves the sandbox-facing sha alias and delegates to the owning
// provider.
func (r *Registry) FetchFile(ctx context.Context, pr *core.PRInfo, path, sha string) (string, error) {
	p, err := r.providerFor(pr)
	if err != nil {
		return "", err
	}
	return p.FetchFile(ctx, pr, path, pr.ResolveSHA(sha))
}

// Search delegates to the owning provider at the resolved commit.
func (r *Registry) Search(ctx context.Context, pr *core.PRInfo, query, sha string) ([]core.SearchHit, error) {
	p, err := r.providerFor(pr)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, pr, query, pr.ResolveSHA(sha))
}
