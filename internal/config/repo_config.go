package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/diffpilot/diffpilot/internal/core"
)

// RepoConfigFile is the well-known path of the per-repo review configuration.
const RepoConfigFile = ".diffpilot.yml"

var (
	ErrRepoConfigNotFound = errors.New("repo config file not found")
	ErrRepoConfigParsing  = errors.New("repo config parsing failed")
)

// ParseRepoConfig parses the contents of a .diffpilot.yml fetched from the
// repository head. The file is optional; callers treat ErrRepoConfigNotFound
// as "use defaults".
func ParseRepoConfig(data []byte) (*core.RepoConfig, error) {
	cfg := core.DefaultRepoConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepoConfigParsing, err)
	}
	return cfg, nil
}
