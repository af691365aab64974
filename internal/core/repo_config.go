package core

// RepoConfig represents the structure of the .diffpilot.yml file committed to
// a repository under review.
type RepoConfig struct {
	// Custom instructions appended to the review prompt.
	CustomInstructions []string `yaml:"custom_instructions"`

	// Exclusion of entire directories by name, e.g. ["dist", "vendor"].
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// Exclusion of files by extension. The leading dot is optional.
	ExcludeExts []string `yaml:"exclude_exts"`
}

// DefaultRepoConfig returns a config with default values.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		CustomInstructions: []string{},
		ExcludeDirs:        []string{},
		ExcludeExts:        []string{},
	}
}
