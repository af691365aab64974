package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	githubToken string
	modelName   string
	outputMode  string
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:           "diffpilot",
	Short:         "diffpilot answers questions about pull requests by reading the repository, not just the diff.",
	Long:          `diffpilot is an agentic code-review engine. It loads a pull or merge request, lets a language model investigate the repository through a sandboxed interpreter, and reports structured, citation-backed findings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&githubToken, "github-token", "t", "", "GitHub token (defaults to GITHUB_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "override the main model")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "text", "output format: text, markdown, or json")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	if err := viper.BindPFlag("GITHUB_TOKEN", rootCmd.PersistentFlags().Lookup("github-token")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in ENV variables if set. A --model override outranks both
// environment and defaults.
func initConfig() {
	viper.AutomaticEnv()
	if modelName != "" {
		viper.Set("MAIN_MODEL", modelName)
	}
}
