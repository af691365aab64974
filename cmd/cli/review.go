package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diffpilot/diffpilot/internal/app"
	"github.com/diffpilot/diffpilot/internal/wire"
)

var reviewQuestion string

var reviewCmd = &cobra.Command{
	Use:   "review --url URL [--question Q]",
	Short: "Run an automated review of a pull request",
	Long: `Run an automated review of a pull or merge request.

Without --question, the canonical review pipeline produces a structured list
of issues with diff citations. With --question, the engine investigates that
question instead and prints the answer.

Examples:
  diffpilot review --url https://github.com/owner/repo/pull/123
  diffpilot review --url https://gitlab.com/group/project/-/merge_requests/7 \
      --question "Any security concerns?" --output markdown`,
	RunE: runReview,
}

var reviewURL string

func init() { //nolint:gochecknoinits // Cobra command registration
	reviewCmd.Flags().StringVar(&reviewURL, "url", "", "pull/merge request URL (required)")
	reviewCmd.Flags().StringVar(&reviewQuestion, "question", "", "question to investigate instead of the full review")
	_ = reviewCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appInstance, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer cleanup()
	defer appInstance.Dispatcher.Stop()

	out := newRenderer(os.Stdout, quiet)
	started := time.Now()

	if reviewQuestion != "" {
		return runQuestion(ctx, appInstance, out, reviewURL, reviewQuestion)
	}

	out.progress("Loading %s", reviewURL)
	pr, report, err := appInstance.Service.ReviewURL(ctx, reviewURL)
	if err != nil {
		return err
	}
	out.progress("Reviewed %s/%s#%d in %s", pr.Repo.Owner, pr.Repo.Name, pr.Number,
		time.Since(started).Round(time.Second))

	switch outputMode {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(report)
	case "markdown":
		fmt.Println(reportMarkdown(pr, report))
		return nil
	default:
		return out.renderReport(pr, report)
	}
}

func runQuestion(ctx context.Context, appInstance *app.App, out *renderer, url, question string) error {
	pr, err := appInstance.Service.LoadPR(ctx, url)
	if err != nil {
		return err
	}
	out.progress("Loaded %s/%s#%d (%d files)", pr.Repo.Owner, pr.Repo.Name, pr.Number, len(pr.Files))

	events, err := appInstance.Service.Ask(ctx, pr.ReviewID, question, nil, nil)
	if err != nil {
		return err
	}
	return out.renderStream(events, outputMode)
}
