package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/diffpilot/diffpilot/internal/wire"
)

func main() {
	urlFlag := flag.String("url", "", "pull/merge request URL to open")
	flag.Parse()

	if *urlFlag == "" {
		fmt.Println("usage: diffpilot-terminal --url https://github.com/owner/repo/pull/123")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	defer app.Dispatcher.Stop()

	p := tea.NewProgram(initialModel(ctx, app, *urlFlag), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
