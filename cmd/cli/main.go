package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/diffpilot/diffpilot/internal/core"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto the documented CLI exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, core.ErrURLInvalid):
		return 2
	case errors.Is(err, core.ErrUnauthorized):
		return 3
	case errors.Is(err, core.ErrRateLimited):
		return 4
	default:
		return 1
	}
}
