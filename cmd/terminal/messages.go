package main

import "github.com/diffpilot/diffpilot/internal/core"

// Indicates that the pull request snapshot finished loading.
type prLoadedMsg struct {
	pr  *core.PRInfo
	err error
}

// One frame of the answer stream.
type streamEventMsg struct {
	event core.Event
	ok    bool
}

// A generic error message for reporting failures from commands.
type errorMsg struct{ err error }

func (e errorMsg) Error() string {
	return e.err.Error()
}
