package core

import "context"

// PrefetchEvent asks the background workers to warm the artifact cache with
// the contents of a pull request's changed files.
type PrefetchEvent struct {
	ReviewID string
	PR       *PRInfo
}

// JobDispatcher accepts background work for asynchronous processing. It
// decouples the request path from the worker pool; Dispatch returns an error
// when the queue is full, which callers treat as backpressure, never as a
// request failure.
type JobDispatcher interface {
	Dispatch(ctx context.Context, event *PrefetchEvent) error
	Stop()
}

// Job is a single executable unit of background work.
type Job interface {
	Run(ctx context.Context, event *PrefetchEvent) error
}
