// Package engine adapts the external OCR engine: an asynchronous start call
// and a result retrieval call keyed by the engine's own job reference.
package engine

import "context"

// TextUnit is one sequential piece of engine output, typically a page.
type TextUnit struct {
	Index int
	Text  string
}

// Result is the outcome of a finished extraction. When Failed is set the
// engine itself reported the failure and ErrorDetail explains it.
type Result struct {
	Units       []TextUnit
	Failed      bool
	ErrorDetail string
}

// Engine starts extractions and retrieves their results. Start must not wait
// for completion. Fetch returns an error wrapping models.ErrTransientIO when
// the result cannot be retrieved right now, and models.ErrEngineFailure when
// it never will be.
type Engine interface {
	Start(ctx context.Context, sourceRef, jobID string) (externalRef string, err error)
	Fetch(ctx context.Context, externalRef string) (*Result, error)
}
