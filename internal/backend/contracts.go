// Package backend declares the contracts of the two injected collaborators:
// the repository client (entity state, subscription management, filters) and
// the analytics engine client (per-user evaluation sessions).
//
// The core never speaks either wire protocol itself; it only drives these
// interfaces. Timeouts are the client's responsibility — the core propagates
// failures as processing/evaluation aborts.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by entity lookups for ids the backend no longer knows.
	ErrNotFound = errors.New("backend: not found")
)

// RepoClient is the per-environment repository client.
type RepoClient interface {
	// CreateNotification registers a change subscription and returns nil when
	// the backend accepted it.
	CreateNotification(ctx context.Context, def NotificationDef) error

	// RemoveNotification de-registers a subscription by its handle.
	RemoveNotification(ctx context.Context, handle string) error

	// GetEntity fetches one entity by plural object-type name and id
	// (e.g. "apps", "streams", "executionResults").
	GetEntity(ctx context.Context, objectType, id string) (Entity, error)

	// GetTask fetches one task entity by id. Used to resolve execution
	// results through their owning task.
	GetTask(ctx context.Context, id string) (Entity, error)

	// FilterApps evaluates a repository filter over apps and returns the matches.
	FilterApps(ctx context.Context, filter string) ([]Entity, error)
}

// EngineClient opens analytic sessions. One session serves exactly one
// (user, evaluation run) pair and is always closed before the run returns.
type EngineClient interface {
	OpenSession(ctx context.Context, user Identity) (Session, error)
}

// Session is a live analytics-engine session.
type Session interface {
	OpenDoc(ctx context.Context, docID string) (Doc, error)
	Close(ctx context.Context) error
}

// Doc is an open document inside a session.
type Doc interface {
	// ClearAll removes all selections.
	ClearAll(ctx context.Context) error

	// ApplyBookmark applies a stored bookmark; ok is the engine's result flag.
	ApplyBookmark(ctx context.Context, bookmarkID string) (ok bool, err error)

	// SelectInField selects the given values in a field.
	SelectInField(ctx context.Context, field string, values []string) error

	// Evaluate evaluates an expression and returns its dual result.
	Evaluate(ctx context.Context, expr string) (EvalResult, error)

	// SearchField searches a session list object on the field for the value
	// and returns the number of matches.
	SearchField(ctx context.Context, field, value string) (matches int, err error)
}

// EvalResult is the engine's dual evaluation outcome: a text rendering plus,
// when the expression is numeric, its numeric value.
type EvalResult struct {
	Text      string
	Number    float64
	IsNumeric bool
}
