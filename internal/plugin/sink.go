// Package plugin defines the delivery-sink contract and the registry that
// resolves callback types to implementations.
//
// A sink is a named unit with required, globally unique metadata. Sinks must
// tolerate concurrent invocation and report failures as returned errors; the
// relay dispatcher isolates and logs them.
package plugin

import (
	"context"
	"encoding/json"

	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/pkg/logx"
)

// Meta identifies a plugin. Name is the identity key referenced by callback
// `type` fields and must be unique across built-ins and externals.
type Meta struct {
	Name    string
	Version string
	Author  string
}

// NotificationData is the evaluation result handed to a sink.
//
// Config never carries callback definitions: the dispatcher scrubs them
// before any sink call so per-callback secrets (URLs, tokens, paths) cannot
// leak through another callback's delivery.
type NotificationData struct {
	Config      config.Notification `json:"config"`
	Environment string              `json:"environment"`
	Events      []backend.Event     `json:"data"`
	Entities    []json.RawMessage   `json:"entities"`
}

// Sink is one delivery implementation.
//
// Deliver receives the callback whose Details blob the sink owns, the
// notification data, and the sink's dedicated logger.
type Sink interface {
	Meta() Meta
	Deliver(ctx context.Context, cb config.Callback, data NotificationData, log logx.Logger) error
}
