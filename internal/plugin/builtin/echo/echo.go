// Package echo is the minimal built-in sink: it logs the notification data
// and does nothing else. Useful for wiring checks and as a plugin template.
package echo

import (
	"context"
	"encoding/json"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type Sink struct{}

func New() *Sink { return &Sink{} }

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "echo", Version: "0.2.0", Author: "notigate"}
}

func (*Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	log.Info("notification received",
		logx.String("notification", data.Config.ID),
		logx.String("environment", data.Environment),
		logx.Int("events", len(data.Events)),
		logx.String("payload", string(b)),
	)
	return nil
}
