// Package file is the built-in file-append sink: one JSON line per
// notification, parent directories created on demand.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type details struct {
	Path string `json:"path"`
}

type Sink struct{}

func New() *Sink { return &Sink{} }

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "file", Version: "0.2.0", Author: "notigate"}
}

func (*Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	var d details
	if err := json.Unmarshal(cb.Details, &d); err != nil {
		return err
	}
	if strings.TrimSpace(d.Path) == "" {
		return errors.New("file: details.path is required")
	}

	if err := os.MkdirAll(filepath.Dir(d.Path), 0o755); err != nil {
		return err
	}

	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(d.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	log.Debug("notification appended", logx.String("path", d.Path), logx.String("notification", data.Config.ID))
	return nil
}
