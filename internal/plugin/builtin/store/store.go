// Package store is the built-in SQLite journal sink: every delivered
// notification is appended to a deliveries table.
//
// Details: {path}. Databases are opened once per path and shared across
// deliveries. SQLite prefers a single writer, so connections are capped at one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	notification_id TEXT NOT NULL,
	environment TEXT NOT NULL,
	events INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_notification ON deliveries(notification_id, at);
`

type details struct {
	Path string `json:"path"`
}

type Sink struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func New() *Sink { return &Sink{dbs: map[string]*sql.DB{}} }

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "store", Version: "0.2.0", Author: "notigate"}
}

func (s *Sink) db(path string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[path] = db
	return db, nil
}

func (s *Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	var d details
	if err := json.Unmarshal(cb.Details, &d); err != nil {
		return err
	}
	if strings.TrimSpace(d.Path) == "" {
		return errors.New("store: details.path is required")
	}

	db, err := s.db(d.Path)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO deliveries(at, notification_id, environment, events, payload) VALUES(?,?,?,?,?)`,
		time.Now().Format(time.RFC3339Nano), data.Config.ID, data.Environment, len(data.Events), string(payload),
	)
	if err != nil {
		return err
	}
	log.Debug("notification journaled", logx.String("path", d.Path), logx.String("notification", data.Config.ID))
	return nil
}

// Close closes all opened databases. Called on shutdown.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, path)
	}
	return first
}
