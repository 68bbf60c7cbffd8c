package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

func TestDeliverAppendsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	cb := config.Callback{Type: "file", Details: json.RawMessage(`{"path":` + quote(path) + `}`)}
	data := plugin.NotificationData{
		Config:      config.Notification{ID: "n-1"},
		Environment: "prod",
		Events:      []backend.Event{{ID: "e1", ObjectID: "a"}},
	}

	s := New()
	if err := s.Deliver(context.Background(), cb, data, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), cb, data, logx.Nop()); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var got plugin.NotificationData
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %d: %v", lines+1, err)
		}
		if got.Config.ID != "n-1" {
			t.Errorf("line %d: notification = %q", lines+1, got.Config.ID)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2 (append, not truncate)", lines)
	}
}

func TestDeliverRequiresPath(t *testing.T) {
	t.Parallel()

	cb := config.Callback{Type: "file", Details: json.RawMessage(`{}`)}
	if err := New().Deliver(context.Background(), cb, plugin.NotificationData{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
