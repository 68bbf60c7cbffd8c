package qrsrest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"notigate/internal/backend"
)

func TestCreateAndRemoveNotification(t *testing.T) {
	t.Parallel()

	var created backend.NotificationDef
	var removed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/notifications":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && r.URL.Path == "/notifications/n-1":
			removed = "n-1"
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	def := backend.NotificationDef{Handle: "n-1", ObjectType: "App", ChangeType: 2, CallbackURI: "https://gw:4242/notifications/callback/n-1"}
	if err := c.CreateNotification(context.Background(), def); err != nil {
		t.Fatal(err)
	}
	if created.Handle != "n-1" || created.ObjectType != "App" {
		t.Errorf("created = %+v", created)
	}

	if err := c.RemoveNotification(context.Background(), "n-1"); err != nil {
		t.Fatal(err)
	}
	if removed != "n-1" {
		t.Error("remove never reached the backend")
	}
}

func TestGetEntity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apps/a-1":
			_, _ = w.Write([]byte(`{"id":"a-1","name":"Sales"}`))
		case "/executionResults/x-1":
			_, _ = w.Write([]byte(`{"id":"x-1","task":{"id":"t-9"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)

	e, err := c.GetEntity(context.Background(), "apps", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "a-1" || len(e.Details) == 0 {
		t.Errorf("entity = %+v", e)
	}

	e, err = c.GetEntity(context.Background(), "executionResults", "x-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.TaskID != "t-9" {
		t.Errorf("taskID = %q, want t-9 (lifted from nested task)", e.TaskID)
	}

	if _, err := c.GetEntity(context.Background(), "apps", "ghost"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("missing entity: err = %v, want ErrNotFound", err)
	}
}

func TestFilterApps(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("filter"); got != "name eq 'Sales'" {
			t.Errorf("filter = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"a-1"},{"id":"a-2"}]`))
	}))
	defer srv.Close()

	matches, err := New(srv.URL).FilterApps(context.Background(), "name eq 'Sales'")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].ID != "a-1" || matches[1].ID != "a-2" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).FilterApps(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
}
