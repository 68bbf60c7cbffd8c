package alert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/internal/registry"
	"notigate/pkg/logx"
)

// fakeRepo serves a fixed filter result.
type fakeRepo struct {
	matches []backend.Entity
	err     error
}

func (f *fakeRepo) CreateNotification(context.Context, backend.NotificationDef) error { return nil }
func (f *fakeRepo) RemoveNotification(context.Context, string) error                  { return nil }
func (f *fakeRepo) GetEntity(context.Context, string, string) (backend.Entity, error) {
	return backend.Entity{}, backend.ErrNotFound
}
func (f *fakeRepo) GetTask(context.Context, string) (backend.Entity, error) {
	return backend.Entity{}, backend.ErrNotFound
}
func (f *fakeRepo) FilterApps(_ context.Context, _ string) ([]backend.Entity, error) {
	return f.matches, f.err
}

// fakeEngine records opened sessions and serves canned evaluation results.
type fakeEngine struct {
	mu       sync.Mutex
	opened   []backend.Identity
	closed   int
	openErr  error
	doc      *fakeDoc
	closeErr error
}

func (f *fakeEngine) OpenSession(_ context.Context, user backend.Identity) (backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, user)
	return &fakeSession{engine: f}, nil
}

func (f *fakeEngine) closedSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSession struct {
	engine *fakeEngine
}

func (s *fakeSession) OpenDoc(context.Context, string) (backend.Doc, error) {
	if s.engine.doc == nil {
		return nil, errors.New("no doc")
	}
	return s.engine.doc, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.closed++
	return s.engine.closeErr
}

type fakeDoc struct {
	mu         sync.Mutex
	cleared    int
	selections []string
	evalRes    backend.EvalResult
	evalErr    error
	// fieldValues maps field -> values that exist (searchable).
	fieldValues map[string][]string
	searchErr   map[string]error
}

func (d *fakeDoc) ClearAll(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared++
	return nil
}

func (d *fakeDoc) ApplyBookmark(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selections = append(d.selections, "bookmark:"+id)
	return true, nil
}

func (d *fakeDoc) SelectInField(_ context.Context, field string, _ []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selections = append(d.selections, "field:"+field)
	return nil
}

func (d *fakeDoc) Evaluate(context.Context, string) (backend.EvalResult, error) {
	return d.evalRes, d.evalErr
}

func (d *fakeDoc) SearchField(_ context.Context, field, value string) (int, error) {
	if err, ok := d.searchErr[value]; ok {
		return 0, err
	}
	for _, v := range d.fieldValues[field] {
		if v == value {
			return 1, nil
		}
	}
	return 0, nil
}

func reloadEvent(id string) backend.Event {
	return backend.Event{ID: id, ObjectID: id, ObjectType: "App", ChangedProperties: []string{ReloadProperty}}
}

func env(repo backend.RepoClient, engine backend.EngineClient) registry.Environment {
	return registry.Environment{Name: "prod", Host: "backend.example.com", Repo: repo, Engine: engine}
}

func alertNotification(conds ...config.DataAlertCondition) config.Notification {
	return config.Notification{
		ID:             "alert-1",
		Kind:           config.KindDataAlert,
		Environment:    "prod",
		Filter:         "name eq 'Sales'",
		DataConditions: conds,
	}
}

func scalarCond(user, expr, value, operator string) config.DataAlertCondition {
	return config.DataAlertCondition{
		User: user,
		Conditions: []config.Condition{
			{Scalar: &config.ScalarCondition{
				Expression: expr,
				Results:    []config.ScalarResult{{Value: value, Operator: operator}},
			}},
		},
	}
}

func TestTriggerGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		events  []backend.Event
		wantErr error
	}{
		{
			name:    "exactly one reload",
			events:  []backend.Event{reloadEvent("a"), {ID: "b", ChangedProperties: []string{"name"}}},
			wantErr: nil,
		},
		{
			name:    "no reload",
			events:  []backend.Event{{ID: "a", ChangedProperties: []string{"name"}}},
			wantErr: ErrNoTrigger,
		},
		{
			name:    "two reloads",
			events:  []backend.Event{reloadEvent("a"), reloadEvent("b")},
			wantErr: ErrAmbiguousTrigger,
		},
		{
			name:    "empty batch",
			events:  nil,
			wantErr: ErrNoTrigger,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := triggerGate(tt.events); !errors.Is(err, tt.wantErr) {
				t.Fatalf("triggerGate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunQualifies(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}
	engine := &fakeEngine{doc: &fakeDoc{evalRes: backend.EvalResult{Number: 42, IsNumeric: true}}}
	r := NewRunner(logx.Nop())

	out, err := r.Run(context.Background(), env(repo, engine),
		alertNotification(scalarCond("", "Sum(Sales)", "40", ">")),
		[]backend.Event{reloadEvent("doc-1")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Qualified {
		t.Error("run should qualify")
	}
	if out.Entity.ID != "doc-1" {
		t.Errorf("entity = %q, want doc-1", out.Entity.ID)
	}
	if engine.closedSessions() != 1 {
		t.Errorf("closed sessions = %d, want 1", engine.closedSessions())
	}
	if len(engine.opened) != 1 || engine.opened[0] != backend.DefaultIdentity {
		t.Errorf("opened = %v, want [%s]", engine.opened, backend.DefaultIdentity)
	}
}

func TestRunAndsAcrossUsers(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}
	engine := &fakeEngine{doc: &fakeDoc{evalRes: backend.EvalResult{Number: 42, IsNumeric: true}}}
	r := NewRunner(logx.Nop())

	// Second user's condition fails: whole run must not qualify.
	out, err := r.Run(context.Background(), env(repo, engine),
		alertNotification(
			scalarCond(`DIR\alice`, "Sum(Sales)", "40", ">"),
			scalarCond(`DIR\bob`, "Sum(Sales)", "50", ">"),
		),
		[]backend.Event{reloadEvent("doc-1")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if out.Qualified {
		t.Error("run should not qualify when any condition fails")
	}
	if engine.closedSessions() != 2 {
		t.Errorf("closed sessions = %d, want 2 (one per user)", engine.closedSessions())
	}
}

func TestRunFilterErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		matches []backend.Entity
		wantErr error
	}{
		{name: "no match", matches: nil, wantErr: ErrFilterNoMatch},
		{name: "ambiguous", matches: []backend.Entity{{ID: "a"}, {ID: "b"}}, wantErr: ErrFilterAmbiguous},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := &fakeRepo{matches: tt.matches}
			engine := &fakeEngine{doc: &fakeDoc{}}
			r := NewRunner(logx.Nop())

			_, err := r.Run(context.Background(), env(repo, engine),
				alertNotification(scalarCond("", "1", "1", "=")),
				[]backend.Event{reloadEvent("x")},
			)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run = %v, want %v", err, tt.wantErr)
			}
			if engine.closedSessions() != 0 {
				t.Error("no session should be opened when the filter fails")
			}
		})
	}
}

func TestRunEngineErrorAborts(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}
	engine := &fakeEngine{doc: &fakeDoc{evalErr: errors.New("engine down")}}
	r := NewRunner(logx.Nop())

	_, err := r.Run(context.Background(), env(repo, engine),
		alertNotification(scalarCond("", "Sum(Sales)", "1", ">")),
		[]backend.Event{reloadEvent("doc-1")},
	)
	if err == nil {
		t.Fatal("expected evaluation abort")
	}
	if engine.closedSessions() != 1 {
		t.Error("session must be closed even when evaluation fails")
	}
}

func TestRunCloseFailureNotFatal(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}
	engine := &fakeEngine{
		doc:      &fakeDoc{evalRes: backend.EvalResult{Number: 2, IsNumeric: true}},
		closeErr: errors.New("close failed"),
	}
	r := NewRunner(logx.Nop())

	out, err := r.Run(context.Background(), env(repo, engine),
		alertNotification(scalarCond("", "1+1", "2", "=")),
		[]backend.Event{reloadEvent("doc-1")},
	)
	if err != nil {
		t.Fatalf("close failure must not fail the run: %v", err)
	}
	if !out.Qualified {
		t.Error("run should still qualify")
	}
}

func TestRunListConditions(t *testing.T) {
	t.Parallel()

	listAlert := func(op string, values ...string) config.Notification {
		return alertNotification(config.DataAlertCondition{
			Conditions: []config.Condition{
				{List: &config.ListCondition{Field: "Region", Values: values, Operation: op}},
			},
		})
	}
	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}

	tests := []struct {
		name      string
		doc       *fakeDoc
		n         config.Notification
		qualified bool
	}{
		{
			name:      "present both found",
			doc:       &fakeDoc{fieldValues: map[string][]string{"Region": {"A", "B"}}},
			n:         listAlert("present", "A", "B"),
			qualified: true,
		},
		{
			name:      "present one missing",
			doc:       &fakeDoc{fieldValues: map[string][]string{"Region": {"A"}}},
			n:         listAlert("present", "A", "B"),
			qualified: false,
		},
		{
			name: "search error counts as not found",
			doc: &fakeDoc{
				fieldValues: map[string][]string{"Region": {"A", "B"}},
				searchErr:   map[string]error{"B": errors.New("search failed")},
			},
			n:         listAlert("present", "A", "B"),
			qualified: false,
		},
		{
			name:      "missing none found",
			doc:       &fakeDoc{fieldValues: map[string][]string{"Region": {"C"}}},
			n:         listAlert("missing", "A", "B"),
			qualified: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := &fakeEngine{doc: tt.doc}
			r := NewRunner(logx.Nop())

			out, err := r.Run(context.Background(), env(repo, engine), tt.n,
				[]backend.Event{reloadEvent("doc-1")})
			if err != nil {
				t.Fatal(err)
			}
			if out.Qualified != tt.qualified {
				t.Fatalf("Qualified = %v, want %v", out.Qualified, tt.qualified)
			}
		})
	}
}

func TestSelectionsClearedAndOrdered(t *testing.T) {
	t.Parallel()

	doc := &fakeDoc{evalRes: backend.EvalResult{Number: 1, IsNumeric: true}}
	repo := &fakeRepo{matches: []backend.Entity{{ID: "doc-1"}}}
	engine := &fakeEngine{doc: doc}
	r := NewRunner(logx.Nop())

	n := alertNotification(config.DataAlertCondition{
		Selections: []config.Selection{
			{Field: "Year", Values: []string{"2026"}},
			{Bookmark: "bm-1"},
			{Field: "Region", Values: []string{"EU"}},
		},
		Conditions: []config.Condition{
			{Scalar: &config.ScalarCondition{Expression: "1", Results: []config.ScalarResult{{Value: "1", Operator: "="}}}},
		},
	})

	if _, err := r.Run(context.Background(), env(repo, engine), n,
		[]backend.Event{reloadEvent("doc-1")}); err != nil {
		t.Fatal(err)
	}

	if doc.cleared != 1 {
		t.Errorf("cleared = %d, want 1", doc.cleared)
	}
	want := []string{"field:Year", "bookmark:bm-1", "field:Region"}
	if len(doc.selections) != len(want) {
		t.Fatalf("selections = %v, want %v", doc.selections, want)
	}
	for i := range want {
		if doc.selections[i] != want[i] {
			t.Fatalf("selections = %v, want %v", doc.selections, want)
		}
	}
}
