package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/internal/registry"
	"notigate/internal/runtime/supervisor"
	"notigate/pkg/logx"
)

// ReloadProperty is the changed-property name that triggers a data-alert run.
// Every other change on the watched entity is ignored.
const ReloadProperty = "lastReloadTime"

var (
	// ErrNoTrigger means the deduplicated batch carried no reload event.
	ErrNoTrigger = errors.New("alert: no reload event in batch")
	// ErrAmbiguousTrigger means more than one reload event arrived in one
	// batch; exactly one is expected per run.
	ErrAmbiguousTrigger = errors.New("alert: more than one reload event in batch")
	// ErrFilterNoMatch means the alert's filter resolved to no entity.
	ErrFilterNoMatch = errors.New("alert: filter matched no entity")
	// ErrFilterAmbiguous means the alert's filter resolved to more than one
	// entity. Both filter errors are configuration errors on the alert.
	ErrFilterAmbiguous = errors.New("alert: filter matched more than one entity")
)

// Outcome is the terminal result of one alert run.
type Outcome struct {
	// Qualified is the AND-reduction over every evaluated condition.
	Qualified bool
	// Entity is the resolved target entity; delivered alongside the events
	// when Qualified is true.
	Entity backend.Entity
}

// Runner orchestrates data-alert evaluation runs. It is stateless between
// runs: every run resolves the target entity fresh and opens its own
// short-lived sessions.
type Runner struct {
	log logx.Logger
}

func NewRunner(log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log}
}

// Run executes one evaluation run for a data-alert notification against a
// deduplicated event batch.
//
// Any returned error aborts the run before delivery: nothing must reach the
// dispatcher on a failed run. Sessions opened during the run are closed
// regardless of outcome.
func (r *Runner) Run(ctx context.Context, env registry.Environment, n config.Notification, events []backend.Event) (Outcome, error) {
	if err := triggerGate(events); err != nil {
		return Outcome{}, err
	}

	entity, err := r.resolve(ctx, env, n.Filter)
	if err != nil {
		return Outcome{}, err
	}

	groups := groupByUser(n.DataConditions)

	// Per-user runs execute concurrently. AND is commutative, so the
	// accumulated result does not depend on completion order.
	var (
		mu        sync.Mutex
		qualified = true
	)
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(r.log))
	for user, conds := range groups {
		user, conds := user, conds
		sup.Go("alert.user."+string(user), func(ctx context.Context) error {
			ok, err := r.evaluateUser(ctx, env.Engine, entity.ID, user, conds)
			if err != nil {
				return err
			}
			mu.Lock()
			qualified = qualified && ok
			mu.Unlock()
			return nil
		})
	}
	if err := sup.Wait(context.Background()); err != nil {
		return Outcome{}, err
	}

	return Outcome{Qualified: qualified, Entity: entity}, nil
}

// triggerGate admits a batch only when exactly one event carries the reload
// property in its changed-property set.
func triggerGate(events []backend.Event) error {
	n := 0
	for _, ev := range events {
		if ev.HasChangedProperty(ReloadProperty) {
			n++
		}
	}
	switch {
	case n == 0:
		return ErrNoTrigger
	case n > 1:
		return ErrAmbiguousTrigger
	}
	return nil
}

// resolve evaluates the alert filter and requires exactly one match.
func (r *Runner) resolve(ctx context.Context, env registry.Environment, filter string) (backend.Entity, error) {
	matches, err := env.Repo.FilterApps(ctx, filter)
	if err != nil {
		return backend.Entity{}, fmt.Errorf("alert: filter %q: %w", filter, err)
	}
	switch len(matches) {
	case 0:
		return backend.Entity{}, fmt.Errorf("%w: %q", ErrFilterNoMatch, filter)
	case 1:
		return matches[0], nil
	default:
		return backend.Entity{}, fmt.Errorf("%w: %q matched %d", ErrFilterAmbiguous, filter, len(matches))
	}
}

// groupByUser partitions conditions by effective user identity.
func groupByUser(conds []config.DataAlertCondition) map[backend.Identity][]config.DataAlertCondition {
	groups := make(map[backend.Identity][]config.DataAlertCondition)
	for _, c := range conds {
		user := backend.DefaultIdentity
		if c.User != "" {
			user = backend.Identity(c.User)
		}
		groups[user] = append(groups[user], c)
	}
	return groups
}

// evaluateUser opens one session for the user, runs every condition in the
// group and AND-reduces the outcomes. The session is closed before returning,
// success or failure; a close failure is logged, never fatal.
func (r *Runner) evaluateUser(ctx context.Context, engine backend.EngineClient, docID string, user backend.Identity, conds []config.DataAlertCondition) (bool, error) {
	sess, err := engine.OpenSession(ctx, user)
	if err != nil {
		return false, fmt.Errorf("open session for %s: %w", user, err)
	}
	defer func() {
		if cerr := sess.Close(context.Background()); cerr != nil {
			r.log.Warn("session close failed", logx.String("user", string(user)), logx.Err(cerr))
		}
	}()

	doc, err := sess.OpenDoc(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("open doc %s for %s: %w", docID, user, err)
	}

	out := true
	for _, cond := range conds {
		ok, err := r.evaluateCondition(ctx, doc, cond)
		if err != nil {
			return false, err
		}
		out = out && ok
	}
	return out, nil
}

// evaluateCondition applies the condition's selections (after a full clear)
// and evaluates its sub-conditions in declared order.
func (r *Runner) evaluateCondition(ctx context.Context, doc backend.Doc, cond config.DataAlertCondition) (bool, error) {
	if err := doc.ClearAll(ctx); err != nil {
		return false, fmt.Errorf("clear selections: %w", err)
	}
	for _, sel := range cond.Selections {
		if err := r.applySelection(ctx, doc, sel); err != nil {
			return false, err
		}
	}

	out := true
	for _, sub := range cond.Conditions {
		switch {
		case sub.Scalar != nil:
			res, err := doc.Evaluate(ctx, sub.Scalar.Expression)
			if err != nil {
				return false, fmt.Errorf("evaluate %q: %w", sub.Scalar.Expression, err)
			}
			ok, err := EvaluateScalar(res, sub.Scalar.Results)
			if err != nil {
				return false, err
			}
			out = out && ok
		case sub.List != nil:
			out = out && r.evaluateList(ctx, doc, *sub.List)
		}
	}
	return out, nil
}

func (r *Runner) applySelection(ctx context.Context, doc backend.Doc, sel config.Selection) error {
	if sel.Bookmark != "" {
		ok, err := doc.ApplyBookmark(ctx, sel.Bookmark)
		if err != nil {
			return fmt.Errorf("apply bookmark %q: %w", sel.Bookmark, err)
		}
		if !ok {
			return fmt.Errorf("apply bookmark %q: rejected by engine", sel.Bookmark)
		}
		return nil
	}
	if err := doc.SelectInField(ctx, sel.Field, sel.Values); err != nil {
		return fmt.Errorf("select in %q: %w", sel.Field, err)
	}
	return nil
}

// evaluateList searches the field for every expected value. A per-value
// search error counts as not-found for that value; it never aborts the run.
func (r *Runner) evaluateList(ctx context.Context, doc backend.Doc, lc config.ListCondition) bool {
	found := make([]bool, len(lc.Values))
	for i, v := range lc.Values {
		matches, err := doc.SearchField(ctx, lc.Field, v)
		if err != nil {
			r.log.Debug("field search failed",
				logx.String("field", lc.Field), logx.String("value", v), logx.Err(err))
			continue
		}
		found[i] = matches > 0
	}
	return reduceList(lc.Operation, found)
}
