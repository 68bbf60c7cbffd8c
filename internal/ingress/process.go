package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"unicode"

	"notigate/internal/alert"
	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/internal/registry"
	"notigate/pkg/logx"
)

// pluralExecutionResults is the one object type that is not resolved
// directly: execution results are fetched through their owning task.
const pluralExecutionResults = "executionResults"

// process runs after the acknowledgement has been sent. Nothing in here may
// surface as a second HTTP response; every failure terminates in a log line.
func (s *Server) process(ctx context.Context, snap *registry.Snapshot, n config.Notification, events []backend.Event) {
	env, ok := snap.Environment(n.Environment)
	if !ok {
		s.log.Error("notification references unknown environment",
			logx.String("notification", n.ID), logx.String("environment", n.Environment))
		return
	}

	switch n.Kind {
	case config.KindDataAlert:
		s.processAlert(ctx, env, n, events)
	default:
		s.processRepo(ctx, env, n, events)
	}
}

func (s *Server) processRepo(ctx context.Context, env registry.Environment, n config.Notification, events []backend.Event) {
	if n.PropertyName != "" {
		kept := events[:0:0]
		for _, ev := range events {
			if ev.HasChangedProperty(n.PropertyName) {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			s.log.Debug("batch filtered out by property name",
				logx.String("notification", n.ID), logx.String("property", n.PropertyName))
			return
		}
		events = kept
	}

	var entities []json.RawMessage
	if n.WantsEntityDetails() {
		entities = s.enrich(ctx, env, events)
	}

	s.dispatcher.Dispatch(ctx, n, plugin.NotificationData{
		Config:      n,
		Environment: n.Environment,
		Events:      events,
		Entities:    entities,
	})
}

func (s *Server) processAlert(ctx context.Context, env registry.Environment, n config.Notification, events []backend.Event) {
	out, err := s.alerts.Run(ctx, env, n, events)
	if err != nil {
		if errors.Is(err, alert.ErrNoTrigger) {
			s.log.Debug("batch carries no reload event", logx.String("notification", n.ID))
		} else {
			s.log.Error("alert run aborted", logx.String("notification", n.ID), logx.Err(err))
		}
		return
	}
	if !out.Qualified {
		s.log.Debug("alert conditions did not qualify", logx.String("notification", n.ID))
		return
	}

	data := plugin.NotificationData{
		Config:      n,
		Environment: n.Environment,
		Events:      events,
	}
	if len(out.Entity.Details) > 0 {
		data.Entities = []json.RawMessage{out.Entity.Details}
	}
	s.dispatcher.Dispatch(ctx, n, data)
}

// enrich fetches authoritative entity state for every event in the batch.
// Any fetch failure degrades the whole batch to an empty entity list; partial
// information downstream is preferred over losing the events entirely.
func (s *Server) enrich(ctx context.Context, env registry.Environment, events []backend.Event) []json.RawMessage {
	if len(events) == 0 {
		return nil
	}
	objType := pluralType(events[0].ObjectType)

	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		e, err := s.fetchEntity(ctx, env, objType, ev.EntityKey())
		if err != nil {
			s.log.Warn("entity enrichment failed",
				logx.String("type", objType), logx.String("id", ev.EntityKey()), logx.Err(err))
			return nil
		}
		out = append(out, e.Details)
	}
	return out
}

func (s *Server) fetchEntity(ctx context.Context, env registry.Environment, objType, id string) (backend.Entity, error) {
	e, err := env.Repo.GetEntity(ctx, objType, id)
	if err != nil {
		return backend.Entity{}, err
	}
	// Execution results carry no useful state of their own; resolve the
	// owning task instead.
	if objType == pluralExecutionResults && e.TaskID != "" {
		return env.Repo.GetTask(ctx, e.TaskID)
	}
	return e, nil
}

// pluralType derives the plural repository collection name from an event's
// declared object type: lower-case first letter plus a trailing "s"
// ("App" -> "apps", "ExecutionResult" -> "executionResults").
func pluralType(objectType string) string {
	if objectType == "" {
		return ""
	}
	r := []rune(objectType)
	r[0] = unicode.ToLower(r[0])
	return string(r) + "s"
}
