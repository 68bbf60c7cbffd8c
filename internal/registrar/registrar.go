// Package registrar asserts the configured notifications as change
// subscriptions on their backends, removes stale ones, and periodically
// re-asserts everything on a cron schedule (backends forget subscriptions
// across their own restarts).
package registrar

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"notigate/internal/backend"
	"notigate/internal/config"
	"notigate/internal/eventbus"
	"notigate/internal/registry"
	"notigate/pkg/logx"
)

// registrationEvent is published on the bus per assertion outcome.
type registrationEvent struct {
	Notification string `json:"notification"`
	Environment  string `json:"environment"`
	Err          string `json:"err,omitempty"`
}

type Registrar struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	parser cron.Parser
	c      *cron.Cron
}

func New(log logx.Logger, bus eventbus.Bus) *Registrar {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registrar{
		log:    log,
		bus:    bus,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// CallbackURI builds the externally reachable callback address the backend
// will POST events to.
func CallbackURI(general config.GeneralConfig, id string) string {
	return fmt.Sprintf("%s:%d/notifications/callback/%s",
		strings.TrimSuffix(general.URI, "/"), general.Port, id)
}

// Assert registers every enabled notification in the snapshot with its
// environment. Failures are per-notification: one backend being down must not
// keep the rest unregistered. The first error is returned after all
// notifications were attempted.
func (g *Registrar) Assert(ctx context.Context, snap *registry.Snapshot, general config.GeneralConfig) error {
	var first error
	for id, n := range snap.Notifications {
		if !n.IsEnabled() {
			continue
		}
		env, ok := snap.Environment(n.Environment)
		if !ok {
			// Validation rejects this; a stale snapshot could still carry it.
			g.log.Error("notification references unknown environment",
				logx.String("notification", id), logx.String("environment", n.Environment))
			continue
		}

		def, err := definition(n, general)
		if err == nil {
			err = env.Repo.CreateNotification(ctx, def)
		}

		ev := registrationEvent{Notification: id, Environment: n.Environment}
		if err != nil {
			ev.Err = err.Error()
			if first == nil {
				first = fmt.Errorf("register %s: %w", id, err)
			}
			g.log.Error("subscription registration failed",
				logx.String("notification", id), logx.String("environment", n.Environment), logx.Err(err))
		} else {
			g.log.Info("subscription registered",
				logx.String("notification", id), logx.String("environment", n.Environment))
		}
		if g.bus != nil {
			g.bus.Publish(eventbus.Event{Type: eventbus.TypeRegistration, Data: ev})
		}
	}
	return first
}

// definition maps a configured notification to the backend registration
// payload. Data alerts subscribe to app updates scoped by their filter; repo
// notifications carry their own object type and change type.
func definition(n config.Notification, general config.GeneralConfig) (backend.NotificationDef, error) {
	def := backend.NotificationDef{
		Handle:      n.ID,
		Condition:   n.Condition,
		Filter:      n.Filter,
		CallbackURI: CallbackURI(general, n.ID),
	}
	switch n.Kind {
	case config.KindDataAlert:
		def.ObjectType = "App"
		def.ChangeType, _ = config.ChangeTypeCode("update")
	default:
		def.ObjectType = n.ObjectType
		code, ok := config.ChangeTypeCode(n.ChangeType)
		if !ok {
			return backend.NotificationDef{}, fmt.Errorf("unknown change type %q", n.ChangeType)
		}
		def.ChangeType = code
	}
	return def, nil
}

// RemoveByID best-effort de-registers a subscription handle. When the
// notification is still known its environment is targeted; otherwise every
// environment is tried, since the backend that keeps calling is unknown.
func (g *Registrar) RemoveByID(ctx context.Context, snap *registry.Snapshot, id string) {
	envs := make([]registry.Environment, 0, len(snap.Environments))
	if n, ok := snap.Notification(id); ok {
		if env, ok := snap.Environment(n.Environment); ok {
			envs = append(envs, env)
		}
	}
	if len(envs) == 0 {
		for _, env := range snap.Environments {
			envs = append(envs, env)
		}
	}
	for _, env := range envs {
		if err := env.Repo.RemoveNotification(ctx, id); err != nil {
			g.log.Debug("subscription removal failed",
				logx.String("notification", id), logx.String("environment", env.Name), logx.Err(err))
			continue
		}
		g.log.Info("subscription removed",
			logx.String("notification", id), logx.String("environment", env.Name))
	}
}

// StartSweep schedules run on the given cron spec, replacing any previous
// sweep. An empty spec just stops the current one.
func (g *Registrar) StartSweep(spec string, run func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.c != nil {
		g.c.Stop()
		g.c = nil
	}
	if strings.TrimSpace(spec) == "" {
		return nil
	}

	sched, err := g.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("sweep spec %q: %w", spec, err)
	}
	c := cron.New(cron.WithParser(g.parser))
	c.Schedule(sched, cron.FuncJob(run))
	c.Start()
	g.c = c
	g.log.Info("registration sweep scheduled", logx.String("spec", spec))
	return nil
}

// Stop halts the sweep scheduler.
func (g *Registrar) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c != nil {
		g.c.Stop()
		g.c = nil
	}
}
