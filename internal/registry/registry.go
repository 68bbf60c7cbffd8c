// Package registry holds the process-wide notification and environment state
// as immutable, versioned snapshots behind a single swap pointer.
//
// Readers capture one snapshot at the start of a request and use it for the
// whole request; the reload coordinator publishes a complete replacement
// atomically. A request therefore observes either fully-old or fully-new
// state, never a mix.
package registry

import (
	"fmt"
	"sync/atomic"

	"notigate/internal/backend"
	"notigate/internal/config"
)

// Environment is a configured backend instance bound to its injected clients.
type Environment struct {
	Name   string
	Host   string
	Repo   backend.RepoClient
	Engine backend.EngineClient
}

// Snapshot is one immutable registry generation. Nothing in a snapshot is
// mutated after publication.
type Snapshot struct {
	Version       uint64
	Notifications map[string]config.Notification
	Environments  map[string]Environment
}

func (s *Snapshot) Notification(id string) (config.Notification, bool) {
	n, ok := s.Notifications[id]
	return n, ok
}

func (s *Snapshot) Environment(name string) (Environment, bool) {
	e, ok := s.Environments[name]
	return e, ok
}

// Store is the swap pointer. The zero store serves an empty snapshot.
type Store struct {
	cur atomic.Pointer[Snapshot]
	ver atomic.Uint64
}

func NewStore() *Store {
	st := &Store{}
	st.cur.Store(&Snapshot{
		Notifications: map[string]config.Notification{},
		Environments:  map[string]Environment{},
	})
	return st
}

// Current returns the live snapshot. Never nil.
func (st *Store) Current() *Snapshot { return st.cur.Load() }

// Swap publishes a new snapshot built from the given notifications and
// environments, replacing the previous generation wholesale.
func (st *Store) Swap(notifications []config.Notification, envs []Environment) *Snapshot {
	nm := make(map[string]config.Notification, len(notifications))
	for _, n := range notifications {
		nm[n.ID] = n
	}
	em := make(map[string]Environment, len(envs))
	for _, e := range envs {
		em[e.Name] = e
	}
	snap := &Snapshot{
		Version:       st.ver.Add(1),
		Notifications: nm,
		Environments:  em,
	}
	st.cur.Store(snap)
	return snap
}

// Delete publishes a new snapshot without the given notification id.
// Returns false when the id was not present (no new snapshot is published).
func (st *Store) Delete(id string) (*Snapshot, bool) {
	for {
		old := st.cur.Load()
		if _, ok := old.Notifications[id]; !ok {
			return old, false
		}
		nm := make(map[string]config.Notification, len(old.Notifications)-1)
		for k, v := range old.Notifications {
			if k != id {
				nm[k] = v
			}
		}
		snap := &Snapshot{
			Version:       st.ver.Add(1),
			Notifications: nm,
			Environments:  old.Environments,
		}
		if st.cur.CompareAndSwap(old, snap) {
			return snap, true
		}
	}
}

// ClientFactory builds the injected backend clients for one environment.
type ClientFactory func(env config.Environment) (backend.RepoClient, backend.EngineClient, error)

// BuildEnvironments resolves every configured environment through the factory.
func BuildEnvironments(cfg *config.Config, factory ClientFactory) ([]Environment, error) {
	envs := make([]Environment, 0, len(cfg.Environments))
	for _, ec := range cfg.Environments {
		repo, engine, err := factory(ec)
		if err != nil {
			return nil, fmt.Errorf("environment %q: %w", ec.Name, err)
		}
		envs = append(envs, Environment{
			Name:   ec.Name,
			Host:   ec.Host,
			Repo:   repo,
			Engine: engine,
		})
	}
	return envs, nil
}
