package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"notigate/internal/config"
	"notigate/pkg/logx"
)

var (
	// ErrDuplicatePlugin means two sinks claimed the same meta name.
	ErrDuplicatePlugin = errors.New("plugin: duplicate name")

	// ErrMissingMeta means a sink has no meta name. Loading aborts.
	ErrMissingMeta = errors.New("plugin: missing meta name")
)

type entry struct {
	sink   Sink
	logSvc *logx.Service
	log    logx.Logger
}

// Registry maps callback types to sinks and owns one logger service per sink.
//
// Reload discipline: Rebuild closes every previously created plugin logger
// and rebuilds the table from scratch. No additive merging — repeated reloads
// can never accumulate duplicate or stale entries.
type Registry struct {
	mu  sync.RWMutex
	log logx.Logger

	entries map[string]entry
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log, entries: map[string]entry{}}
}

// Rebuild replaces the whole registry. logCfg is the process logging config;
// each sink gets its own logx.Service with the level resolved through
// plugCfg (per-plugin override, else plugin-wide default, else process level).
//
// On error the registry is left empty: a configuration error must not leave a
// half-built plugin set behind.
func (r *Registry) Rebuild(logCfg logx.Config, plugCfg config.PluginsConfig, sinks []Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.entries = make(map[string]entry, len(sinks))

	defaultLevel := plugCfg.Level
	if strings.TrimSpace(defaultLevel) == "" {
		defaultLevel = logCfg.Level
	}

	for _, s := range sinks {
		if s == nil {
			continue
		}
		name := strings.TrimSpace(s.Meta().Name)
		if name == "" {
			r.closeLocked()
			r.entries = map[string]entry{}
			return fmt.Errorf("%w (%T)", ErrMissingMeta, s)
		}
		if _, exists := r.entries[name]; exists {
			r.closeLocked()
			r.entries = map[string]entry{}
			return fmt.Errorf("%w: %q", ErrDuplicatePlugin, name)
		}

		level := plugCfg.LevelFor(name)
		if strings.TrimSpace(level) == "" {
			level = defaultLevel
		}
		svc, log := logx.New(logx.Config{
			Level:   level,
			Console: logCfg.Console,
			File:    logCfg.File,
		})
		r.entries[name] = entry{
			sink:   s,
			logSvc: svc,
			log:    log.With(logx.String("plugin", name)),
		}
		r.log.Info("plugin loaded", logx.String("plugin", name), logx.String("level", level))
	}

	return nil
}

// Resolve returns the sink and its dedicated logger for a callback type.
func (r *Registry) Resolve(name string) (Sink, logx.Logger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, logx.Nop(), false
	}
	return e.sink, e.log, true
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases all plugin logger services.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Registry) closeLocked() {
	for _, e := range r.entries {
		if e.logSvc != nil {
			_ = e.logSvc.Close()
		}
	}
}
