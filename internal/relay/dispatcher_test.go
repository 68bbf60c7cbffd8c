package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"notigate/internal/config"
	"notigate/internal/eventbus"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type scriptedSink struct {
	name string
	err  error

	mu    sync.Mutex
	calls []plugin.NotificationData
	panic bool
}

func (s *scriptedSink) Meta() plugin.Meta {
	return plugin.Meta{Name: s.name, Version: "0.0.1"}
}

func (s *scriptedSink) Deliver(_ context.Context, _ config.Callback, data plugin.NotificationData, _ logx.Logger) error {
	s.mu.Lock()
	s.calls = append(s.calls, data)
	s.mu.Unlock()
	if s.panic {
		panic("sink exploded")
	}
	return s.err
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newPlugins(t *testing.T, sinks ...plugin.Sink) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry(logx.Nop())
	if err := reg.Rebuild(logx.Config{Level: "error"}, config.PluginsConfig{}, sinks); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func notificationWith(callbacks ...config.Callback) config.Notification {
	return config.Notification{ID: "n-1", Kind: config.KindRepo, Environment: "prod", Callbacks: callbacks}
}

func TestDispatchFansOutToActiveCallbacks(t *testing.T) {
	t.Parallel()

	a := &scriptedSink{name: "a"}
	b := &scriptedSink{name: "b"}
	d := NewDispatcher(newPlugins(t, a, b), logx.Nop(), nil)

	off := false
	n := notificationWith(
		config.Callback{Type: "a"},
		config.Callback{Type: "b"},
		config.Callback{Type: "a", Enabled: &off},
	)
	d.Dispatch(context.Background(), n, plugin.NotificationData{Config: n, Environment: "prod"})

	if a.callCount() != 1 {
		t.Errorf("a deliveries = %d, want 1 (disabled callback skipped)", a.callCount())
	}
	if b.callCount() != 1 {
		t.Errorf("b deliveries = %d, want 1", b.callCount())
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	failing := &scriptedSink{name: "failing", err: errors.New("delivery refused")}
	panicking := &scriptedSink{name: "panicking", panic: true}
	healthy := &scriptedSink{name: "healthy"}
	d := NewDispatcher(newPlugins(t, failing, panicking, healthy), logx.Nop(), nil)

	n := notificationWith(
		config.Callback{Type: "failing"},
		config.Callback{Type: "panicking"},
		config.Callback{Type: "healthy"},
	)
	d.Dispatch(context.Background(), n, plugin.NotificationData{Config: n})

	if healthy.callCount() != 1 {
		t.Errorf("healthy deliveries = %d, want exactly 1 despite sibling failures", healthy.callCount())
	}
}

func TestDispatchScrubsCallbacks(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{name: "a"}
	d := NewDispatcher(newPlugins(t, sink), logx.Nop(), nil)

	n := notificationWith(config.Callback{Type: "a"})
	d.Dispatch(context.Background(), n, plugin.NotificationData{Config: n})

	sink.mu.Lock()
	got := sink.calls[0].Config.Callbacks
	sink.mu.Unlock()
	if len(got) != 0 {
		t.Error("callback definitions leaked into sink payload")
	}
}

func TestDispatchUnknownPluginDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{name: "known"}
	d := NewDispatcher(newPlugins(t, sink), logx.Nop(), nil)

	n := notificationWith(
		config.Callback{Type: "ghost"},
		config.Callback{Type: "known"},
	)
	d.Dispatch(context.Background(), n, plugin.NotificationData{Config: n})

	if sink.callCount() != 1 {
		t.Errorf("known deliveries = %d, want 1", sink.callCount())
	}
}

func TestDispatchPublishesDeliveryEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	sink := &scriptedSink{name: "a", err: errors.New("nope")}
	d := NewDispatcher(newPlugins(t, sink), logx.Nop(), bus)

	n := notificationWith(config.Callback{Type: "a"})
	d.Dispatch(context.Background(), n, plugin.NotificationData{Config: n})

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeDelivery {
			t.Fatalf("event type = %q", ev.Type)
		}
		de, ok := ev.Data.(deliveryEvent)
		if !ok {
			t.Fatalf("event data = %T", ev.Data)
		}
		if de.Plugin != "a" || de.Err == "" {
			t.Errorf("delivery event = %+v", de)
		}
	default:
		t.Fatal("no delivery event published")
	}
}
