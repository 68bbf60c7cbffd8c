// Package relay fans a processed notification out to its active callbacks.
//
// Delivery is at-most-once and best-effort: each plugin invocation is
// isolated, failures are logged and swallowed at the dispatch boundary, and
// nothing is retried. The HTTP acknowledgement has long been sent by the time
// a dispatch runs, so no failure here can surface to the sender.
package relay

import (
	"context"
	"time"

	"notigate/internal/config"
	"notigate/internal/eventbus"
	"notigate/internal/plugin"
	"notigate/internal/runtime/supervisor"
	"notigate/pkg/logx"
)

type Dispatcher struct {
	plugins *plugin.Registry
	log     logx.Logger
	bus     eventbus.Bus
}

func NewDispatcher(plugins *plugin.Registry, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{plugins: plugins, log: log, bus: bus}
}

// deliveryEvent is published on the bus for each callback outcome.
type deliveryEvent struct {
	Notification string `json:"notification"`
	Plugin       string `json:"plugin"`
	Err          string `json:"err,omitempty"`
	TookMS       int64  `json:"took_ms"`
}

// Dispatch invokes every active callback of the notification concurrently and
// joins them all before returning. A callback with enabled == false is
// skipped silently; an unknown plugin type is a per-callback error like any
// delivery failure.
//
// Callback definitions are scrubbed from the data handed to sinks so one
// callback's secrets never cross another callback's delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, n config.Notification, data plugin.NotificationData) {
	data.Config = scrub(data.Config)

	sup := supervisor.NewSupervisor(ctx)
	for _, cb := range n.Callbacks {
		if !cb.Active() {
			continue
		}
		cb := cb
		sink, plog, ok := d.plugins.Resolve(cb.Type)
		if !ok {
			d.log.Error("callback references unknown plugin",
				logx.String("notification", n.ID), logx.String("plugin", cb.Type))
			continue
		}
		sup.Go("deliver."+cb.Type, func(ctx context.Context) error {
			start := time.Now()
			err := sink.Deliver(ctx, cb, data, plog)
			ev := deliveryEvent{
				Notification: n.ID,
				Plugin:       cb.Type,
				TookMS:       time.Since(start).Milliseconds(),
			}
			if err != nil {
				ev.Err = err.Error()
				d.log.Error("delivery failed",
					logx.String("notification", n.ID),
					logx.String("plugin", cb.Type),
					logx.Err(err),
				)
			}
			if d.bus != nil {
				d.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Data: ev})
			}
			// Swallowed: sibling callbacks must not observe this failure.
			return nil
		})
	}

	// Join all siblings. Panics inside a sink are recovered and logged by the
	// supervisor without reaching the other deliveries.
	_ = sup.Wait(context.Background())
}

// scrub returns a copy of the notification without callback definitions.
func scrub(n config.Notification) config.Notification {
	n.Callbacks = nil
	return n
}
