package app

import (
	"context"
	"time"

	"notigate/internal/eventbus"
	"notigate/pkg/logx"
)

// reloadLoop consumes validated configs published by the config manager and
// applies each as a wholesale registry swap. A rejected apply keeps the
// previous registries active; in-flight requests keep the snapshot they
// captured either way.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			if cfg == nil {
				continue
			}
			if err := a.apply(ctx, cfg); err != nil {
				a.log.Error("reload rejected; previous registries remain active", logx.Err(err))
				continue
			}
			a.log.Info("configuration reloaded")
		}
	}
}

// commandLoop consumes the administrative bus commands: the zero-argument
// reload signal and per-id notification deletes.
func (a *App) commandLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.TypeReloadConfig:
				if err := a.cfgm.ReloadNow(ctx); err != nil {
					a.log.Error("reload command failed", logx.Err(err))
				}
			case eventbus.TypeDeleteNotification:
				id, _ := ev.Data.(string)
				if id == "" {
					continue
				}
				snap := a.store.Current()
				if _, ok := a.store.Delete(id); ok {
					a.log.Info("notification deleted", logx.String("notification", id))
				}
				dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				a.reg.RemoveByID(dctx, snap, id)
				cancel()
			}
		}
	}
}
