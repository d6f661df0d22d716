package main

import (
	"context"
	"log/slog"

	"github.com/ampio/mavlink-router/internal/driver"
	"github.com/ampio/mavlink-router/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New(cfg.hubBuffer)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "buffer", cfg.hubBuffer, "system_id", cfg.systemID, "component_id", cfg.componentID)
	return h
}

// addEndpoints dispatches every --endpoint URL through the scheme
// factory and registers the resulting driver with the hub, logging and
// skipping (rather than aborting startup for) any URL that fails to
// construct.
func addEndpoints(ctx context.Context, h *hub.Hub, cfg *appConfig, l *slog.Logger) {
	for _, raw := range cfg.endpoints {
		d, kind, err := driver.FromURL(raw)
		if err != nil {
			l.Error("endpoint_init_failed", "url", raw, "error", err)
			continue
		}
		id := h.AddDriver(ctx, kind, d)
		l.Info("endpoint_added", "url", raw, "kind", kind, "driver_id", id)
	}
}
