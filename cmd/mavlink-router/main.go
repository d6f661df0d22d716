package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/ampio/mavlink-router/internal/metrics"
	"github.com/ampio/mavlink-router/internal/stats"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mavlink-router %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	h := initHub(cfg, l)
	defer h.Close()
	addEndpoints(ctx, h, cfg, l)

	statsActor := stats.NewActor(h, cfg.statsPeriod)
	wg.Add(1)
	go func() { defer wg.Done(); statsActor.Run(ctx) }()

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	startHeartbeat(ctx, h, uint8(cfg.systemID), uint8(cfg.componentID), &wg)

	var metricsPort int
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		metricsPort = portOf(cfg.metricsAddr)
	}

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, metricsPort)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", metricsPort)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	l.Info("mavlink_router_started", "endpoints", len(cfg.endpoints), "stats_period", cfg.statsPeriod)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}

// portOf extracts the numeric port from a "host:port" or ":port"
// listen address, returning 0 if it cannot be parsed.
func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		lastColon := strings.LastIndex(addr, ":")
		if lastColon < 0 {
			return 0
		}
		p = addr[lastColon+1:]
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
