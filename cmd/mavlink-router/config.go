package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// endpointList collects repeated --endpoint flags into an ordered slice.
type endpointList []string

func (e *endpointList) String() string { return strings.Join(*e, ",") }
func (e *endpointList) Set(v string) error {
	*e = append(*e, v)
	return nil
}

type appConfig struct {
	endpoints       []string
	systemID        int
	componentID     int
	hubBuffer       int
	statsPeriod     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	var endpoints endpointList
	flag.Var(&endpoints, "endpoint", "Endpoint URL to create (repeatable); e.g. serial:///dev/ttyACM0?baudrate=115200")
	systemID := flag.Int("system-id", 250, "Our own MAVLink system id, used when stamping locally originated traffic")
	componentID := flag.Int("component-id", 1, "Our own MAVLink component id")
	hubBuffer := flag.Int("hub-buffer", 10000, "Broadcast bus capacity (frames) before a slow subscriber is reported Lagged")
	statsPeriod := flag.Duration("stats-period", time.Second, "Stats actor differential sampling period")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default mavlink-router-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.endpoints = endpoints
	cfg.systemID = *systemID
	cfg.componentID = *componentID
	cfg.hubBuffer = *hubBuffer
	cfg.statsPeriod = *statsPeriod
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners — only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.statsPeriod <= 0 {
		return fmt.Errorf("stats-period must be > 0")
	}
	if c.systemID < 0 || c.systemID > 255 {
		return fmt.Errorf("system-id must be in [0,255] (got %d)", c.systemID)
	}
	if c.componentID < 0 || c.componentID > 255 {
		return fmt.Errorf("component-id must be in [0,255] (got %d)", c.componentID)
	}
	return nil
}

// applyEnvOverrides maps MAVROUTER_* environment variables to config
// fields unless a corresponding flag was explicitly set. Flags win.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["endpoint"]; !ok {
		if v, ok := get("MAVROUTER_ENDPOINTS"); ok && v != "" {
			c.endpoints = strings.Split(v, ",")
		}
	}
	if _, ok := set["system-id"]; !ok {
		if v, ok := get("MAVROUTER_SYSTEM_ID"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.systemID = n
			} else {
				firstErr = firstErrOr(firstErr, fmt.Errorf("invalid MAVROUTER_SYSTEM_ID: %w", err))
			}
		}
	}
	if _, ok := set["component-id"]; !ok {
		if v, ok := get("MAVROUTER_COMPONENT_ID"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.componentID = n
			} else {
				firstErr = firstErrOr(firstErr, fmt.Errorf("invalid MAVROUTER_COMPONENT_ID: %w", err))
			}
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("MAVROUTER_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil {
				firstErr = firstErrOr(firstErr, fmt.Errorf("invalid MAVROUTER_HUB_BUFFER: %w", err))
			}
		}
	}
	if _, ok := set["stats-period"]; !ok {
		if v, ok := get("MAVROUTER_STATS_PERIOD"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.statsPeriod = d
			} else if err != nil {
				firstErr = firstErrOr(firstErr, fmt.Errorf("invalid MAVROUTER_STATS_PERIOD: %w", err))
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("MAVROUTER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("MAVROUTER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("MAVROUTER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("MAVROUTER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				firstErr = firstErrOr(firstErr, fmt.Errorf("invalid MAVROUTER_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("MAVROUTER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("MAVROUTER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

func firstErrOr(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}
