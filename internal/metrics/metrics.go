package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	HubPublishedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_published_frames_total",
		Help: "Total MAVLink frames published onto the hub bus.",
	})
	HubLaggedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_lagged_events_total",
		Help: "Total times a subscriber fell behind the bus's retained window.",
	})
	DriverCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driver_count",
		Help: "Current number of registered drivers.",
	})
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_decoded_total",
		Help: "Total frames successfully decoded by the frame reader, by origin.",
	}, []string{"origin"})
	FramesDroppedCRC = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_dropped_crc_total",
		Help: "Total frames dropped for failing CRC validation, by origin.",
	}, []string{"origin"})
	CallbackDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_drops_total",
		Help: "Total frames dropped by a failing callback, by direction.",
	}, []string{"direction"})
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconnect_attempts_total",
		Help: "Total transport reconnect attempts, by driver kind.",
	}, []string{"kind"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTransportOpen  = "transport_open"
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrFrameParse     = "frame_parse"
	ErrChannelClosed  = "channel_closed"
)

// StartHTTP serves Prometheus metrics at /metrics on a fresh mux,
// alongside a /ready endpoint driven by the registered readiness func.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping
// Prometheus in-process.
var (
	localPublished     uint64
	localLagged        uint64
	localDecoded       uint64
	localDroppedCRC    uint64
	localCallbackDrops uint64
	localReconnects    uint64
	localErrors        uint64
	localDrivers       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Published     uint64
	Lagged        uint64
	Decoded       uint64
	DroppedCRC    uint64
	CallbackDrops uint64
	Reconnects    uint64
	Errors        uint64
	Drivers       uint64
}

func Snap() Snapshot {
	return Snapshot{
		Published:     atomic.LoadUint64(&localPublished),
		Lagged:        atomic.LoadUint64(&localLagged),
		Decoded:       atomic.LoadUint64(&localDecoded),
		DroppedCRC:    atomic.LoadUint64(&localDroppedCRC),
		CallbackDrops: atomic.LoadUint64(&localCallbackDrops),
		Reconnects:    atomic.LoadUint64(&localReconnects),
		Errors:        atomic.LoadUint64(&localErrors),
		Drivers:       atomic.LoadUint64(&localDrivers),
	}
}

// IncHubPublished increments the hub publish counter.
func IncHubPublished() {
	HubPublishedFrames.Inc()
	atomic.AddUint64(&localPublished, 1)
}

// IncHubLagged increments the subscriber-lag counter.
func IncHubLagged() {
	HubLaggedEvents.Inc()
	atomic.AddUint64(&localLagged, 1)
}

// SetDriverCount records the current number of registered drivers.
func SetDriverCount(n int) {
	DriverCount.Set(float64(n))
	atomic.StoreUint64(&localDrivers, uint64(n))
}

// IncFramesDecoded increments the per-origin decode counter.
func IncFramesDecoded(origin string) {
	FramesDecoded.WithLabelValues(origin).Inc()
	atomic.AddUint64(&localDecoded, 1)
}

// IncFramesDroppedCRC increments the per-origin CRC-drop counter.
func IncFramesDroppedCRC(origin string) {
	FramesDroppedCRC.WithLabelValues(origin).Inc()
	atomic.AddUint64(&localDroppedCRC, 1)
}

// IncCallbackDrop increments the per-direction callback-drop counter.
// direction is "input" or "output".
func IncCallbackDrop(direction string) {
	CallbackDrops.WithLabelValues(direction).Inc()
	atomic.AddUint64(&localCallbackDrops, 1)
}

// IncReconnectAttempt increments the per-kind reconnect counter.
func IncReconnectAttempt(kind string) {
	ReconnectAttempts.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTransportOpen, ErrTransportRead, ErrTransportWrite,
		ErrFrameParse, ErrChannelClosed,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
