package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datacat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	panelsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datacat",
			Subsystem: "panel",
			Name:      "open",
			Help:      "Panel sessions currently held by the pool.",
		},
	)
	panelRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "panel",
			Name:      "renders_total",
			Help:      "Panel render requests by outcome.",
		},
		[]string{"result", "replaced"},
	)
	panelDisposals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "panel",
			Name:      "disposals_total",
			Help:      "Panel session disposals by outcome.",
		},
		[]string{"result"},
	)
	panelMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datacat",
			Subsystem: "panel",
			Name:      "messages_total",
			Help:      "Outbound panel messages by kind and outcome.",
		},
		[]string{"kind", "success"},
	)
	surfaceViewers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datacat",
			Subsystem: "surface",
			Name:      "viewers",
			Help:      "Websocket viewers attached to surfaces.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			panelsOpen,
			panelRenders,
			panelDisposals,
			panelMessages,
			surfaceViewers,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func SetPanelsOpen(n int) {
	RegisterMetrics()
	panelsOpen.Set(float64(n))
}

func RecordPanelRender(result string, replaced bool) {
	RegisterMetrics()
	panelRenders.WithLabelValues(result, strconv.FormatBool(replaced)).Inc()
}

func RecordPanelDisposal(err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	panelDisposals.WithLabelValues(result).Inc()
}

func RecordPanelMessage(kind string, success bool) {
	RegisterMetrics()
	panelMessages.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func AddSurfaceViewers(delta int) {
	RegisterMetrics()
	surfaceViewers.Add(float64(delta))
}
