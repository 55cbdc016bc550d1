package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal counts dispatches by tool and outcome.
	// Labels: tool, outcome (ok, awaiting_selection, or an error kind)
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals // prometheus collectors register once per process
		Namespace: "cadbridge",
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Tool dispatches by tool and outcome",
	}, []string{"tool", "outcome"})

	// dispatchSeconds measures handler latency including journal writes.
	dispatchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals // prometheus collectors register once per process
		Namespace: "cadbridge",
		Subsystem: "dispatch",
		Name:      "seconds",
		Help:      "Tool dispatch latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"tool"})

	// pendingSelections is the size of the pending selection table after
	// the most recent dispatch.
	pendingSelections = promauto.NewGauge(prometheus.GaugeOpts{ //nolint:gochecknoglobals // prometheus collectors register once per process
		Namespace: "cadbridge",
		Name:      "pending_selections",
		Help:      "Selection operations awaiting completion",
	})
)

// unknownToolLabel keeps unregistered tool names out of label values.
const unknownToolLabel = "unknown"
