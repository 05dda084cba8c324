package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitefeed_ticks_total",
		Help: "Ticks decoded and applied to the store.",
	})

	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitefeed_decode_errors_total",
		Help: "Sub-frames that failed to decode.",
	})

	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitefeed_reconnects_total",
		Help: "Websocket reconnect attempts after a transport error.",
	})

	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitefeed_sessions_total",
		Help: "Completed streaming sessions by close reason.",
	}, []string{"reason"})

	DroppedSinkTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitefeed_dropped_sink_ticks_total",
		Help: "Ticks dropped because the presentation sink was full.",
	})

	ReceivedTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitefeed_received_tokens",
		Help: "Subscribed tokens that have received at least one tick.",
	})
)

// Register installs the collectors on the default registry. Call once at
// process start.
func Register() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(DecodeErrorsTotal)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(DroppedSinkTicks)
	prometheus.MustRegister(ReceivedTokens)
}
