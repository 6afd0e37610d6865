package imxpad

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imxpad",
		Name:      "commands_total",
		Help:      "Commands sent to the XPAD server, by command and outcome",
	}, []string{"command", "outcome"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imxpad",
		Name:      "command_duration_seconds",
		Help:      "Round trip time of commands sent to the XPAD server",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
	}, []string{"command"})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "imxpad",
		Name:      "connected",
		Help:      "Whether a session with the XPAD server is open",
	})
)

func outcome(err error) string {
	var se *ServerError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return "refused"
	default:
		return "error"
	}
}

func observe(command string, start time.Time, err error) {
	commandsTotal.WithLabelValues(command, outcome(err)).Inc()
	commandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
