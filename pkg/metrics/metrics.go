// Package metrics records bridge activity in Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

// Config selects where the metrics endpoint listens. An empty address disables the endpoint.
type Config struct {
	Address string `json:"address"`
}

// Recorder counts commands, handshakes, and authentication failures.
type Recorder struct {
	commands   *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewRecorder registers the bridge metrics on the default Prometheus registerer.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewRecorderWithRegistry registers metrics on the provided registerer. A nil registerer
// defaults to the global Prometheus registerer.
func NewRecorderWithRegistry(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclelink_commands_total",
		Help: "Total number of vehicle commands processed by the bridge",
	}, []string{"vin", "command", "outcome"})
	handshakes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclelink_handshakes_total",
		Help: "Total number of session handshakes",
	}, []string{"vin", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vehiclelink_command_latency_seconds",
		Help:    "Time between command receipt and vehicle acknowledgment",
		Buckets: prometheus.DefBuckets,
	}, []string{"vin", "command"})

	if err := reg.Register(commands); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			commands = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(handshakes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			handshakes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &Recorder{commands: commands, handshakes: handshakes, latency: latency}, nil
}

// outcome classifies a command error for the metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, protocol.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, protocol.ErrReplayRejected):
		return "replay_rejected"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrKeyNotPaired):
		return "key_not_paired"
	case protocol.IsLinkError(err):
		return "link_error"
	default:
		return "error"
	}
}

// RecordCommand counts a processed command and observes its latency.
func (r *Recorder) RecordCommand(vin, command string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(vin, command, outcome(err)).Inc()
	if err == nil {
		r.latency.WithLabelValues(vin, command).Observe(elapsed.Seconds())
	}
}

// RecordHandshake counts a session negotiation attempt.
func (r *Recorder) RecordHandshake(vin string, err error) {
	if r == nil {
		return
	}
	r.handshakes.WithLabelValues(vin, outcome(err)).Inc()
}

// Serve exposes Prometheus metrics over HTTP on addr until ctx is canceled. A dedicated
// ServeMux is used to avoid interfering with other handlers.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown: %s", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
