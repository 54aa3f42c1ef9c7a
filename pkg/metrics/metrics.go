// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for device exchanges
// and key operations. Collectors are registered on the default registry and
// exposed by the bridge server on /metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all metrics
	Namespace = "ledgerkey"

	// Label names
	LabelTransport  = "transport"
	LabelDirection  = "direction"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Frame directions
	DirectionOut = "out"
	DirectionIn  = "in"

	// Operation names
	OpGetPublicKey     = "get_public_key"
	OpComputeSignature = "compute_signature"
	OpSignAsync        = "sign_async"
	OpDeserialize      = "deserialize"
	OpBridgeExchange   = "bridge_exchange"
)

var (
	// FramesTotal counts HID reports, CTAPHID packets and bridge messages
	// written to or read from a device, by transport and direction.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Total number of transport frames by transport and direction",
		},
		[]string{LabelTransport, LabelDirection},
	)

	// ExchangesTotal counts APDU exchanges by transport and outcome.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "exchanges_total",
			Help:      "Total number of APDU exchanges by transport and status",
		},
		[]string{LabelTransport, LabelStatus},
	)

	// ExchangeDuration tracks single APDU round trips. Buckets reach into
	// minutes because signing waits for the user to confirm on the device.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of APDU exchanges in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{LabelTransport},
	)

	// OperationsTotal counts logical key operations by status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of key operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks logical key operations end to end.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of key operations in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal counts failures by operation and error type
	// (e.g. "user_rejected", "timeout", "protocol").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// TransportWaiters is the number of sessions queued for a device.
	TransportWaiters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "transport_waiters",
			Help:      "Number of sessions waiting for exclusive device access",
		},
		[]string{LabelTransport},
	)

	// HTTPRequestsTotal counts bridge server HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// BridgeConnections is the number of open bridge WebSocket connections.
	BridgeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Number of open bridge WebSocket connections",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordFrames adds n frames for a transport and direction.
func RecordFrames(transport, direction string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	FramesTotal.WithLabelValues(transport, direction).Add(float64(n))
}

// RecordExchange records one APDU round trip.
func RecordExchange(transport, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	ExchangesTotal.WithLabelValues(transport, status).Inc()
	ExchangeDuration.WithLabelValues(transport).Observe(duration)
}

// RecordOperation records a logical key operation with its duration and status.
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error event.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// AddWaiters adjusts the waiting-session gauge of a transport by delta.
func AddWaiters(transport string, delta float64) {
	if !enabled.Load() {
		return
	}
	TransportWaiters.WithLabelValues(transport).Add(delta)
}

// RecordHTTPRequest records a bridge server HTTP request.
func RecordHTTPRequest(method, statusCode string) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
