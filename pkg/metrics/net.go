// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric emitted by the service
const Namespace = "repodigest"

var (
	// Upstream client metrics, labelled by upstream ("github" or "llm")

	clientInFlightGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "client_in_flight_requests",
		Help:      "A gauge of in-flight requests for the wrapped upstream client.",
	},
		[]string{"upstream"},
	)

	clientCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "client_api_requests_total",
		Help:      "A counter for requests from the wrapped upstream client.",
	},
		[]string{"upstream", "code", "method"},
	)

	clientHistVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "client_request_duration_seconds",
		Help:      "A histogram of upstream request latencies.",
		Buckets:   prometheus.DefBuckets,
	},
		[]string{"upstream"},
	)

	summarizeHistVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "summarize_duration_seconds",
		Help:      "A histogram of end-to-end summarization latencies.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 120},
	},
		[]string{"status"},
	)
)

// RegisterServiceMetrics registers all of the metrics in the given registry,
// falling back to the default one.
func RegisterServiceMetrics(registry prometheus.Registerer) {
	ResetServiceMetrics()
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	registry.MustRegister(clientCounter, clientHistVec, clientInFlightGauge, summarizeHistVec)
}

// ResetServiceMetrics resets all metrics. The function is useful for designing self-contained unit tests
// where the count of metrics matters.
func ResetServiceMetrics() {
	clientCounter.Reset()
	clientHistVec.Reset()
	clientInFlightGauge.Reset()
	summarizeHistVec.Reset()
}

// ObserveSummarize records one finished summarization request
func ObserveSummarize(status string, seconds float64) {
	summarizeHistVec.WithLabelValues(status).Observe(seconds)
}

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentClientRoundTripperDuration instruments the provided HTTP client for metering HTTP roundtrip
// duration against the named upstream. The client's existing transport is preserved.
func InstrumentClientRoundTripperDuration(client *http.Client, upstream string) *http.Client {
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	labels := prometheus.Labels{"upstream": upstream}

	// Wrap the RoundTripper with middleware.
	roundTripper := promhttp.InstrumentRoundTripperInFlight(clientInFlightGauge.With(labels),
		promhttp.InstrumentRoundTripperCounter(clientCounter.MustCurryWith(labels),
			promhttp.InstrumentRoundTripperDuration(clientHistVec.MustCurryWith(labels), transport),
		),
	)

	client.Transport = roundTripper

	return client
}
