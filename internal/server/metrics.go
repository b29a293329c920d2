package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry     *prometheus.Registry
	sendsTotal   *prometheus.CounterVec
	claimsTotal  *prometheus.CounterVec
	cancelsTotal *prometheus.CounterVec
	minFeeWei    prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinsender_sends_total",
		Help: "Total send operations by mode and outcome",
	}, []string{"mode", "status"})

	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinsender_claims_total",
		Help: "Total claim operations by mode and outcome",
	}, []string{"mode", "status"})

	cancels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinsender_cancels_total",
		Help: "Total cancel operations by mode and outcome",
	}, []string{"mode", "status"})

	minFee := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coinsender_min_fee_wei",
		Help: "Current minimum fee in wei",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(sends, claims, cancels, minFee)

	return &metricsRegistry{
		registry:     r,
		sendsTotal:   sends,
		claimsTotal:  claims,
		cancelsTotal: cancels,
		minFeeWei:    minFee,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incSend(mode, status string) {
	m.sendsTotal.WithLabelValues(mode, status).Inc()
}

func (m *metricsRegistry) incClaim(mode, status string) {
	m.claimsTotal.WithLabelValues(mode, status).Inc()
}

func (m *metricsRegistry) incCancel(mode, status string) {
	m.cancelsTotal.WithLabelValues(mode, status).Inc()
}

func (m *metricsRegistry) setMinFee(wei float64) {
	m.minFeeWei.Set(wei)
}
