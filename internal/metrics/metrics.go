// Package metrics exposes pipeline counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbaille/govpulse/internal/consensus"
	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/geo"
	"github.com/pbaille/govpulse/internal/ratelimit"
	"github.com/pbaille/govpulse/internal/refdata"
)

const namespace = "govpulse"

// Metrics owns a registry so several pipelines can coexist in one process
type Metrics struct {
	registry *prometheus.Registry

	layerLatency   *prometheus.HistogramVec
	layerErrors    *prometheus.CounterVec
	rateLimitWaits *prometheus.CounterVec
	parseScore     prometheus.Histogram
	parseAgreement *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	geoOutcomes    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.layerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "layer_latency_seconds",
		Help:      "Extraction layer latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"layer"})
	m.layerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "layer_errors_total",
		Help:      "Extraction layer failures by kind",
	}, []string{"layer", "kind"})
	m.rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_waits_total",
		Help:      "Backoff waits taken by the rate limiter",
	}, []string{"layer"})
	m.parseScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "parse_score",
		Help:      "Overall consensus score of parsed posts",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})
	m.parseAgreement = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_agreement_total",
		Help:      "Parsed posts by agreement level",
	}, []string{"level"})
	m.refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refdata_refresh_total",
		Help:      "Reference data refresh attempts by result",
	}, []string{"result"})
	m.geoOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_resolutions_total",
		Help:      "Location lookups by match kind",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.layerLatency, m.layerErrors, m.rateLimitWaits,
		m.parseScore, m.parseAgreement, m.refreshes, m.geoOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLayer(r domain.ExtractionResult) {
	layer := string(r.Layer)
	m.layerLatency.WithLabelValues(layer).Observe(float64(r.LatencyMs) / 1000)
	if !r.OK() {
		m.layerErrors.WithLabelValues(layer, string(r.Err)).Inc()
	}
}

func (m *Metrics) ObserveParse(res *domain.ConsensusResult) {
	m.parseScore.Observe(res.OverallScore)
	m.parseAgreement.WithLabelValues(string(res.AgreementLevel)).Inc()
}

func (m *Metrics) ObserveWait(layer domain.LayerID, _ time.Duration) {
	m.rateLimitWaits.WithLabelValues(string(layer)).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGeo(outcome string) {
	m.geoOutcomes.WithLabelValues(outcome).Inc()
}

// Instrument attaches the observers to every component that reports.
// Nil components are skipped.
func (m *Metrics) Instrument(engine *consensus.Engine, limiter *ratelimit.Limiter, cache *refdata.Cache, resolver *geo.Resolver) {
	if engine != nil {
		engine.OnLayerResult = m.ObserveLayer
		engine.OnParse = m.ObserveParse
	}
	if limiter != nil {
		limiter.OnWait = m.ObserveWait
	}
	if cache != nil {
		cache.OnResult = m.ObserveRefresh
	}
	if resolver != nil {
		resolver.OnOutcome = m.ObserveGeo
	}
}
