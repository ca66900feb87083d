// MIT License
//
// Copyright (c) 2025 kubernetes-awscreds
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kubernetes-awscreds/awscreds"
)

const metricsNamespace = "awscreds"

// Reload sources.
const (
	ReloadSourceMappings = "mappings"
	ReloadSourceTLS      = "tls"
)

// Admission decisions.
const (
	decisionMutated    = "mutated"
	decisionSkipped    = "skipped"
	decisionInvalid    = "invalid"
	decisionFailedOpen = "failed_open"
)

// Metrics holds the collectors of a process.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	reloads            *prometheus.CounterVec
	admissionDecisions *prometheus.CounterVec

	credentialCacheLatencies *prometheus.SummaryVec
	credentialCacheEvents    *prometheus.CounterVec
	credentialCacheEvictions prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	const credentialCacheMetricsSubsystem = "credential_cache"

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Help:      "Number of HTTP requests per path.",
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
		}, []string{"path"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Help:      "Number of file reloads per source and result.",
			Namespace: metricsNamespace,
			Name:      "reloads_total",
		}, []string{"source", "result"}),
		admissionDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Help:      "Number of pod admission decisions per outcome.",
			Namespace: metricsNamespace,
			Name:      "admission_decisions_total",
		}, []string{"decision"}),
		credentialCacheLatencies: f.NewSummaryVec(prometheus.SummaryOpts{
			Help:      "Credential cache issue latency in seconds per role and status.",
			Namespace: metricsNamespace,
			Subsystem: credentialCacheMetricsSubsystem,
			Name:      "request_latency_seconds",
		}, []string{"role", "status"}),
		credentialCacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Help:      "Credential cache event count per role.",
			Namespace: metricsNamespace,
			Subsystem: credentialCacheMetricsSubsystem,
			Name:      "events_total",
		}, []string{"role", "event"}),
		credentialCacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Help:      "Number of credential cache evictions.",
			Namespace: metricsNamespace,
			Subsystem: credentialCacheMetricsSubsystem,
			Name:      "evictions_total",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the handler exposing the registry.
func (m *Metrics) Handler(logger logrus.FieldLogger) http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: promErrorLogger{logger},
	})
}

// ObserveReload returns a function recording reload outcomes of source.
func (m *Metrics) ObserveReload(source string) func(error) {
	return func(err error) {
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.reloads.WithLabelValues(source, result).Inc()
	}
}

// WatchCacheSize exposes the number of roles held by cache.
func (m *Metrics) WatchCacheSize(cache *awscreds.Cache) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Help:      "Number of roles in the credential cache.",
		Namespace: metricsNamespace,
		Subsystem: "credential_cache",
		Name:      "items",
	}, func() float64 {
		return float64(cache.Len())
	})
}

// CacheObserverFactory returns a factory of per-request cache observers
// for awscreds.WithCacheObserverFactory. The observers log through the
// request logger found in ctx.
func (m *Metrics) CacheObserverFactory(logger logrus.FieldLogger) func(awscreds.Identity, string) awscreds.CacheObserver {
	return func(id awscreds.Identity, roleARN string) awscreds.CacheObserver {
		return &credentialCacheObserver{
			logger: logger.WithFields(logrus.Fields{
				"serviceAccount": logrus.Fields{
					"name":      id.ServiceAccount,
					"namespace": id.Namespace,
				},
				"role": roleARN,
			}),
			roleARN:   roleARN,
			latencies: m.credentialCacheLatencies,
			events:    m.credentialCacheEvents,
			evictions: m.credentialCacheEvictions,
		}
	}
}

type credentialCacheObserver struct {
	logger    logrus.FieldLogger
	roleARN   string
	latencies *prometheus.SummaryVec
	events    *prometheus.CounterVec
	evictions prometheus.Counter
}

func (c *credentialCacheObserver) OnCacheHit() {
	c.events.WithLabelValues(c.roleARN, "hit").Inc()
}

func (c *credentialCacheObserver) OnCacheMiss() {
	c.events.WithLabelValues(c.roleARN, "miss").Inc()
}

func (c *credentialCacheObserver) OnCredentialIssued(latency time.Duration) {
	c.logger.WithField("latency", latency.String()).Info("credentials issued")
	c.latencies.WithLabelValues(c.roleARN, "success").Observe(latency.Seconds())
}

func (c *credentialCacheObserver) OnCredentialEvicted() {
	c.evictions.Inc()
}

func (c *credentialCacheObserver) OnCredentialExpired() {
	c.events.WithLabelValues(c.roleARN, "expired").Inc()
}

func (c *credentialCacheObserver) OnFailedRequest(latency time.Duration) {
	c.latencies.WithLabelValues(c.roleARN, "failure").Observe(latency.Seconds())
}
