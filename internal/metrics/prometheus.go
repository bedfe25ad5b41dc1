package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry       *prom.Registry
	buildDuration  prom.Histogram
	buildOutcome   *prom.CounterVec
	commandResults *prom.CounterVec
	batchAdded     prom.Histogram
	batchRemoved   prom.Histogram
	gitOps         *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metric set on reg
// (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "sitepress",
		Name:      "build_duration_seconds",
		Help:      "Total build duration",
		Buckets:   prom.DefBuckets,
	})
	pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "sitepress",
		Name:      "build_outcomes_total",
		Help:      "Build outcomes by final status",
	}, []string{"outcome"})
	pr.commandResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "sitepress",
		Name:      "command_results_total",
		Help:      "Command invocation results",
	}, []string{"command", "success"})
	pr.batchAdded = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "sitepress",
		Name:      "change_batch_added",
		Help:      "Added/changed paths per flushed change batch",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
	pr.batchRemoved = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "sitepress",
		Name:      "change_batch_removed",
		Help:      "Removed paths per flushed change batch",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
	pr.gitOps = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "sitepress",
		Name:      "git_operations_total",
		Help:      "Repository operations by kind and result",
	}, []string{"op", "success"})
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.commandResults, pr.batchAdded, pr.batchRemoved, pr.gitOps)
	return pr
}

// Handler exposes the registry for an HTTP /metrics endpoint.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCommandResult(command string, success bool) {
	p.commandResults.WithLabelValues(command, strconv.FormatBool(success)).Inc()
}

func (p *PrometheusRecorder) ObserveBatchSize(added, removed int) {
	p.batchAdded.Observe(float64(added))
	p.batchRemoved.Observe(float64(removed))
}

func (p *PrometheusRecorder) IncGitOp(op string, success bool) {
	p.gitOps.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}
