package perftrack

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/forgehq/forge/internal/models"
)

// StrategyReport summarizes one PatchStrategy's metrics within a
// reporting window, per spec.md §4.10: "counts, success rate, mean/
// median execution time, fallback rate, and mean file size."
type StrategyReport struct {
	Strategy         models.PatchStrategy
	Count            int
	SuccessRate      float64
	MeanExecTimeMs   float64
	MedianExecTimeMs float64
	FallbackRate     float64
	MeanFileSize     float64
}

// Report is query(since, max) grouped by strategy for one window.
type Report struct {
	Window    time.Duration
	Generated time.Time
	ByStrategy map[models.PatchStrategy]StrategyReport
}

// Report builds a Report over metrics recorded within the last window,
// relative to "now" (the Tracker's own clock, threaded in as a param so
// callers with a fixed notion of "now" -- like a test -- can pass it
// explicitly rather than relying on the wall clock).
func (t *Tracker) Report(now time.Time, window time.Duration) (Report, error) {
	metrics, err := t.Query(now.Add(-window), 0)
	if err != nil {
		return Report{}, err
	}
	return buildReport(metrics, now, window), nil
}

func buildReport(metrics []models.DiffMetric, now time.Time, window time.Duration) Report {
	grouped := map[models.PatchStrategy][]models.DiffMetric{}
	for _, m := range metrics {
		grouped[m.Strategy] = append(grouped[m.Strategy], m)
	}

	out := Report{Window: window, Generated: now, ByStrategy: map[models.PatchStrategy]StrategyReport{}}
	for strategy, ms := range grouped {
		out.ByStrategy[strategy] = summarize(strategy, ms)
	}
	return out
}

func summarize(strategy models.PatchStrategy, ms []models.DiffMetric) StrategyReport {
	n := len(ms)
	r := StrategyReport{Strategy: strategy, Count: n}
	if n == 0 {
		return r
	}

	var successes, fallbacks int
	var sumExec, sumSize float64
	execTimes := make([]int64, 0, n)
	for _, m := range ms {
		if m.Success {
			successes++
		}
		if m.FallbackUsed {
			fallbacks++
		}
		sumExec += float64(m.ExecutionTimeMs)
		sumSize += float64(m.FileSizeBytes)
		execTimes = append(execTimes, m.ExecutionTimeMs)
	}

	sort.Slice(execTimes, func(i, j int) bool { return execTimes[i] < execTimes[j] })

	r.SuccessRate = float64(successes) / float64(n)
	r.FallbackRate = float64(fallbacks) / float64(n)
	r.MeanExecTimeMs = sumExec / float64(n)
	r.MeanFileSize = sumSize / float64(n)
	mid := n / 2
	if n%2 == 1 {
		r.MedianExecTimeMs = float64(execTimes[mid])
	} else {
		r.MedianExecTimeMs = float64(execTimes[mid-1]+execTimes[mid]) / 2
	}
	return r
}

// PrometheusMirror republishes a Report's per-strategy gauges,
// grounded on the teacher's internal/observability/metrics.go
// (promauto-registered Vec metrics). A dedicated prometheus.Registry is
// used rather than the global default registry so repeated construction
// in tests never panics on duplicate registration.
type PrometheusMirror struct {
	registry     *prometheus.Registry
	successRate  *prometheus.GaugeVec
	fallbackRate *prometheus.GaugeVec
	meanExecMs   *prometheus.GaugeVec
	meanFileSize *prometheus.GaugeVec
}

// NewPrometheusMirror builds a mirror on a fresh registry.
func NewPrometheusMirror() *PrometheusMirror {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusMirror{
		registry: reg,
		successRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_patch_success_rate",
			Help: "Fraction of patch invocations that succeeded, by strategy, over the last report window.",
		}, []string{"strategy"}),
		fallbackRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_patch_fallback_rate",
			Help: "Fraction of patch invocations that used the Auto fallback, by strategy, over the last report window.",
		}, []string{"strategy"}),
		meanExecMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_patch_mean_exec_ms",
			Help: "Mean patch execution time in milliseconds, by strategy, over the last report window.",
		}, []string{"strategy"}),
		meanFileSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_patch_mean_file_size_bytes",
			Help: "Mean patched file size in bytes, by strategy, over the last report window.",
		}, []string{"strategy"}),
	}
}

// Registry exposes the underlying registry for an HTTP /metrics handler.
func (p *PrometheusMirror) Registry() *prometheus.Registry { return p.registry }

// Apply republishes every strategy in report.
func (p *PrometheusMirror) Apply(report Report) {
	for strategy, s := range report.ByStrategy {
		label := string(strategy)
		p.successRate.WithLabelValues(label).Set(s.SuccessRate)
		p.fallbackRate.WithLabelValues(label).Set(s.FallbackRate)
		p.meanExecMs.WithLabelValues(label).Set(s.MeanExecTimeMs)
		p.meanFileSize.WithLabelValues(label).Set(s.MeanFileSize)
	}
}
