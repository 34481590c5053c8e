package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK            = "ok"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInvalidOutput = "invalid_output"
)

var proposalGenerationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "freelancehub",
		Subsystem: "proposal",
		Name:      "generation_duration_seconds",
		Help:      "项目草案生成耗时（秒），按结果分类。",
		Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
	},
	[]string{"outcome"},
)

// ObserveProposalGeneration 记录一次模型调用的耗时与结果。
func ObserveProposalGeneration(outcome string, d time.Duration) {
	proposalGenerationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
