package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Constant 1, labelled with version and LLM provider.",
	},
	[]string{"version", "llm_provider"},
)

func SetBuildInfo(version, provider string) {
	buildInfo.WithLabelValues(version, norm(provider)).Set(1)
}
