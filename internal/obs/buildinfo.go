package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authgate_build_info",
			Help: "Constant 1, labelled with the running authgate build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes the build labels. Blank values are reported as
// "unknown".
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(orUnknown(version), orUnknown(commit), runtime.Version()).Set(1)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
