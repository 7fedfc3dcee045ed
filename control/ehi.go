package control

import (
	"github.com/ftahirops/qplane/model"
	"github.com/ftahirops/qplane/util"
)

// Ecosystem health weights. Performance dominates; scalability is a
// hedge against saturated but still-correct modules.
const (
	ehiConnectivityWeight = 0.2
	ehiPerformanceWeight  = 0.4
	ehiReliabilityWeight  = 0.3
	ehiScalabilityWeight  = 0.1
)

// computeEcosystemHealth scores the latest sample of each module and
// averages the four sub-scores across modules.
func computeEcosystemHealth(now int64, windows map[model.ModuleID][]model.ModuleMetrics) model.EcosystemHealth {
	eco := model.EcosystemHealth{Timestamp: now}
	if len(windows) == 0 {
		return eco
	}

	var conn, perf, rel, scal []float64
	for _, ring := range windows {
		m := ring[len(ring)-1]

		conn = append(conn, util.Clamp01(m.Availability))

		latencyScore := util.Clamp01(1 - m.LatencyP95/5000)
		throughputScore := util.Clamp01(m.Throughput / 100)
		perf = append(perf, (latencyScore+throughputScore)/2)

		rel = append(rel, util.Clamp01(1-m.ErrorRate/0.1))

		scal = append(scal, util.Clamp01(((1-m.CPUUtilization)+(1-m.MemoryUtilization))/2))
	}

	eco.Connectivity = util.Mean(conn)
	eco.Performance = util.Mean(perf)
	eco.Reliability = util.Mean(rel)
	eco.Scalability = util.Mean(scal)
	eco.Overall = ehiConnectivityWeight*eco.Connectivity +
		ehiPerformanceWeight*eco.Performance +
		ehiReliabilityWeight*eco.Reliability +
		ehiScalabilityWeight*eco.Scalability
	eco.Modules = len(windows)
	return eco
}
