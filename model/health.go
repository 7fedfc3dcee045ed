package model

// ModuleHealth classifies one module sample.
type ModuleHealth string

const (
	HealthHealthy  ModuleHealth = "healthy"
	HealthWarning  ModuleHealth = "warning"
	HealthCritical ModuleHealth = "critical"
	HealthUnknown  ModuleHealth = "unknown"
)

// Score maps the classification onto the ordered scale used for path
// health: healthy 1.0, warning 0.7, critical 0.3, unknown 0.5.
func (h ModuleHealth) Score() float64 {
	switch h {
	case HealthHealthy:
		return 1.0
	case HealthWarning:
		return 0.7
	case HealthCritical:
		return 0.3
	}
	return 0.5
}

// HealthFromMetrics classifies a sample worst-first.
// Critical: error > 5% OR p95 > 2s OR availability < 95% OR cpu/mem > 90%.
// Warning: error > 1% OR p95 > 1s OR availability < 99% OR cpu/mem > 75%.
// A sample with no availability, throughput, or latency signal is
// unknown rather than critical.
func HealthFromMetrics(m ModuleMetrics) ModuleHealth {
	if m.Availability == 0 && m.Throughput == 0 && m.LatencyP95 == 0 {
		return HealthUnknown
	}
	if m.ErrorRate > 0.05 || m.LatencyP95 > 2000 || m.Availability < 0.95 ||
		m.CPUUtilization > 0.9 || m.MemoryUtilization > 0.9 {
		return HealthCritical
	}
	if m.ErrorRate > 0.01 || m.LatencyP95 > 1000 || m.Availability < 0.99 ||
		m.CPUUtilization > 0.75 || m.MemoryUtilization > 0.75 {
		return HealthWarning
	}
	return HealthHealthy
}
