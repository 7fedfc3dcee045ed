package control

import (
	"math"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/model"
)

// simProfile gives each simulated module its own baseline and swing so
// the correlation matrix has structure to find.
type simProfile struct {
	module    model.ModuleID
	baseP95   float64 // ms
	swingP95  float64
	baseTput  float64 // flows/min
	swingTput float64
	baseErr   float64
	baseCPU   float64
	phase     float64 // radians, staggers the modules
	periodMin float64
}

// Simulator synthesizes module rollups on a fixed waveform so the
// plane has something to chew on without a live executor. The same
// clock always produces the same series.
type Simulator struct {
	clock    bus.Clock
	profiles []simProfile
}

// NewSimulator builds the stock seven-module load shape.
func NewSimulator(clock bus.Clock) *Simulator {
	return &Simulator{
		clock: clock,
		profiles: []simProfile{
			{module: "qgate", baseP95: 120, swingP95: 60, baseTput: 900, swingTput: 300, baseErr: 0.004, baseCPU: 0.35, phase: 0, periodMin: 20},
			{module: "qflow", baseP95: 450, swingP95: 350, baseTput: 850, swingTput: 280, baseErr: 0.010, baseCPU: 0.55, phase: 0.4, periodMin: 20},
			{module: "qindex", baseP95: 300, swingP95: 220, baseTput: 400, swingTput: 150, baseErr: 0.008, baseCPU: 0.45, phase: 0.9, periodMin: 20},
			{module: "qlock", baseP95: 40, swingP95: 25, baseTput: 1200, swingTput: 350, baseErr: 0.002, baseCPU: 0.25, phase: 1.3, periodMin: 20},
			{module: "qexec", baseP95: 700, swingP95: 500, baseTput: 600, swingTput: 220, baseErr: 0.015, baseCPU: 0.60, phase: 0.6, periodMin: 20},
			{module: "qcache", baseP95: 15, swingP95: 10, baseTput: 2500, swingTput: 700, baseErr: 0.001, baseCPU: 0.30, phase: 1.7, periodMin: 20},
			{module: "qstore", baseP95: 90, swingP95: 70, baseTput: 800, swingTput: 250, baseErr: 0.005, baseCPU: 0.40, phase: 1.1, periodMin: 20},
		},
	}
}

// Tick emits one rollup per module at the current clock time.
func (s *Simulator) Tick() []model.ModuleMetrics {
	now := s.clock.Now()
	out := make([]model.ModuleMetrics, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, s.sample(p, now))
	}
	return out
}

// Feed runs one tick straight into the runtime's ingest path.
func (s *Simulator) Feed(r *Runtime) {
	for _, m := range s.Tick() {
		r.IngestModuleMetrics(m)
	}
}

func (s *Simulator) sample(p simProfile, nowMs int64) model.ModuleMetrics {
	minutes := float64(nowMs) / 60000.0
	wave := math.Sin(2*math.Pi*minutes/p.periodMin + p.phase)
	// A slower secondary wave keeps the series from being a pure tone.
	drift := 0.3 * math.Sin(2*math.Pi*minutes/(p.periodMin*3.7)+p.phase*2)

	load := (wave + drift + 1.3) / 2.6 // 0..1
	p95 := p.baseP95 + p.swingP95*load
	tput := p.baseTput + p.swingTput*load
	errRate := p.baseErr * (1 + 2*load)
	cpu := clamp01(p.baseCPU + 0.35*load)

	return model.ModuleMetrics{
		Module:             p.module,
		Timestamp:          nowMs,
		LatencyP50:         p95 * 0.45,
		LatencyP95:         p95,
		LatencyP99:         p95 * 1.6,
		Throughput:         tput,
		ErrorRate:          errRate,
		Availability:       clamp01(1 - errRate),
		CPUUtilization:     cpu,
		MemoryUtilization:  clamp01(cpu * 0.85),
		NetworkUtilization: clamp01(tput / 4000),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
