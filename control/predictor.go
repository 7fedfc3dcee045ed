package control

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
	"github.com/ftahirops/qplane/util"
)

// Predictor is the pluggable forecasting surface. Implementations must
// return forecastPoints equidistant points per forecast and honor the
// (module, metric, horizon) cache contract.
type Predictor interface {
	Forecast(module model.ModuleID, metric string, horizonMin int) ([]model.ForecastPoint, error)
	PredictAnomalies(module model.ModuleID, horizonMin int) ([]model.AnomalyPrediction, error)
	Capacity(module model.ModuleID, resource string, horizonMin int) (model.CapacityForecast, error)
	Train(force bool) int
}

// HistorySource supplies per-module sample history. The correlation
// engine satisfies this.
type HistorySource interface {
	History(module model.ModuleID) []model.ModuleMetrics
	Modules() []model.ModuleID
}

const forecastPoints = 20

// anomalyLimits are the breach lines the anomaly predictor projects
// against, matching the path bottleneck rules.
var anomalyLimits = map[string]float64{
	"cpu_utilization":    0.9,
	"memory_utilization": 0.9,
	"error_rate":         0.05,
	"latency_p95":        2000,
}

// ModelStatus describes one registered model for status surfaces.
type ModelStatus struct {
	Name         string  `json:"name"`
	TargetMetric string  `json:"target_metric"`
	Accuracy     float64 `json:"accuracy"`
	TrainedAt    int64   `json:"trained_at"`
}

type predictorModel struct {
	name         string
	targetMetric string
	accuracy     float64
	trainedAt    int64
}

type forecastKey struct {
	module  model.ModuleID
	metric  string
	horizon int
}

type cachedForecast struct {
	points    []model.ForecastPoint
	expiresAt int64
}

// TrendPredictor fits a least-squares line per metric and extrapolates.
// It is the stock Predictor; alternatives plug in behind the interface.
type TrendPredictor struct {
	mu     sync.Mutex
	clock  bus.Clock
	cfg    config.PredictorConfig
	source HistorySource

	models map[string]*predictorModel
	cache  map[forecastKey]cachedForecast
}

func NewTrendPredictor(clock bus.Clock, cfg config.PredictorConfig, source HistorySource) *TrendPredictor {
	now := clock.Now()
	models := map[string]*predictorModel{
		"latency_trend":    {name: "latency_trend", targetMetric: "latency_p95", accuracy: 0.75, trainedAt: now},
		"throughput_trend": {name: "throughput_trend", targetMetric: "throughput", accuracy: 0.72, trainedAt: now},
		"error_trend":      {name: "error_trend", targetMetric: "error_rate", accuracy: 0.70, trainedAt: now},
		"resource_trend":   {name: "resource_trend", targetMetric: "resource_utilization", accuracy: 0.80, trainedAt: now},
	}
	return &TrendPredictor{
		clock:  clock,
		cfg:    cfg,
		source: source,
		models: models,
		cache:  make(map[forecastKey]cachedForecast),
	}
}

// Forecast projects one metric forward, returning forecastPoints
// equidistant points spanning the horizon. Results are cached per
// (module, metric, horizon) until the configured TTL.
func (p *TrendPredictor) Forecast(module model.ModuleID, metric string, horizonMin int) ([]model.ForecastPoint, error) {
	if module == "" {
		return nil, NewError(ErrCodeInvalidInput, "empty module")
	}
	if horizonMin <= 0 {
		return nil, NewError(ErrCodeInvalidInput, "horizon %d min, want > 0", horizonMin)
	}
	now := p.clock.Now()
	key := forecastKey{module, metric, horizonMin}

	p.mu.Lock()
	if hit, ok := p.cache[key]; ok && hit.expiresAt > now {
		pts := append([]model.ForecastPoint(nil), hit.points...)
		p.mu.Unlock()
		return pts, nil
	}
	p.mu.Unlock()

	hist := p.source.History(module)
	values, timestamps, err := extractSeries(hist, metric)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "module %s: no samples for %s", module, metric)
	}

	mdl := p.selectModel(metric)
	pts := projectSeries(values, timestamps, now, horizonMin, mdl.accuracy)

	p.mu.Lock()
	p.cache[key] = cachedForecast{
		points:    append([]model.ForecastPoint(nil), pts...),
		expiresAt: now + p.cfg.ForecastCacheTTL().Milliseconds(),
	}
	p.mu.Unlock()
	return pts, nil
}

// projectSeries extrapolates the fitted trend over the horizon,
// anchored at now. The sample index advances by the observed mean
// interval so irregular scrapes still map onto wall time.
func projectSeries(values []float64, timestamps []int64, now int64, horizonMin int, accuracy float64) []model.ForecastPoint {
	a, b := util.LinearTrend(values)
	sd := util.Stddev(values)

	n := len(values)
	meanIntervalMs := float64(60_000)
	if n >= 2 {
		span := timestamps[n-1] - timestamps[0]
		if span > 0 {
			meanIntervalMs = float64(span) / float64(n-1)
		}
	}
	lastTs := now
	if n > 0 && timestamps[n-1] > 0 {
		lastTs = timestamps[n-1]
	}

	horizonMs := float64(horizonMin) * 60_000
	stepMs := horizonMs / forecastPoints

	pts := make([]model.ForecastPoint, 0, forecastPoints)
	for i := 1; i <= forecastPoints; i++ {
		ts := now + int64(float64(i)*stepMs)
		idx := float64(n-1) + float64(ts-lastTs)/meanIntervalMs
		v := a + b*idx
		// Confidence decays linearly to half the model accuracy at the
		// far edge of the horizon.
		conf := accuracy * (1 - 0.5*float64(i)/forecastPoints)
		pts = append(pts, model.ForecastPoint{
			Timestamp:  ts,
			Value:      v,
			Confidence: util.Clamp01(conf),
			Upper:      v + 1.96*sd,
			Lower:      v - 1.96*sd,
		})
	}
	return pts
}

// PredictAnomalies projects each watched metric and reports the ones
// trending over their breach line inside the horizon.
func (p *TrendPredictor) PredictAnomalies(module model.ModuleID, horizonMin int) ([]model.AnomalyPrediction, error) {
	if module == "" {
		return nil, NewError(ErrCodeInvalidInput, "empty module")
	}
	if horizonMin <= 0 {
		return nil, NewError(ErrCodeInvalidInput, "horizon %d min, want > 0", horizonMin)
	}

	var out []model.AnomalyPrediction
	for _, metric := range []string{"cpu_utilization", "memory_utilization", "error_rate", "latency_p95"} {
		limit := anomalyLimits[metric]
		pts, err := p.Forecast(module, metric, horizonMin)
		if err != nil {
			continue // cold metric, nothing to project
		}

		peak := pts[0].Value
		crossAt := -1
		for i, pt := range pts {
			if pt.Value > peak {
				peak = pt.Value
			}
			if crossAt < 0 && pt.Value >= limit {
				crossAt = i
			}
		}
		probability := util.Clamp01(peak / limit)
		if probability < 0.3 {
			continue
		}

		expected := float64(horizonMin)
		if crossAt >= 0 {
			expected = float64(crossAt+1) * float64(horizonMin) / forecastPoints
		}

		out = append(out, model.AnomalyPrediction{
			Module:        module,
			Metric:        metric,
			Probability:   probability,
			ExpectedInMin: expected,
			Severity:      anomalySeverity(probability),
			Factors: []string{
				fmt.Sprintf("%s projected peak %.3f against limit %.3f", metric, peak, limit),
			},
		})
	}
	return out, nil
}

// anomalySeverity buckets probability into the coarse source bands.
func anomalySeverity(probability float64) string {
	switch {
	case probability > 0.9:
		return "critical"
	case probability > 0.7:
		return "high"
	case probability > 0.5:
		return "medium"
	default:
		return "low"
	}
}

// Capacity projects one resource's utilization and estimates time to
// exhaustion at the current slope.
func (p *TrendPredictor) Capacity(module model.ModuleID, resource string, horizonMin int) (model.CapacityForecast, error) {
	metric, ok := map[string]string{
		"cpu":     "cpu_utilization",
		"memory":  "memory_utilization",
		"network": "network_utilization",
	}[resource]
	if !ok {
		return model.CapacityForecast{}, NewError(ErrCodeInvalidInput, "unknown resource %q", resource)
	}

	hist := p.source.History(module)
	values, _, err := extractSeries(hist, metric)
	if err != nil {
		return model.CapacityForecast{}, err
	}
	if len(values) == 0 {
		return model.CapacityForecast{}, NewError(ErrCodeInvalidInput, "module %s: no samples for %s", module, resource)
	}

	pts, err := p.Forecast(module, metric, horizonMin)
	if err != nil {
		return model.CapacityForecast{}, err
	}

	current := values[len(values)-1]
	projected := util.Clamp01(pts[len(pts)-1].Value)

	cf := model.CapacityForecast{
		Module:          module,
		Resource:        resource,
		CurrentValue:    current,
		ProjectedValue:  projected,
		HorizonMin:      horizonMin,
		ExhaustionInMin: -1,
	}

	// Per-minute slope from the fitted forecast, not the raw samples.
	slopePerMin := (pts[len(pts)-1].Value - pts[0].Value) / float64(horizonMin)
	if slopePerMin > 0 && current < 1 {
		cf.ExhaustionInMin = (1 - current) / slopePerMin
	}

	switch {
	case projected > 0.9:
		cf.Recommendation = "scale up before projected saturation"
	case projected < 0.3:
		cf.Recommendation = "scale down opportunity"
	default:
		cf.Recommendation = "capacity adequate over horizon"
	}
	return cf, nil
}

// Train retrains models that are stale or below the accuracy floor.
// Accuracy is re-estimated by backtesting the trend fit on the last
// fifth of each module's series. Returns the number retrained.
func (p *TrendPredictor) Train(force bool) int {
	now := p.clock.Now()
	staleAfter := p.cfg.RetrainInterval().Milliseconds()

	retrained := 0
	p.mu.Lock()
	due := make([]*predictorModel, 0, len(p.models))
	for _, m := range p.models {
		if force || m.accuracy < 0.7 || now-m.trainedAt > staleAfter {
			due = append(due, m)
		}
	}
	p.mu.Unlock()

	for _, m := range due {
		acc := p.backtest(m.targetMetric)
		p.mu.Lock()
		if acc > 0 {
			m.accuracy = acc
		}
		m.trainedAt = now
		p.mu.Unlock()
		retrained++
	}
	return retrained
}

// backtest fits on the first 80% of each module's series and scores the
// prediction error on the remaining 20%. Zero means no usable data.
func (p *TrendPredictor) backtest(metric string) float64 {
	var scores []float64
	for _, module := range p.source.Modules() {
		values, _, err := extractSeries(p.source.History(module), metric)
		if err != nil || len(values) < 10 {
			continue
		}
		cut := len(values) * 4 / 5
		train, test := values[:cut], values[cut:]
		a, b := util.LinearTrend(train)

		var absErr, scale float64
		for i, actual := range test {
			predicted := a + b*float64(cut+i)
			absErr += abs(actual - predicted)
			scale += abs(actual)
		}
		if scale == 0 {
			scores = append(scores, 1)
			continue
		}
		scores = append(scores, util.Clamp01(1-absErr/scale))
	}
	if len(scores) == 0 {
		return 0
	}
	return util.Mean(scores)
}

// Models reports registered model status sorted by name.
func (p *TrendPredictor) Models() []ModelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ModelStatus, 0, len(names))
	for _, name := range names {
		m := p.models[name]
		out = append(out, ModelStatus{
			Name: m.name, TargetMetric: m.targetMetric, Accuracy: m.accuracy, TrainedAt: m.trainedAt,
		})
	}
	return out
}

// selectModel picks the highest-accuracy model for the metric, falling
// back to the resource model.
func (p *TrendPredictor) selectModel(metric string) *predictorModel {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *predictorModel
	for _, m := range p.models {
		if m.targetMetric != metric {
			continue
		}
		if best == nil || m.accuracy > best.accuracy {
			best = m
		}
	}
	if best != nil {
		return best
	}
	for _, m := range p.models {
		if m.targetMetric == "resource_utilization" {
			if best == nil || m.accuracy > best.accuracy {
				best = m
			}
		}
	}
	if best != nil {
		return best
	}
	return &predictorModel{name: "fallback", targetMetric: metric, accuracy: 0.5}
}

// extractSeries pulls one named metric out of the sample history.
func extractSeries(hist []model.ModuleMetrics, metric string) ([]float64, []int64, error) {
	values := make([]float64, 0, len(hist))
	timestamps := make([]int64, 0, len(hist))
	for _, m := range hist {
		v, ok := sampleMetric(m, metric)
		if !ok {
			return nil, nil, NewError(ErrCodeInvalidInput, "unknown metric %q", metric)
		}
		values = append(values, v)
		timestamps = append(timestamps, m.Timestamp)
	}
	return values, timestamps, nil
}

func sampleMetric(m model.ModuleMetrics, metric string) (float64, bool) {
	switch metric {
	case "latency_p50":
		return m.LatencyP50, true
	case "latency_p95":
		return m.LatencyP95, true
	case "latency_p99":
		return m.LatencyP99, true
	case "throughput":
		return m.Throughput, true
	case "error_rate":
		return m.ErrorRate, true
	case "availability":
		return m.Availability, true
	case "cpu_utilization":
		return m.CPUUtilization, true
	case "memory_utilization":
		return m.MemoryUtilization, true
	case "network_utilization":
		return m.NetworkUtilization, true
	case "resource_utilization":
		return (m.CPUUtilization + m.MemoryUtilization) / 2, true
	}
	return 0, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
