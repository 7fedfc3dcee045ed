package model

// Bus payloads for recorded and derived signals. Like the action
// variants, each names its kind for subscriber matching.

type MetricRecorded struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (MetricRecorded) Kind() string { return "metric_recorded" }

type LatencyRecorded struct {
	Operation string  `json:"operation"`
	Ms        float64 `json:"ms"`
}

func (LatencyRecorded) Kind() string { return "latency_recorded" }

type RequestRecorded struct {
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
}

func (RequestRecorded) Kind() string { return "request_recorded" }

type CacheOpRecorded struct {
	Name string  `json:"name"`
	Hit  bool    `json:"hit"`
	RTMs float64 `json:"rt_ms"`
}

func (CacheOpRecorded) Kind() string { return "cache_operation_recorded" }

type AggregationCompleted struct {
	Series     int   `json:"series"`
	Histograms int   `json:"histograms"`
	PrunedPoints int `json:"pruned_points"`
}

func (AggregationCompleted) Kind() string { return "aggregation_completed" }

// CacheEvent covers cached/hit/expired/invalidated/evicted notifications.
type CacheEvent struct {
	Namespace string   `json:"namespace"`
	Key       string   `json:"key"`
	Tags      []string `json:"tags,omitempty"`
	SizeBytes int64    `json:"size_bytes,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

func (CacheEvent) Kind() string { return "cache_event" }

type CleanupCompleted struct {
	Expired  int `json:"expired"`
	Remaining int `json:"remaining"`
}

func (CleanupCompleted) Kind() string { return "cleanup_completed" }

type PrefetchCandidates struct {
	Keys []string `json:"keys"`
}

func (PrefetchCandidates) Kind() string { return "predictive_prefetch" }

type ModuleMetricsUpdated struct {
	Module  ModuleID      `json:"module"`
	Metrics ModuleMetrics `json:"metrics"`
}

func (ModuleMetricsUpdated) Kind() string { return "module_metrics_updated" }

type CorrelationMatrixUpdated struct {
	Pairs     int             `json:"pairs"`
	Ecosystem EcosystemHealth `json:"ecosystem"`
}

func (CorrelationMatrixUpdated) Kind() string { return "correlation_matrix_updated" }

type BurnRateExceeded struct {
	Metrics   BurnRateMetrics `json:"metrics"`
	Threshold float64         `json:"threshold"`
	Dimension string          `json:"dimension"` // which burn crossed the threshold
}

func (BurnRateExceeded) Kind() string { return "burn_rate_exceeded" }

type FlowPausedPayload struct {
	Flow PausedFlow `json:"flow"`
}

func (FlowPausedPayload) Kind() string { return "flow_paused" }

type FlowResumedPayload struct {
	FlowID   string `json:"flow_id"`
	PausedMs int64  `json:"paused_ms"`
}

func (FlowResumedPayload) Kind() string { return "flow_resumed" }

type StepDeferredPayload struct {
	Step DeferredStep `json:"step"`
}

func (StepDeferredPayload) Kind() string { return "step_deferred" }

type DeferredStepExpiredPayload struct {
	StepID string `json:"step_id"`
	AgeMs  int64  `json:"age_ms"`
}

func (DeferredStepExpiredPayload) Kind() string { return "deferred_step_expired" }

type CostPolicyExecuted struct {
	Policy    string  `json:"policy"`
	Threshold float64 `json:"threshold"`
	BurnRate  float64 `json:"burn_rate"`
	Action    string  `json:"action"`
}

func (CostPolicyExecuted) Kind() string { return "cost_control_policy_executed" }

type DegradationTransition struct {
	FromLevel int    `json:"from_level"`
	ToLevel   int    `json:"to_level"`
	LevelName string `json:"level_name"`
	Reason    string `json:"reason"`
	Manual    bool   `json:"manual"`
}

func (DegradationTransition) Kind() string { return "degradation_transition" }

type DegradationActionsExecuted struct {
	Level   int      `json:"level"`
	Actions []string `json:"actions"`
	Failed  []string `json:"failed,omitempty"`
}

func (DegradationActionsExecuted) Kind() string { return "degradation_actions_executed" }

type ManualOverrideExpired struct {
	Level     int   `json:"level"`
	SetAt     int64 `json:"set_at"`
	ExpiredAt int64 `json:"expired_at"`
}

func (ManualOverrideExpired) Kind() string { return "manual_override_expired" }

// PerformanceAnomaly is consumed by the scaler's emergency path.
type PerformanceAnomaly struct {
	Module        ModuleID `json:"module"`
	Metric        string   `json:"metric"`
	Severity      string   `json:"severity"`
	Probability   float64  `json:"probability"`
	ExpectedInMin float64  `json:"expected_in_min"`
}

func (PerformanceAnomaly) Kind() string { return "performance_anomaly" }

type AlertFired struct {
	Name      string  `json:"name"`
	Condition string  `json:"condition"`
	Value     float64 `json:"value"`
}

func (AlertFired) Kind() string { return "alert_fired" }

type ComponentFault struct {
	Component string `json:"component"`
	Detail    string `json:"detail"`
}

func (ComponentFault) Kind() string { return "component_fault" }
