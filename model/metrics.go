package model

// ModuleID and NodeID are short opaque identifiers assigned by the mesh.
type ModuleID = string

// NodeID identifies one compute node in a worker pool.
type NodeID = string

// ModuleMetrics is one observed sample for a module. Times are epoch
// milliseconds from the control-plane clock; utilization fields are 0..1.
type ModuleMetrics struct {
	Module             ModuleID `json:"module"`
	Timestamp          int64    `json:"timestamp"`
	LatencyP50         float64  `json:"latency_p50"`
	LatencyP95         float64  `json:"latency_p95"`
	LatencyP99         float64  `json:"latency_p99"`
	Throughput         float64  `json:"throughput"` // requests per second
	ErrorRate          float64  `json:"error_rate"`
	Availability       float64  `json:"availability"`
	CPUUtilization     float64  `json:"cpu_utilization"`
	MemoryUtilization  float64  `json:"memory_utilization"`
	NetworkUtilization float64  `json:"network_utilization"`
}

// FlowExecutionMetrics is the executor's rollup for one finished flow.
type FlowExecutionMetrics struct {
	FlowID      string  `json:"flow_id"`
	ExecutionID string  `json:"execution_id"`
	DurationMs  float64 `json:"duration_ms"`
	StepCount   int     `json:"step_count"`
	Success     bool    `json:"success"`
	Priority    string  `json:"priority"` // critical, high, normal, low
	Node        NodeID  `json:"node,omitempty"`
}

// ValidationPipelineMetrics is the rollup for one validation pipeline run.
type ValidationPipelineMetrics struct {
	PipelineID string  `json:"pipeline_id"`
	Stage      string  `json:"stage"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// PercentileSnapshot is the derived view of one latency histogram.
type PercentileSnapshot struct {
	Operation string  `json:"operation"`
	Count     int     `json:"count"`
	Sum       float64 `json:"sum"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// ErrorBudget tracks SLO error-budget consumption for one operation.
type ErrorBudget struct {
	Operation          string  `json:"operation"`
	AvailabilityTarget float64 `json:"availability_target"`
	Budget             float64 `json:"budget"`
	ErrorRate          float64 `json:"error_rate"`
	Remaining          float64 `json:"remaining"`
	BurnRate           float64 `json:"burn_rate"`
	TimeToExhaustion   float64 `json:"time_to_exhaustion_min"` // +Inf encoded as -1 in JSON
	SLOCompliant       bool    `json:"slo_compliant"`
	Requests           uint64  `json:"requests"`
	Errors             uint64  `json:"errors"`
}

// CacheMetrics is the aggregator's rollup of cache operation recordings.
type CacheMetrics struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// BurnRateMetrics is the governor's composite pressure score.
type BurnRateMetrics struct {
	Timestamp   int64   `json:"timestamp"`
	CPUBurn     float64 `json:"cpu_burn"`
	MemoryBurn  float64 `json:"memory_burn"`
	LatencyBurn float64 `json:"latency_burn"`
	ErrorBurn   float64 `json:"error_burn"`
	CostBurn    float64 `json:"cost_burn"`
	HourlyCost  float64 `json:"hourly_cost"`
	Overall     float64 `json:"overall"`
}

// CorrelationStrength bins |r| into categories.
type CorrelationStrength string

const (
	StrengthWeak       CorrelationStrength = "weak"
	StrengthModerate   CorrelationStrength = "moderate"
	StrengthStrong     CorrelationStrength = "strong"
	StrengthVeryStrong CorrelationStrength = "very_strong"
)

// CorrelationType is the sign classification of a coefficient.
type CorrelationType string

const (
	CorrelationPositive CorrelationType = "positive"
	CorrelationNegative CorrelationType = "negative"
	CorrelationNeutral  CorrelationType = "neutral"
)

// ImpactDirection says which module drives the other.
type ImpactDirection string

const (
	ImpactAToB          ImpactDirection = "a_to_b"
	ImpactBToA          ImpactDirection = "b_to_a"
	ImpactBidirectional ImpactDirection = "bidirectional"
	ImpactIndependent   ImpactDirection = "independent"
)

// Reverse flips the direction for the mirrored matrix entry.
func (d ImpactDirection) Reverse() ImpactDirection {
	switch d {
	case ImpactAToB:
		return ImpactBToA
	case ImpactBToA:
		return ImpactAToB
	}
	return d
}

// CorrelationAnalysis is one ordered matrix entry for the pair (A, B).
type CorrelationAnalysis struct {
	ModuleA     ModuleID            `json:"module_a"`
	ModuleB     ModuleID            `json:"module_b"`
	Coefficient float64             `json:"coefficient"`
	Strength    CorrelationStrength `json:"strength"`
	Type        CorrelationType     `json:"type"`
	Confidence  float64             `json:"confidence"`
	Direction   ImpactDirection     `json:"direction"`
	LagMs       int64               `json:"lag_ms"`
	Samples     int                 `json:"samples"`
	UpdatedAt   int64               `json:"updated_at"`
}

// EcosystemHealth is the weighted composite over all observed modules.
type EcosystemHealth struct {
	Timestamp    int64   `json:"timestamp"`
	Connectivity float64 `json:"connectivity"`
	Performance  float64 `json:"performance"`
	Reliability  float64 `json:"reliability"`
	Scalability  float64 `json:"scalability"`
	Overall      float64 `json:"overall"`
	Modules      int     `json:"modules"`
}

// CriticalPath is one root-to-leaf traversal of the module topology.
type CriticalPath struct {
	Modules     []ModuleID `json:"modules"`
	PathHealth  float64    `json:"path_health"`
	Bottlenecks []ModuleID `json:"bottlenecks,omitempty"`
}

// ForecastPoint is one predicted sample in a forecast series.
type ForecastPoint struct {
	Timestamp  int64   `json:"timestamp"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Upper      float64 `json:"upper"`
	Lower      float64 `json:"lower"`
}

// AnomalyPrediction estimates an upcoming anomaly for a module.
type AnomalyPrediction struct {
	Module        ModuleID `json:"module"`
	Metric        string   `json:"metric"`
	Probability   float64  `json:"probability"`
	ExpectedInMin float64  `json:"expected_in_min"`
	Severity      string   `json:"severity"` // critical, high, medium, low
	Factors       []string `json:"factors,omitempty"`
}

// CapacityForecast projects resource exhaustion for one module resource.
type CapacityForecast struct {
	Module          ModuleID `json:"module"`
	Resource        string   `json:"resource"`
	CurrentValue    float64  `json:"current_value"`
	ProjectedValue  float64  `json:"projected_value"`
	HorizonMin      int      `json:"horizon_min"`
	ExhaustionInMin float64  `json:"exhaustion_in_min"` // -1 when no exhaustion in horizon
	Recommendation  string   `json:"recommendation,omitempty"`
}

// PausedFlow records a governor-paused flow awaiting resumption.
type PausedFlow struct {
	FlowID   string `json:"flow_id"`
	PausedAt int64  `json:"paused_at"`
	Reason   string `json:"reason"`
	ResumeAt int64  `json:"resume_at,omitempty"` // 0 means manual resume only
}

// DeferredStep records a heavy step deferred to a cold node.
type DeferredStep struct {
	StepID     string `json:"step_id"`
	FlowID     string `json:"flow_id"`
	DeferredAt int64  `json:"deferred_at"`
	Reason     string `json:"reason"`
	ColdNode   NodeID `json:"cold_node,omitempty"`
}

// FlowPriority is a persisted priority assignment for a flow.
type FlowPriority struct {
	FlowID    string `json:"flow_id"`
	Priority  string `json:"priority"`
	UpdatedAt int64  `json:"updated_at"`
}

// FlowCostAnalysis is the persisted per-flow cost breakdown.
type FlowCostAnalysis struct {
	FlowID      string  `json:"flow_id"`
	ComputeCost float64 `json:"compute_cost"`
	NetworkCost float64 `json:"network_cost"`
	StorageCost float64 `json:"storage_cost"`
	TotalCost   float64 `json:"total_cost"`
	Currency    string  `json:"currency"`
	AnalyzedAt  int64   `json:"analyzed_at"`
}

// EscalationRecord is one persisted ladder transition.
type EscalationRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	FromLevel int    `json:"from_level"`
	ToLevel   int    `json:"to_level"`
	Reason    string `json:"reason"`
	Manual    bool   `json:"manual"`
}

// CostPolicyRecord is the persisted definition of one cost policy.
type CostPolicyRecord struct {
	Name        string  `json:"name"`
	Threshold   float64 `json:"threshold"`
	Action      string  `json:"action"`
	CooldownMin int     `json:"cooldown_min"`
	UpdatedAt   int64   `json:"updated_at"`
}
