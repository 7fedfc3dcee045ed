package model

// Action payloads are tagged variants: every payload names its kind so
// subscribers can match on the discriminator instead of inspecting maps.

// Action is implemented by every action variant. Kind doubles as the
// bus topic the executor subscribes on.
type Action interface {
	Kind() string
}

// PauseFlowsAction suspends flows of a priority class, up to MaxCount.
type PauseFlowsAction struct {
	Priority   string `json:"priority"`
	MaxCount   int    `json:"max_count"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (PauseFlowsAction) Kind() string { return "pause_flows" }

// DeferStepsAction moves eligible steps onto cold nodes.
type DeferStepsAction struct {
	HeavyOnly         bool   `json:"heavy_only"`
	ColdNodesRequired bool   `json:"cold_nodes_required"`
	Reason            string `json:"reason,omitempty"`
}

func (DeferStepsAction) Kind() string { return "defer_steps" }

// ReduceParallelismAction lowers worker concurrency by a percentage.
type ReduceParallelismAction struct {
	Percentage int `json:"percentage"`
}

func (ReduceParallelismAction) Kind() string { return "reduce_parallelism" }

// DisableFeaturesAction turns off the named engine features.
type DisableFeaturesAction struct {
	Features []string `json:"features"`
}

func (DisableFeaturesAction) Kind() string { return "disable_features" }

// ReduceModuleCallsAction rate-limits calls into the named modules.
type ReduceModuleCallsAction struct {
	Modules    []ModuleID `json:"modules"`
	Percentage int        `json:"percentage"`
}

func (ReduceModuleCallsAction) Kind() string { return "reduce_module_calls" }

// EnableCachingAction switches the cache into aggressive mode.
type EnableCachingAction struct {
	Aggressive    bool    `json:"aggressive"`
	TTLMultiplier float64 `json:"ttl_multiplier"`
}

func (EnableCachingAction) Kind() string { return "enable_caching" }

// LimitConnectionsAction caps concurrent inbound connections.
type LimitConnectionsAction struct {
	MaxConnections int `json:"max_connections"`
}

func (LimitConnectionsAction) Kind() string { return "limit_connections" }

// ScaleAction asks the mesh to resize a worker pool.
type ScaleAction struct {
	Policy       string  `json:"policy"`
	Direction    string  `json:"direction"` // scale_up or scale_down
	CurrentNodes int     `json:"current_nodes"`
	TargetNodes  int     `json:"target_nodes"`
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
}

func (ScaleAction) Kind() string { return "scale" }

// RedirectLoadAction shifts a share of traffic to a target pool.
type RedirectLoadAction struct {
	Rule       string  `json:"rule"`
	Target     string  `json:"target"`
	Percentage float64 `json:"percentage"`
	Reason     string  `json:"reason,omitempty"`
}

func (RedirectLoadAction) Kind() string { return "redirect_load" }

// OptimizeResourcesAction carries a fired optimization trigger's parameters.
type OptimizeResourcesAction struct {
	Trigger    string            `json:"trigger"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (OptimizeResourcesAction) Kind() string { return "optimize_resources" }

// EmergencyResponseAction marks the scaler's critical-anomaly path.
type EmergencyResponseAction struct {
	Module  ModuleID `json:"module"`
	Steps   []string `json:"steps"`
	Elapsed int64    `json:"elapsed_ms"`
}

func (EmergencyResponseAction) Kind() string { return "emergency_response" }
