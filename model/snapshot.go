package model

// LadderStatus is the read-only view of the degradation state machine.
type LadderStatus struct {
	CurrentLevel    int    `json:"current_level"`
	LevelName       string `json:"level_name"`
	LastEscalation  int64  `json:"last_escalation,omitempty"`
	LastTransition  int64  `json:"last_transition,omitempty"`
	ManualOverride  bool   `json:"manual_override"`
	OverrideExpires int64  `json:"override_expires,omitempty"`
	Transitions     int    `json:"transitions"`
}

// ScalerStatus summarizes the scaler registries and recent decisions.
type ScalerStatus struct {
	Policies      int            `json:"policies"`
	Rules         int            `json:"rules"`
	Triggers      int            `json:"triggers"`
	NodesByPool   map[string]int `json:"nodes_by_pool,omitempty"`
	RecentActions []ScaleAction  `json:"recent_actions,omitempty"`
}

// CacheStats is the cache's accounting snapshot.
type CacheStats struct {
	Entries       int            `json:"entries"`
	SizeBytes     int64          `json:"size_bytes"`
	MaxSizeBytes  int64          `json:"max_size_bytes"`
	MaxEntries    int            `json:"max_entries"`
	Hits          uint64         `json:"hits"`
	Misses        uint64         `json:"misses"`
	HitRate       float64        `json:"hit_rate"`
	Evictions     uint64         `json:"evictions"`
	Expirations   uint64         `json:"expirations"`
	Invalidations uint64         `json:"invalidations"`
	ByNamespace   map[string]int `json:"by_namespace,omitempty"`
}

// AlertState is one threshold rule's most recent evaluation.
type AlertState struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Firing    bool   `json:"firing"`
	LastFired int64  `json:"last_fired,omitempty"`
	Count     uint64 `json:"count"`
}

// ControlSnapshot is the assembled state pushed to the dashboard and TUI.
// Every field is a copy; holders never share memory with component state.
type ControlSnapshot struct {
	Timestamp     int64                 `json:"timestamp"`
	Ecosystem     EcosystemHealth       `json:"ecosystem"`
	BurnRate      BurnRateMetrics       `json:"burn_rate"`
	Ladder        LadderStatus          `json:"ladder"`
	Scaler        ScalerStatus          `json:"scaler"`
	Modules       []ModuleMetrics       `json:"modules,omitempty"`
	Correlations  []CorrelationAnalysis `json:"correlations,omitempty"`
	Paths         []CriticalPath        `json:"paths,omitempty"`
	Budgets       []ErrorBudget         `json:"budgets,omitempty"`
	Cache         CacheStats            `json:"cache"`
	Alerts        []AlertState          `json:"alerts,omitempty"`
	PausedFlows   int                   `json:"paused_flows"`
	DeferredSteps int                   `json:"deferred_steps"`
	HourlyCost    float64               `json:"hourly_cost"`
}
