package bus

// Canonical topics published by the control plane. The executor and the
// dashboard subscribe by these names; renaming one is a breaking change.
const (
	// Aggregator
	TopicMetricRecorded             = "metric_recorded"
	TopicLatencyRecorded            = "latency_recorded"
	TopicRequestRecorded            = "request_recorded"
	TopicCacheOperationRecorded     = "cache_operation_recorded"
	TopicFlowExecutionRecorded      = "flow_execution_recorded"
	TopicValidationPipelineRecorded = "validation_pipeline_recorded"
	TopicAggregationCompleted       = "aggregation_completed"

	// Cache
	TopicFlowCached         = "flow_cached"
	TopicValidationCached   = "validation_cached"
	TopicGenericCached      = "generic_cached"
	TopicCacheHit           = "cache_hit"
	TopicCacheExpired       = "cache_expired"
	TopicCacheInvalidated   = "cache_invalidated"
	TopicCacheEvicted       = "cache_evicted"
	TopicCleanupCompleted   = "cleanup_completed"
	TopicPredictivePrefetch = "predictive_prefetch"

	// Correlation
	TopicModuleMetricsUpdated     = "module_metrics_updated"
	TopicCorrelationMatrixUpdated = "correlation_matrix_updated"

	// Governor
	TopicBurnRateCalculated        = "burn_rate_calculated"
	TopicBurnRateExceeded          = "burn_rate_exceeded"
	TopicLowPriorityFlowsPaused    = "low_priority_flows_paused"
	TopicHeavyStepsDeferred        = "heavy_steps_deferred"
	TopicFlowsReroutedToColdNodes  = "flows_rerouted_to_cold_nodes"
	TopicFlowPaused                = "flow_paused"
	TopicFlowResumed               = "flow_resumed"
	TopicStepDeferred              = "step_deferred"
	TopicDeferredStepExpired       = "deferred_step_expired"
	TopicCostControlPolicyExecuted = "cost_control_policy_executed"

	// Ladder
	TopicDegradationEscalated       = "degradation_escalated"
	TopicDegradationDeescalated     = "degradation_deescalated"
	TopicDegradationActionsExecuted = "degradation_actions_executed"
	TopicManualOverrideExpired      = "manual_override_expired"

	// Scaler
	TopicScaleUpInitiated           = "scale_up_initiated"
	TopicScaleDownInitiated         = "scale_down_initiated"
	TopicLoadRedirectionInitiated   = "load_redirection_initiated"
	TopicOptimizationApplied        = "optimization_applied"
	TopicEmergencyResponseInitiated = "emergency_response_initiated"

	// Consumed signals
	TopicPerformanceAnomaly = "performance_anomaly"
	TopicAlertFired         = "alert_fired"
	TopicComponentFault     = "component_fault"

	// Wildcard subscription key
	TopicWildcard = "*"
)
