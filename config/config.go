package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable of the control plane. Durations are
// serialized as integer units named by the field suffix so a hand-edited
// file stays readable.
type Config struct {
	ListenAddr       string `json:"listen_addr"`
	DataDir          string `json:"data_dir"`
	PolicyBundlePath string `json:"policy_bundle_path,omitempty"`

	Metrics     MetricsConfig     `json:"metrics"`
	Cache       CacheConfig       `json:"cache"`
	Correlation CorrelationConfig `json:"correlation"`
	BurnRate    BurnRateConfig    `json:"burn_rate"`
	Ladder      LadderConfig      `json:"ladder"`
	Scaler      ScalerConfig      `json:"scaler"`
	Predictor   PredictorConfig   `json:"predictor"`
	Dashboard   DashboardConfig   `json:"dashboard"`
	Store       StoreConfig       `json:"store"`
}

type MetricsConfig struct {
	RetentionHours  int     `json:"retention_hours"`
	AggregationSec  int     `json:"aggregation_sec"`
	MaxSeriesPoints int     `json:"max_series_points"`
	ErrorBudgetDays int     `json:"error_budget_days"`
	SLOAvailability float64 `json:"slo_availability"`
	SLOLatencyP99Ms float64 `json:"slo_latency_p99_ms"`
	SLOErrorRate    float64 `json:"slo_error_rate"`
}

type CacheConfig struct {
	MaxSizeBytes       int64 `json:"max_size_bytes"`
	MaxEntries         int   `json:"max_entries"`
	DefaultTTLMin      int   `json:"default_ttl_min"`
	CleanupIntervalMin int   `json:"cleanup_interval_min"`
	EnablePredictive   bool  `json:"enable_predictive"`
	EnableCompression  bool  `json:"enable_compression"`
}

type CorrelationConfig struct {
	WindowMin     int      `json:"window_min"`
	MinDataPoints int      `json:"min_data_points"`
	UpdateSec     int      `json:"update_sec"`
	SeedModules   []string `json:"seed_modules"`
}

type CostLimits struct {
	Hourly  float64 `json:"hourly"`
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

type BurnRateConfig struct {
	IntervalSec         int        `json:"interval_sec"`
	MaxThreshold        float64    `json:"max_threshold"`
	GracefulDegradation bool       `json:"graceful_degradation"`
	CostLimits          CostLimits `json:"cost_limits"`
	MaxDeferralMin      int        `json:"max_deferral_min"`
}

type LadderConfig struct {
	EscalationCooldownSec int `json:"escalation_cooldown_sec"`
	DeEscalationDelaySec  int `json:"de_escalation_delay_sec"`
	ManualOverrideMin     int `json:"manual_override_min"`
}

type ScalerConfig struct {
	MonitoringSec        int     `json:"monitoring_sec"`
	ScalingCooldownSec   int     `json:"scaling_cooldown_sec"`
	MaxConcurrentActions int     `json:"max_concurrent_actions"`
	PerformanceBurn      float64 `json:"performance_burn_threshold"`
}

type PredictorConfig struct {
	RetrainIntervalMin   int `json:"retrain_interval_min"`
	ForecastCacheMin     int `json:"forecast_cache_min"`
	ValidationTimeoutSec int `json:"validation_timeout_sec"`
}

type DashboardConfig struct {
	HeartbeatSec int `json:"heartbeat_sec"`
	HistorySize  int `json:"history_size"`
}

type StoreConfig struct {
	Driver string `json:"driver"` // sqlite or postgres
	DSN    string `json:"dsn,omitempty"`
}

// Default returns the documented defaults for every subsystem.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:8620",
		DataDir:    defaultDataDir(),
		Metrics: MetricsConfig{
			RetentionHours:  24,
			AggregationSec:  60,
			MaxSeriesPoints: 10000,
			ErrorBudgetDays: 30,
			SLOAvailability: 0.999,
			SLOLatencyP99Ms: 2000,
			SLOErrorRate:    0.001,
		},
		Cache: CacheConfig{
			MaxSizeBytes:       100 * 1024 * 1024,
			MaxEntries:         10000,
			DefaultTTLMin:      30,
			CleanupIntervalMin: 5,
			EnablePredictive:   true,
			EnableCompression:  false,
		},
		Correlation: CorrelationConfig{
			WindowMin:     60,
			MinDataPoints: 30,
			UpdateSec:     60,
			SeedModules:   []string{"qflow", "qindex", "qlock"},
		},
		BurnRate: BurnRateConfig{
			IntervalSec:         30,
			MaxThreshold:        0.9,
			GracefulDegradation: true,
			CostLimits:          CostLimits{Hourly: 100, Daily: 2000, Monthly: 50000},
			MaxDeferralMin:      30,
		},
		Ladder: LadderConfig{
			EscalationCooldownSec: 120,
			DeEscalationDelaySec:  300,
			ManualOverrideMin:     30,
		},
		Scaler: ScalerConfig{
			MonitoringSec:        30,
			ScalingCooldownSec:   300,
			MaxConcurrentActions: 3,
			PerformanceBurn:      0.8,
		},
		Predictor: PredictorConfig{
			RetrainIntervalMin:   60,
			ForecastCacheMin:     5,
			ValidationTimeoutSec: 30,
		},
		Dashboard: DashboardConfig{
			HeartbeatSec: 30,
			HistorySize:  300,
		},
		Store: StoreConfig{Driver: "sqlite"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "qplane")
}

// Path returns ~/.config/qplane/config.json (or XDG_CONFIG_HOME).
// Returns empty string if home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "qplane", "config.json")
}

// Load loads config from disk; returns defaults on error.
func Load() Config {
	cfg := Default()
	p := Path()
	if p == "" {
		return cfg
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("qplane: warning: config parse error: %v", err)
	}
	return cfg
}

// Save writes the config to disk.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Duration accessors keep call sites free of unit arithmetic.

func (c MetricsConfig) Retention() time.Duration { return time.Duration(c.RetentionHours) * time.Hour }
func (c MetricsConfig) AggregationInterval() time.Duration {
	return time.Duration(c.AggregationSec) * time.Second
}
func (c CacheConfig) DefaultTTL() time.Duration { return time.Duration(c.DefaultTTLMin) * time.Minute }
func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMin) * time.Minute
}
func (c CorrelationConfig) Window() time.Duration { return time.Duration(c.WindowMin) * time.Minute }
func (c CorrelationConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateSec) * time.Second
}
func (c BurnRateConfig) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }
func (c BurnRateConfig) MaxDeferral() time.Duration {
	return time.Duration(c.MaxDeferralMin) * time.Minute
}
func (c LadderConfig) EscalationCooldown() time.Duration {
	return time.Duration(c.EscalationCooldownSec) * time.Second
}
func (c LadderConfig) DeEscalationDelay() time.Duration {
	return time.Duration(c.DeEscalationDelaySec) * time.Second
}
func (c LadderConfig) ManualOverrideTimeout() time.Duration {
	return time.Duration(c.ManualOverrideMin) * time.Minute
}
func (c ScalerConfig) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringSec) * time.Second
}
func (c ScalerConfig) ScalingCooldown() time.Duration {
	return time.Duration(c.ScalingCooldownSec) * time.Second
}
func (c PredictorConfig) RetrainInterval() time.Duration {
	return time.Duration(c.RetrainIntervalMin) * time.Minute
}
func (c PredictorConfig) ForecastCacheTTL() time.Duration {
	return time.Duration(c.ForecastCacheMin) * time.Minute
}
func (c PredictorConfig) ValidationTimeout() time.Duration {
	return time.Duration(c.ValidationTimeoutSec) * time.Second
}
func (c DashboardConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}
