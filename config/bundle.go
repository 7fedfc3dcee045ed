package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Bundle is the operator-authored policy file: ladder level overrides,
// scaling policies, redirection rules, optimization triggers, and cost
// policies. Everything here is plain data; the control plane validates
// and compiles it on apply.
type Bundle struct {
	LadderLevels    []BundleLevel        `yaml:"ladder_levels,omitempty"`
	ScalingPolicies []BundleScalePolicy  `yaml:"scaling_policies,omitempty"`
	Redirections    []BundleRedirection  `yaml:"redirection_rules,omitempty"`
	Optimizations   []BundleOptimization `yaml:"optimization_triggers,omitempty"`
	CostPolicies    []BundleCostPolicy   `yaml:"cost_policies,omitempty"`
}

// BundleLevel overrides one rung of the degradation ladder by index.
// Action bundles are code, not configuration; an override adjusts the
// thresholds and the documented SLA impact only.
type BundleLevel struct {
	Index    int                 `yaml:"index"`
	Name     string              `yaml:"name,omitempty"`
	Triggers BundleLevelTriggers `yaml:"triggers"`
	SLA      BundleSLAImpact     `yaml:"sla"`
}

type BundleLevelTriggers struct {
	BurnRate    float64 `yaml:"burn_rate,omitempty"`
	ErrorRate   float64 `yaml:"error_rate,omitempty"`
	LatencyP95  float64 `yaml:"latency_p95_ms,omitempty"`
	Utilization float64 `yaml:"utilization,omitempty"`
}

type BundleSLAImpact struct {
	LatencyIncreasePct int      `yaml:"latency_increase_pct,omitempty"`
	ThroughputDropPct  int      `yaml:"throughput_drop_pct,omitempty"`
	DisabledFeatures   []string `yaml:"disabled_features,omitempty"`
}

type BundleScalePolicy struct {
	Name               string  `yaml:"name"`
	Metric             string  `yaml:"metric"`
	ScaleUpThreshold   float64 `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64 `yaml:"scale_down_threshold"`
	MinNodes           int     `yaml:"min_nodes"`
	MaxNodes           int     `yaml:"max_nodes"`
	InitialNodes       int     `yaml:"initial_nodes,omitempty"`
	CooldownSec        int     `yaml:"cooldown_sec,omitempty"`
}

type BundleRedirection struct {
	Name       string  `yaml:"name"`
	Priority   int     `yaml:"priority"`
	Condition  string  `yaml:"condition"`
	Target     string  `yaml:"target"`
	Percentage float64 `yaml:"percentage"`
}

type BundleOptimization struct {
	Name       string            `yaml:"name"`
	Condition  string            `yaml:"condition"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

type BundleCostPolicy struct {
	Name        string  `yaml:"name"`
	Threshold   float64 `yaml:"threshold"`
	Action      string  `yaml:"action"`
	CooldownMin int     `yaml:"cooldown_min,omitempty"`
}

// LoadBundle parses the bundle at path. Unknown keys are rejected so a
// typo in an operator file fails loudly instead of silently doing
// nothing.
func LoadBundle(path string) (Bundle, error) {
	var b Bundle
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read policy bundle: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return b, fmt.Errorf("parse policy bundle %s: %w", path, err)
	}
	return b, nil
}

// WatchBundle reloads the bundle whenever the file changes and hands
// each successfully parsed result to onChange. A failed reload keeps
// the previous bundle and logs. The returned stop function ends the
// watch.
//
// The watch is on the parent directory: editors and config managers
// replace files by rename, which drops a watch held on the file itself.
func WatchBundle(path string, onChange func(Bundle)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch policy bundle: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				b, err := LoadBundle(target)
				if err != nil {
					log.Printf("config: policy bundle reload failed, keeping previous: %v", err)
					continue
				}
				onChange(b)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: policy bundle watcher: %v", err)
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}
