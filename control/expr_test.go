package control

import "testing"

func TestParseCondition(t *testing.T) {
	env := map[string]float64{
		"latency_p99":        3500,
		"error_rate":         0.03,
		"cpu_utilization":    0.85,
		"memory_utilization": 0.60,
		"throughput":         40,
		"burn_rate":          0.78,
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"simple greater", "latency_p99 > 3000", true},
		{"simple less", "latency_p99 < 3000", false},
		{"gte boundary", "burn_rate >= 0.78", true},
		{"lte boundary", "error_rate <= 0.03", true},
		{"equality", "throughput == 40", true},
		{"inequality", "throughput != 40", false},
		{"and both true", "latency_p99 > 3000 && error_rate > 0.02", true},
		{"and one false", "latency_p99 > 3000 && error_rate > 0.05", false},
		{"or rescues", "latency_p99 < 1000 || cpu_utilization > 0.8", true},
		{"word operators", "latency_p99 > 3000 AND error_rate > 0.02 OR throughput < 1", true},
		{"parens change grouping", "latency_p99 < 1000 && (error_rate > 0.5 || cpu_utilization > 0.8)", false},
		{"nested parens", "((burn_rate > 0.75))", true},
		{"or binds looser than and", "throughput < 1 && throughput < 1 || burn_rate > 0.5", true},
		{"absent metric reads zero", "memory_utilization > 0.59 && throughput >= 40", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := ParseCondition(tt.src)
			if err != nil {
				t.Fatalf("ParseCondition(%q) error: %v", tt.src, err)
			}
			if got := cond.Eval(env); got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestParseConditionRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"unknown metric", "disk_io > 5"},
		{"bare metric", "latency_p99"},
		{"missing value", "latency_p99 >"},
		{"single equals", "latency_p99 = 3000"},
		{"lone ampersand", "latency_p99 > 1 & error_rate > 0"},
		{"unbalanced paren", "(latency_p99 > 3000"},
		{"trailing tokens", "latency_p99 > 3000 error_rate"},
		{"bad literal", "latency_p99 > 3.0.0"},
		{"code injection", "latency_p99 > 0; rm -rf /"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCondition(tt.src); err == nil {
				t.Errorf("ParseCondition(%q) succeeded, want error", tt.src)
			} else if !IsCode(err, ErrCodeInvalidInput) {
				t.Errorf("ParseCondition(%q) code = %v, want invalid_input", tt.src, err)
			}
		})
	}
}

func TestConditionVars(t *testing.T) {
	cond, err := ParseCondition("latency_p99 > 3000 && (error_rate > 0.05 || latency_p99 > 5000)")
	if err != nil {
		t.Fatal(err)
	}
	vars := cond.Vars()
	if len(vars) != 2 || vars[0] != "latency_p99" || vars[1] != "error_rate" {
		t.Errorf("Vars() = %v, want [latency_p99 error_rate]", vars)
	}
}

func TestEvalMissingMetricDefaultsZero(t *testing.T) {
	cond, err := ParseCondition("burn_rate < 0.5")
	if err != nil {
		t.Fatal(err)
	}
	if !cond.Eval(map[string]float64{}) {
		t.Error("empty env: burn_rate should read 0 and satisfy < 0.5")
	}
}
