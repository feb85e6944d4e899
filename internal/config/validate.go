package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed: " + strings.Join(e.Issues, "; ")
}

var knownStrategies = map[string]bool{
	"response_based": true,
	"feature_based":  true,
	"hybrid":         true,
}

var knownOptimizations = map[string]bool{
	"cost_first":    true,
	"quality_first": true,
	"balanced":      true,
	"adaptive":      true,
}

// Validate checks the configuration for the given command mode. Modes
// "generate" and "serve" need at least one teacher and one student; mode
// "serve" also needs a valid port.
func (c *Config) Validate(mode string) error {
	var issues []string

	if mode == "generate" || mode == "serve" {
		if len(c.Teachers) == 0 {
			issues = append(issues, "at least one teacher provider is required")
		}
		if len(c.Students) == 0 {
			issues = append(issues, "at least one student provider is required")
		}
	}

	seen := make(map[string]bool)
	check := func(role string, list []ProviderConfig) {
		for i, p := range list {
			label := fmt.Sprintf("%s[%d]", role, i)
			switch p.Type {
			case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
				if p.Key == "" {
					issues = append(issues, label+".key is required for "+p.Type)
				}
			case ProviderLocal:
			default:
				issues = append(issues, fmt.Sprintf("%s.type %q is not supported", label, p.Type))
			}
			if p.RateLimitPerMinute < 0 {
				issues = append(issues, label+".rate_limit_per_minute must not be negative")
			}
			key := role + "/" + p.Name
			if seen[key] {
				issues = append(issues, fmt.Sprintf("%s.name %q is duplicated", label, p.Name))
			}
			seen[key] = true
		}
	}
	check("teachers", c.Teachers)
	check("students", c.Students)

	d := c.Distill
	if d.QualityThreshold < 0 || d.QualityThreshold > 1 {
		issues = append(issues, "distill.quality_threshold must be within [0, 1]")
	}
	if d.MaxTeacherExamples < 1 {
		issues = append(issues, "distill.max_teacher_examples must be at least 1")
	}
	if d.StudentBatchSize < 1 {
		issues = append(issues, "distill.student_batch_size must be at least 1")
	}
	if d.ValidationSampleRatio <= 0 || d.ValidationSampleRatio > 1 {
		issues = append(issues, "distill.validation_sample_ratio must be within (0, 1]")
	}
	if d.Strategy != "" && !knownStrategies[d.Strategy] {
		issues = append(issues, fmt.Sprintf("distill.strategy %q is not supported", d.Strategy))
	}
	if d.OptimizationStrategy != "" && !knownOptimizations[d.OptimizationStrategy] {
		issues = append(issues, fmt.Sprintf("distill.optimization_strategy %q is not supported", d.OptimizationStrategy))
	}

	b := c.Budget
	if b.Total < 0 || b.Daily < 0 || b.Hourly < 0 || b.PerItem < 0 {
		issues = append(issues, "budget ceilings must not be negative")
	}

	m := c.Monitoring
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		issues = append(issues, "monitoring.failure_rate_threshold must be within [0, 1]")
	}
	if m.QualityFloor < 0 || m.QualityFloor > 1 {
		issues = append(issues, "monitoring.quality_floor must be within [0, 1]")
	}

	if c.Batch.MaxConcurrentRuns < 0 || c.Batch.MaxRequests < 0 {
		issues = append(issues, "batch limits must not be negative")
	}

	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			issues = append(issues, "store.database_url is required for "+c.Store.Driver)
		}
	default:
		issues = append(issues, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		issues = append(issues, "server.port must be between 1 and 65535")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
