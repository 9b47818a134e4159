package config

import (
	"fmt"
	"slices"
	"strings"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Field    string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Field, i.Message)
}

// Validate checks cfg against the registered storage kinds. Errors block a run;
// warnings are informational.
func Validate(cfg Config, kinds []string) []Issue {
	var issues []Issue
	errorf := func(field, format string, args ...any) {
		issues = append(issues, Issue{SeverityError, field, fmt.Sprintf(format, args...)})
	}
	warnf := func(field, format string, args ...any) {
		issues = append(issues, Issue{SeverityWarning, field, fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.InputDir) == "" {
		errorf("input_dir", "must be set")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		errorf("output_dir", "must be set")
	}

	sc := cfg.StorageConfig()
	knownKind := slices.Contains(kinds, sc.Kind)
	if !knownKind {
		errorf("storage.kind", "unsupported kind %q (have %s)", sc.Kind, strings.Join(kinds, ", "))
	}
	if knownKind && sc.DSN == "" {
		errorf("storage.dsn", "must be set for kind %q", sc.Kind)
	}

	if strings.TrimSpace(cfg.Schema.Name) == "" {
		errorf("schema.name", "must be set")
	}
	if strings.TrimSpace(cfg.Schema.Version) == "" {
		errorf("schema.version", "must be set")
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Schema.Dialect)); knownKind && d != "" && d != sc.Kind {
		errorf("schema.dialect", "%q does not match storage kind %q", cfg.Schema.Dialect, sc.Kind)
	}

	p := cfg.Publish
	switch {
	case p.Enabled():
		if sc.Kind != "sqlite" {
			errorf("publish", "publishing uploads the database file and needs storage kind sqlite")
		}
	case strings.TrimSpace(p.PinataAPIKey) != "" || strings.TrimSpace(p.PinataAPISecret) != "":
		warnf("publish", "only one of pinata api key/secret is set; publishing is disabled")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend)) {
	case "", "none", "datadog":
	default:
		errorf("metrics.backend", "unsupported backend %q (want none or datadog)", cfg.Metrics.Backend)
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
