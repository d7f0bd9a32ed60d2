package config

// This file adds a linter for Pipeline values. It performs static checks over
// a decoded Pipeline and returns a list of issues (errors and warnings) that
// callers can surface in a CLI or tests.

import (
	"fmt"
	"strings"

	"residuals/internal/schema"
	"residuals/internal/staging"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "warehouse.kind",
// "model.predictors[2]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline.
//
//	p, err := config.Load("pipeline.json")
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Println(iss)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateWarehouse(p.Warehouse)...)
	issues = append(issues, validateTables(p)...)
	issues = append(issues, validateStaging(p.Staging)...)
	issues = append(issues, validateSchema(p.Schema)...)
	issues = append(issues, validateModel(p.Model, p.Schema)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

var knownWarehouses = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"mssql":    true,
	"mysql":    true,
}

func validateWarehouse(w Warehouse) []Issue {
	var issues []Issue

	kind := strings.TrimSpace(w.Kind)
	switch {
	case kind == "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.kind",
			Message:  "warehouse.kind must not be empty",
		})
	case !knownWarehouses[kind]:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "warehouse.kind",
			Message:  fmt.Sprintf("unknown warehouse.kind %q; it must be registered by a linked backend", w.Kind),
		})
	}

	if strings.TrimSpace(w.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.dsn",
			Message:  "warehouse.dsn must not be empty",
		})
	}
	if w.Project != "" && !schema.ValidIdent(w.Project) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.project",
			Message:  fmt.Sprintf("invalid project id %q", w.Project),
		})
	}
	return issues
}

func validateTables(p Pipeline) []Issue {
	var issues []Issue

	check := func(path, v string) {
		if !schema.ValidIdent(v) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("invalid identifier %q", v),
			})
		}
	}
	check("source.dataset", p.Source.Dataset)
	check("source.table", p.Source.Table)
	if p.Output.Dataset != "" {
		check("output.dataset", p.Output.Dataset)
	}
	if p.Output.Table != "" {
		check("output.table", p.Output.Table)
	} else if p.Output.ResidualTableSuffix != "" && !schema.ValidIdent("x_"+p.Output.ResidualTableSuffix) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.residual_table_suffix",
			Message:  fmt.Sprintf("suffix %q does not form a valid table name", p.Output.ResidualTableSuffix),
		})
	}

	if len(issues) == 0 && p.SourceRef() == p.OutputRef() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.table",
			Message:  "output table must differ from the source table",
		})
	}
	return issues
}

func validateStaging(s Staging) []Issue {
	if strings.TrimSpace(s.Bucket) == "" {
		return []Issue{{
			Severity: SeverityError,
			Path:     "staging.bucket",
			Message:  "staging.bucket must not be empty",
		}}
	}
	if _, err := staging.ParseLocation(s.Bucket); err != nil {
		return []Issue{{
			Severity: SeverityError,
			Path:     "staging.bucket",
			Message:  err.Error(),
		}}
	}
	return nil
}

func validateSchema(s schema.Schema) []Issue {
	if err := s.Validate(); err != nil {
		return []Issue{{
			Severity: SeverityError,
			Path:     "schema",
			Message:  err.Error(),
		}}
	}
	return nil
}

func validateModel(m Model, s schema.Schema) []Issue {
	var issues []Issue

	numeric := func(path, name string) {
		if len(s) == 0 {
			return
		}
		c, ok := s.Lookup(name)
		if !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("column %q is not in the schema", name),
			})
			return
		}
		if !c.Type.Numeric() {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("column %q has non-numeric type %s", name, c.Type),
			})
		}
	}

	if strings.TrimSpace(m.Target) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "model.target",
			Message:  "model.target must not be empty",
		})
	} else {
		numeric("model.target", m.Target)
	}

	if len(m.Predictors) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "model.predictors",
			Message:  "at least one predictor is required",
		})
	}
	seen := make(map[string]bool, len(m.Predictors))
	for i, name := range m.Predictors {
		path := fmt.Sprintf("model.predictors[%d]", i)
		switch {
		case name == m.Target:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("predictor %q is the target", name),
			})
		case seen[name]:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("duplicate predictor %q", name),
			})
		default:
			numeric(path, name)
		}
		seen[name] = true
	}

	if seen["residual"] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "model.predictors",
			Message:  `predictor "residual" collides with the output residual column`,
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.Parallelism < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.parallelism",
			Message:  "runtime.parallelism must be >= 0",
		})
	}
	if r.ShardRows < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.shard_rows",
			Message:  "runtime.shard_rows must be >= 0",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none":
	case "pushgateway":
		if m.Options.String("url", "") == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.options.url",
				Message:  "pushgateway backend requires options.url",
			})
		}
	case "datadog":
		if m.Options.String("addr", "") == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.options.addr",
				Message:  "datadog backend without options.addr uses the agent default",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unsupported metrics.backend %q (want pushgateway, datadog, or none)", m.Backend),
		})
	}
	return issues
}
