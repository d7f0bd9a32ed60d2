// Package config defines the JSON-serializable configuration model for the
// residuals job: which warehouse to talk to, which table to read, what to fit,
// where to stage data, and where to write the residuals.
//
// Decoding is plain encoding/json over Default(), so a pipeline file only
// needs the fields it changes. The CLI layers flags and RESIDUALS_* env vars
// on top of the decoded value.
//
// Example (trimmed):
//
//	{
//	  "job":       "natality-residuals",
//	  "warehouse": { "kind": "postgres", "dsn": "postgres://...", "project": "analytics" },
//	  "source":    { "dataset": "natality_regression", "table": "regression_input" },
//	  "output":    { "residual_table_suffix": "residual" },
//	  "staging":   { "bucket": "s3://my-bucket" },
//	  "model":     { "target": "weight_pounds", "predictors": ["mother_age", "father_age"] }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"residuals/internal/schema"
	"residuals/internal/warehouse"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs and metrics.
	Job string `json:"job"`

	Warehouse Warehouse `json:"warehouse"`

	// Source is the table that is provisioned and then extracted.
	Source Table `json:"source"`

	// Output names the residual table.
	Output Output `json:"output"`

	Staging Staging `json:"staging"`
	Model   Model   `json:"model"`

	// Schema is the declared schema of the source table, used by the
	// provisioner.
	Schema schema.Schema `json:"schema"`

	Runtime RuntimeConfig `json:"runtime"`
	Metrics Metrics       `json:"metrics"`
}

// Warehouse selects and configures the warehouse backend.
type Warehouse struct {
	// Kind is a registered backend: "sqlite", "postgres", "mssql", "mysql".
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
	// Project binds the client to one project; table references naming
	// another project are rejected.
	Project string `json:"project"`
}

// Table is a dataset/table pair inside the configured project.
type Table struct {
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// Output configures the residual table. When Table is empty the name is
// derived as <source table>_<ResidualTableSuffix>.
type Output struct {
	// Dataset defaults to the source dataset.
	Dataset             string `json:"dataset"`
	Table               string `json:"table"`
	ResidualTableSuffix string `json:"residual_table_suffix"`
}

// Staging configures transient bulk-transfer storage.
type Staging struct {
	// Bucket is a staging URL: "s3://bucket[/prefix]", "file:///dir", or a
	// plain directory path.
	Bucket string `json:"bucket"`
	// Cleanup removes the run's staging objects after a successful run.
	Cleanup bool `json:"cleanup"`
}

// Model names the regression target and predictors.
type Model struct {
	Target     string   `json:"target"`
	Predictors []string `json:"predictors"`
}

// RuntimeConfig controls parallelism and shard sizing.
type RuntimeConfig struct {
	// Parallelism bounds concurrently processed partitions; 0 means GOMAXPROCS.
	Parallelism int `json:"parallelism"`
	// ShardRows bounds rows per staged shard on extract; 0 means the staging
	// default.
	ShardRows int `json:"shard_rows"`
}

// Metrics selects a metrics backend. Options carries backend settings:
//
//	pushgateway: "url" (string), "grouping" (object of strings)
//	datadog:     "addr" (string), "namespace" (string), "tags" (object of strings)
type Metrics struct {
	Backend string  `json:"backend"`
	Options Options `json:"options"`
}

// Default suffix for derived residual table names.
const DefaultResidualSuffix = "residual"

// Default returns the natality pipeline: regress birth weight on parental
// ages, gestation, weight gain, and the 5-minute Apgar score.
func Default() Pipeline {
	return Pipeline{
		Job:       "natality-residuals",
		Warehouse: Warehouse{Kind: "sqlite", DSN: "residuals.db"},
		Source:    Table{Dataset: "natality_regression", Table: "regression_input"},
		Output:    Output{ResidualTableSuffix: DefaultResidualSuffix},
		Staging:   Staging{Bucket: "staging"},
		Model: Model{
			Target:     "weight_pounds",
			Predictors: []string{"mother_age", "father_age", "gestation_weeks", "weight_gain_pounds", "apgar_5min"},
		},
		Schema: schema.Schema{
			{Name: "weight_pounds", Type: schema.Float},
			{Name: "mother_age", Type: schema.Integer},
			{Name: "father_age", Type: schema.Integer},
			{Name: "gestation_weeks", Type: schema.Integer},
			{Name: "weight_gain_pounds", Type: schema.Integer},
			{Name: "apgar_5min", Type: schema.Integer},
		},
		Metrics: Metrics{Backend: "none", Options: Options{}},
	}
}

// Load decodes the pipeline file at path over Default(). Unknown fields are
// rejected so typos do not silently fall back to defaults.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return Decode(b)
}

// Decode decodes a JSON pipeline over Default().
func Decode(b []byte) (Pipeline, error) {
	p := Default()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline: %w", err)
	}
	return p, nil
}

// SourceRef returns the source table reference.
func (p Pipeline) SourceRef() warehouse.TableRef {
	return warehouse.TableRef{Project: p.Warehouse.Project, Dataset: p.Source.Dataset, Table: p.Source.Table}
}

// ResidualTable returns the residual table name: Output.Table if set,
// otherwise <source table>_<suffix>.
func (p Pipeline) ResidualTable() string {
	if p.Output.Table != "" {
		return p.Output.Table
	}
	suffix := p.Output.ResidualTableSuffix
	if suffix == "" {
		suffix = DefaultResidualSuffix
	}
	return p.Source.Table + "_" + suffix
}

// OutputRef returns the residual table reference.
func (p Pipeline) OutputRef() warehouse.TableRef {
	ds := p.Output.Dataset
	if ds == "" {
		ds = p.Source.Dataset
	}
	return warehouse.TableRef{Project: p.Warehouse.Project, Dataset: ds, Table: p.ResidualTable()}
}

// Environment is the execution-environment configuration resolved once at
// startup: where to stage data and which project to bind to.
type Environment struct {
	StagingBucket string
	ProjectID     string
}

// WithEnvironment returns p with non-empty environment values applied.
func (p Pipeline) WithEnvironment(env Environment) Pipeline {
	if env.StagingBucket != "" {
		p.Staging.Bucket = env.StagingBucket
	}
	if env.ProjectID != "" {
		p.Warehouse.Project = env.ProjectID
	}
	return p
}

// Environment returns the environment values p resolves to.
func (p Pipeline) Environment() Environment {
	return Environment{StagingBucket: p.Staging.Bucket, ProjectID: p.Warehouse.Project}
}

// Options fetches typed values from a free-form JSON object. It performs only
// minimal coercion and returns def when a key is absent or of another type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringMap returns the string-valued entries of the object at key. It
// returns an empty map when key is missing or not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// UnmarshalJSON makes a missing or null options object decode to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
