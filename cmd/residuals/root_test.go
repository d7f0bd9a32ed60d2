package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"residuals/internal/config"
	"residuals/internal/pipeline"
	"residuals/internal/schema"
	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlite"
)

// parse resolves args the way the root command does.
func parse(t *testing.T, args ...string) (*viper.Viper, options) {
	t.Helper()
	var o options
	fs := pflag.NewFlagSet("residuals", pflag.ContinueOnError)
	bindFlags(fs, &o)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	v := viper.New()
	if err := setAllConfig(v, fs); err != nil {
		t.Fatalf("setAllConfig: %v", err)
	}
	return v, o
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildPipeline_Defaults(t *testing.T) {
	v, o := parse(t)
	p, err := buildPipeline(v, o)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	want := config.Default()
	if p.Source != want.Source || p.Warehouse != want.Warehouse || p.Staging != want.Staging {
		t.Fatalf("unset flags changed the default pipeline: %+v", p)
	}
}

func TestBuildPipeline_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `{"source": {"dataset": "file_ds", "table": "file_tbl"}, "warehouse": {"kind": "postgres", "dsn": "postgres://x"}}`)
	v, o := parse(t, "--config", path, "--table-id", "births", "--residual-suffix", "resid", "--parallelism=3")

	p, err := buildPipeline(v, o)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	if p.Source.Dataset != "file_ds" || p.Source.Table != "births" {
		t.Fatalf("source = %+v, want file_ds.births", p.Source)
	}
	if p.Warehouse.Kind != "postgres" {
		t.Fatalf("warehouse.kind = %q, want the file value", p.Warehouse.Kind)
	}
	if got := p.OutputRef().Table; got != "births_resid" {
		t.Fatalf("output table = %q, want births_resid", got)
	}
	if p.Runtime.Parallelism != 3 {
		t.Fatalf("parallelism = %d, want 3", p.Runtime.Parallelism)
	}
}

func TestBuildPipeline_Environment(t *testing.T) {
	t.Setenv("RESIDUALS_STAGING_BUCKET", "s3://env-bucket/prefix")
	t.Setenv("RESIDUALS_PROJECT_ID", "analytics")
	t.Setenv("RESIDUALS_METRICS_BACKEND", "pushgateway")
	t.Setenv("RESIDUALS_PUSHGATEWAY_URL", "http://gw:9091")

	// The command line wins over the environment.
	v, o := parse(t, "--project-id", "cli_project")
	p, err := buildPipeline(v, o)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	want := config.Environment{StagingBucket: "s3://env-bucket/prefix", ProjectID: "cli_project"}
	if p.Environment() != want {
		t.Fatalf("environment = %+v, want %+v", p.Environment(), want)
	}
	if p.Metrics.Backend != "pushgateway" || p.Metrics.Options.String("url", "") != "http://gw:9091" {
		t.Fatalf("metrics = %+v", p.Metrics)
	}
}

func TestBuildPipeline_BadFile(t *testing.T) {
	v, o := parse(t, "--config", writeConfig(t, `{"nope": 1}`))
	if _, err := buildPipeline(v, o); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCommand_Validate(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCommand(t, "--validate", "--staging-bucket", dir, "--warehouse-dsn", filepath.Join(dir, "wh.db"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "configuration is valid") {
		t.Fatalf("stdout = %q", out)
	}
}

func TestCommand_InvalidConfigExitsTwo(t *testing.T) {
	_, stderr, err := runCommand(t, "--validate", "--parallelism=-1", "--metrics-backend", "graphite")
	if err == nil {
		t.Fatalf("expected error")
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("exitCode = %d, want 2", code)
	}
	for _, want := range []string{"runtime.parallelism", "metrics.backend"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr %q does not mention %s", stderr, want)
		}
	}
}

func TestCommand_StageFailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	// The default natality table is provisioned empty, so the fit fails.
	_, _, err := runCommand(t, "--staging-bucket", filepath.Join(dir, "bucket"), "--warehouse-dsn", filepath.Join(dir, "wh.db"))
	var se pipeline.StageError
	if !errors.As(err, &se) || se.Stage() != pipeline.StageTransform {
		t.Fatalf("err = %v, want a transform StageError", err)
	}
	if !strings.HasPrefix(err.Error(), "transform: ") {
		t.Fatalf("err = %q, want a stage prefix", err)
	}
	if code := exitCode(err); code != 1 {
		t.Fatalf("exitCode = %d, want 1", code)
	}
}

func TestCommand_Run(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "wh.db")
	ctx := context.Background()

	s := schema.Schema{{Name: "y", Type: schema.Float}, {Name: "x", Type: schema.Integer}}
	w, err := sqlite.Open(ctx, warehouse.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	ref := warehouse.TableRef{Dataset: "ds", Table: "input"}
	if err := pipeline.Provision(ctx, w, ref, s); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	for i := 1; i <= 1200; i++ {
		if _, err := w.DB().ExecContext(ctx, `INSERT INTO "ds__input" (y, x) VALUES (?, ?)`, float64(2*i+1), int64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_ = w.Close()

	cfg := writeConfig(t, `{
	  "job": "cli-test",
	  "model": {"target": "y", "predictors": ["x"]},
	  "schema": [{"name": "y", "type": "float"}, {"name": "x", "type": "integer"}]
	}`)
	out, _, err := runCommand(t,
		"--config", cfg,
		"--dataset-id", "ds", "--table-id", "input",
		"--warehouse-dsn", dsn,
		"--staging-bucket", filepath.Join(dir, "bucket"),
		"--cleanup-staging",
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "loaded 1,200 residual rows into ds.input_residual") {
		t.Fatalf("stdout = %q", out)
	}
	if !strings.Contains(out, "y = 1 +2*x") {
		t.Fatalf("stdout = %q, want the fitted model", out)
	}
}
