package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"residuals/internal/config"
	"residuals/internal/metrics"
	"residuals/internal/metrics/datadog"
	"residuals/internal/metrics/prompush"
	"residuals/internal/pipeline"
)

const envPrefix = "RESIDUALS"

// options mirrors the command line. Only flags that were set (on the command
// line or through the environment) override the pipeline file.
type options struct {
	configPath     string
	datasetID      string
	tableID        string
	outputTable    string
	residualSuffix string
	warehouseKind  string
	warehouseDSN   string
	stagingBucket  string
	projectID      string
	parallelism    int
	validate       bool
	cleanupStaging bool
	metricsBackend string
	pushgatewayURL string
	dogstatsdAddr  string
	verbose        bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var o options
	v := viper.New()

	rc := &cobra.Command{
		Use:   "residuals",
		Short: "Fit a linear model over a warehouse table and write its residuals back.",
		Long: `residuals provisions the input table, extracts it through a staging
location, fits an ordinary least squares model of the target on the
predictors, and loads (predictors..., residual) rows into a new table.

The destination table must not exist; the job never overwrites data.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), v, o, stdout, stderr)
		},
	}

	bindFlags(rc.Flags(), &o)

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// bindFlags registers the command line on f, storing values in o.
func bindFlags(f *pflag.FlagSet, o *options) {
	f.StringVarP(&o.configPath, "config", "c", "", "pipeline JSON file (defaults to the built-in natality pipeline)")
	f.StringVar(&o.datasetID, "dataset-id", "natality_regression", "dataset of the input and output tables")
	f.StringVar(&o.tableID, "table-id", "regression_input", "input table")
	f.StringVar(&o.outputTable, "output-table", "", "residual table (default <table-id>_<residual-suffix>)")
	f.StringVar(&o.residualSuffix, "residual-suffix", config.DefaultResidualSuffix, "suffix for the derived residual table name")
	f.StringVar(&o.warehouseKind, "warehouse-kind", "sqlite", "warehouse backend (sqlite, postgres, mssql, mysql)")
	f.StringVar(&o.warehouseDSN, "warehouse-dsn", "", "warehouse connection string")
	f.StringVar(&o.stagingBucket, "staging-bucket", "", "staging location (s3://bucket/prefix, file:///dir, or a path)")
	f.StringVar(&o.projectID, "project-id", "", "warehouse project the job is bound to")
	f.IntVar(&o.parallelism, "parallelism", 0, "partitions processed concurrently (0 = GOMAXPROCS)")
	f.BoolVar(&o.validate, "validate", false, "validate the configuration and exit")
	f.BoolVar(&o.cleanupStaging, "cleanup-staging", false, "remove staging objects after a successful run")
	f.StringVar(&o.metricsBackend, "metrics-backend", "none", "metrics backend (pushgateway, datadog, none)")
	f.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL")
	f.StringVar(&o.dogstatsdAddr, "dogstatsd-addr", "", "DogStatsD address, e.g. 127.0.0.1:8125")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose logs")
}

// setAllConfig binds flags to viper, layers RESIDUALS_* environment variables
// under the command line, and writes the resolved values back into the flags.
// Env names are the flag names upper-cased with dashes replaced by
// underscores.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}

// buildPipeline resolves the pipeline: the file (or Default), then every
// flag that was explicitly set, then the execution environment.
func buildPipeline(v *viper.Viper, o options) (config.Pipeline, error) {
	p := config.Default()
	if o.configPath != "" {
		var err error
		if p, err = config.Load(o.configPath); err != nil {
			return config.Pipeline{}, err
		}
	}
	set := v.IsSet

	if set("dataset-id") {
		p.Source.Dataset = o.datasetID
	}
	if set("table-id") {
		p.Source.Table = o.tableID
	}
	if set("output-table") {
		p.Output.Table = o.outputTable
	}
	if set("residual-suffix") {
		p.Output.ResidualTableSuffix = o.residualSuffix
	}
	if set("warehouse-kind") {
		p.Warehouse.Kind = o.warehouseKind
	}
	if set("warehouse-dsn") {
		p.Warehouse.DSN = o.warehouseDSN
	}
	if set("parallelism") {
		p.Runtime.Parallelism = o.parallelism
	}
	if set("cleanup-staging") {
		p.Staging.Cleanup = o.cleanupStaging
	}
	if set("metrics-backend") {
		p.Metrics.Backend = o.metricsBackend
	}
	if p.Metrics.Options == nil {
		p.Metrics.Options = config.Options{}
	}
	if set("pushgateway-url") {
		p.Metrics.Options["url"] = o.pushgatewayURL
	}
	if set("dogstatsd-addr") {
		p.Metrics.Options["addr"] = o.dogstatsdAddr
	}

	return p.WithEnvironment(config.Environment{
		StagingBucket: o.stagingBucket,
		ProjectID:     o.projectID,
	}), nil
}

func execute(ctx context.Context, v *viper.Viper, o options, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	p, err := buildPipeline(v, o)
	if err != nil {
		return &configError{err: err}
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return &configError{err: fmt.Errorf("pipeline %q is invalid", p.Job)}
	}
	if o.verbose {
		b, _ := json.MarshalIndent(p, "", "  ")
		log.Printf("config: resolved pipeline:\n%s", b)
	}
	if o.validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return nil
	}

	flush := setupMetrics(p)
	defer flush()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, p)
	if err != nil {
		return err
	}
	printSummary(stdout, res)
	return nil
}

// setupMetrics installs the configured metrics backend and returns a func
// that flushes it. A backend that fails to initialize leaves metrics
// disabled.
func setupMetrics(p config.Pipeline) func() {
	var (
		b   metrics.Backend
		err error
	)
	opts := p.Metrics.Options
	switch strings.ToLower(strings.TrimSpace(p.Metrics.Backend)) {
	case "pushgateway":
		b, err = prompush.NewBackend(p.Job, opts.String("url", ""), opts.StringMap("grouping"))
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       opts.String("addr", "127.0.0.1:8125"),
			Namespace:  opts.String("namespace", "residuals."),
			GlobalTags: datadog.TagsFromMap(opts.StringMap("tags")),
		})
	default:
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: backend=%s init failed: %v; metrics disabled", p.Metrics.Backend, err)
		return func() {}
	}
	log.Printf("metrics: backend=%s job=%s", p.Metrics.Backend, p.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func printSummary(w io.Writer, res *pipeline.Result) {
	pr := message.NewPrinter(language.English)
	pr.Fprintf(w, "run %s: loaded %d residual rows into %s\n", res.RunID, res.Loaded, res.Output)
	pr.Fprintf(w, "  extracted %d rows from %s, dropped %d with nulls\n", res.Extracted, res.Input, res.DroppedNull)
	pr.Fprintf(w, "  model: %s\n", res.Model)
}
