// Command residuals provisions the input table, fits an OLS model of the
// target column on the predictor columns, and writes per-row residuals to a
// new warehouse table.
//
//	residuals --warehouse-kind=postgres --warehouse-dsn=postgres://... \
//	  --staging-bucket=s3://bucket/residuals --dataset-id=natality_regression
//
// Every flag can also be set as RESIDUALS_<FLAG> in the environment, e.g.
// RESIDUALS_STAGING_BUCKET and RESIDUALS_PROJECT_ID.
package main

import (
	"errors"
	"fmt"
	"os"

	// register all warehouse backends with the factory.
	_ "residuals/internal/warehouse/all"
)

func main() {
	cmd := newRootCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// configError marks failures to load or validate configuration.
type configError struct{ err error }

func (e *configError) Error() string { return "config: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status: 2 for configuration
// errors, 1 for everything else.
func exitCode(err error) int {
	var ce *configError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}
