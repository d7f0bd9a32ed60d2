// Package pipeline runs the residuals job: provision the input table,
// extract it through staging into a partitioned collection, fit an OLS model
// and derive residuals, then load the residuals into a new table.
//
// Stages run strictly in sequence; all parallelism lives in the dataframe
// engine. Every stage failure is returned as a StageError.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"residuals/internal/config"
	"residuals/internal/dataframe"
	"residuals/internal/metrics"
	"residuals/internal/regression"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
)

// Staging directory purposes, as in <bucket>/tmp/<purpose>-<ts>-<run id>.
const (
	inputPurpose  = "natality"
	outputPurpose = "output"
)

// Function variables used to introduce test seams.
var (
	newWarehouseFn = warehouse.New
	openStoreFn    = staging.Open
	newRunIDFn     = func() string { return uuid.NewString()[:8] }
	nowFn          = time.Now
)

// Result summarizes a completed run.
type Result struct {
	RunID  string
	Input  warehouse.TableRef
	Output warehouse.TableRef
	Model  *regression.Model

	Extracted   int64
	DroppedNull int64
	Loaded      int64

	InputStaging  string
	OutputStaging string
	Duration      time.Duration
}

// Run executes the job described by p. p must already be valid
// (config.ValidatePipeline reports no errors).
func Run(ctx context.Context, p config.Pipeline) (*Result, error) {
	start := nowFn()
	res := &Result{
		RunID:  newRunIDFn(),
		Input:  p.SourceRef(),
		Output: p.OutputRef(),
	}

	base, err := staging.ParseLocation(p.Staging.Bucket)
	if err != nil {
		return nil, fmt.Errorf("staging bucket: %w", err)
	}
	ts := start.UTC().Format("20060102-150405")
	inLoc := base.Join("tmp", fmt.Sprintf("%s-%s-%s", inputPurpose, ts, res.RunID))
	outLoc := base.Join("tmp", fmt.Sprintf("%s-%s-%s", outputPurpose, ts, res.RunID))
	res.InputStaging, res.OutputStaging = inLoc.String(), outLoc.String()

	log.Printf("pipeline: job=%s run=%s warehouse=%s input=%s output=%s",
		p.Job, res.RunID, p.Warehouse.Kind, res.Input, res.Output)

	step := func(s Stage, fn func() error) error {
		t0 := time.Now()
		err := fn()
		metrics.RecordStep(p.Job, string(s), err, time.Since(t0))
		return err
	}

	var wh warehouse.Warehouse
	err = step(StageProvision, func() error {
		var err error
		wh, err = newWarehouseFn(ctx, warehouse.Config{
			Kind:      p.Warehouse.Kind,
			DSN:       p.Warehouse.DSN,
			Project:   p.Warehouse.Project,
			ShardRows: p.Runtime.ShardRows,
		})
		if err != nil {
			return &ProvisioningError{Table: res.Input, Err: err}
		}
		return Provision(ctx, wh, res.Input, p.Schema)
	})
	if wh != nil {
		defer wh.Close()
	}
	if err != nil {
		return nil, err
	}

	engine := dataframe.NewLocalEngine(p.Runtime.Parallelism)

	var (
		inStore staging.Store
		rows    dataframe.Collection
	)
	err = step(StageExtract, func() error {
		var err error
		inStore, err = openStoreFn(ctx, inLoc)
		if err != nil {
			return &ExtractionError{Table: res.Input, Location: res.InputStaging, Err: err}
		}
		in := InputConfig{Project: res.Input.Project, Dataset: res.Input.Dataset, Table: res.Input.Table}
		if rows, err = Extract(ctx, engine, wh, inStore, in); err != nil {
			return err
		}
		m, err := staging.ReadManifest(ctx, inStore)
		if err != nil {
			return &ExtractionError{Table: res.Input, Location: res.InputStaging, Err: err}
		}
		res.Extracted = m.Rows()
		metrics.RecordRows(p.Job, "extracted", res.Extracted)
		metrics.RecordShards(p.Job, "extract", int64(len(m.Shards)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var residuals dataframe.Collection
	err = step(StageTransform, func() error {
		var err error
		residuals, res.Model, err = Transform(ctx, rows, p.Model.Target, p.Model.Predictors)
		if err != nil {
			return err
		}
		res.DroppedNull = res.Extracted - res.Model.N
		metrics.RecordRows(p.Job, "dropped_null", res.DroppedNull)
		metrics.RecordRows(p.Job, "residuals", res.Model.N)
		if res.DroppedNull > 0 {
			log.Printf("transform: dropped %d rows with null values", res.DroppedNull)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var outStore staging.Store
	err = step(StageLoad, func() error {
		var err error
		outStore, err = openStoreFn(ctx, outLoc)
		if err != nil {
			return &LoadError{Table: res.Output, Location: res.OutputStaging, Err: err}
		}
		if res.Loaded, err = Load(ctx, wh, outStore, residuals, res.Output); err != nil {
			return err
		}
		metrics.RecordRows(p.Job, "loaded", res.Loaded)
		if m, err := staging.ReadManifest(ctx, outStore); err == nil {
			metrics.RecordShards(p.Job, "load", int64(len(m.Shards)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.Staging.Cleanup {
		for _, st := range []staging.Store{inStore, outStore} {
			if err := st.RemoveAll(ctx); err != nil {
				log.Printf("pipeline: cleanup %s: %v", st.URL(), err)
			}
		}
	}

	res.Duration = nowFn().Sub(start)
	log.Printf("pipeline: done run=%s extracted=%d dropped_null=%d loaded=%d in %s",
		res.RunID, res.Extracted, res.DroppedNull, res.Loaded, res.Duration.Truncate(time.Millisecond))
	return res, nil
}
