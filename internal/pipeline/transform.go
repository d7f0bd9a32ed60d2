package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"residuals/internal/dataframe"
	"residuals/internal/records"
	"residuals/internal/regression"
	"residuals/internal/schema"
)

// ResidualColumn is the name of the residual column in the output schema.
const ResidualColumn = "residual"

// Transform fits an OLS model of target on predictors over c and returns a
// collection of (predictors..., residual) rows. Rows with a null target or
// predictor are dropped before fitting and excluded from the output.
func Transform(ctx context.Context, c dataframe.Collection, target string, predictors []string) (dataframe.Collection, *regression.Model, error) {
	out, err := residualSchema(c.Schema(), target, predictors)
	if err != nil {
		return nil, nil, err
	}

	cols := append([]string{target}, predictors...)
	clean := c.Filter(func(r records.Record) (bool, error) {
		return !r.HasNull(cols...), nil
	})

	m, err := regression.Fit(ctx, clean, target, predictors)
	if err != nil {
		return nil, nil, &TransformError{Err: err}
	}
	sum, err := regression.Evaluate(ctx, m, clean)
	if err != nil {
		return nil, nil, &TransformError{Err: err}
	}
	log.Printf("transform: model %s", m)
	log.Printf("transform: n=%d rmse=%.6g r2=%.6g mean_residual=%.3g", sum.N, sum.RMSE, sum.R2, sum.MeanResidual)

	residuals := clean.Map(func(r records.Record) (records.Record, error) {
		res, err := m.Residual(r)
		if err != nil {
			return nil, err
		}
		row := r.Project(predictors)
		row[ResidualColumn] = res
		return row, nil
	}, out)
	return residuals, m, nil
}

// residualSchema checks the regression columns against in and returns the
// output schema: the predictor columns followed by a nullable float residual.
func residualSchema(in schema.Schema, target string, predictors []string) (schema.Schema, error) {
	if len(predictors) == 0 {
		return nil, &TransformError{Err: errors.New("at least one predictor is required")}
	}
	numeric := func(name string) (schema.Column, error) {
		c, ok := in.Lookup(name)
		if !ok {
			return c, &TransformError{Column: name, Err: fmt.Errorf("not in schema %s", in)}
		}
		if !c.Type.Numeric() {
			return c, &TransformError{Column: name, Err: fmt.Errorf("type %s is not numeric", c.Type)}
		}
		return c, nil
	}

	if _, err := numeric(target); err != nil {
		return nil, err
	}
	out := make(schema.Schema, 0, len(predictors)+1)
	seen := make(map[string]bool, len(predictors))
	for _, p := range predictors {
		switch {
		case p == target:
			return nil, &TransformError{Column: p, Err: errors.New("predictor is the target")}
		case p == ResidualColumn:
			return nil, &TransformError{Column: p, Err: errors.New("predictor collides with the residual column")}
		case seen[p]:
			return nil, &TransformError{Column: p, Err: errors.New("duplicate predictor")}
		}
		seen[p] = true
		c, err := numeric(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return append(out, schema.Column{Name: ResidualColumn, Type: schema.Float}), nil
}
