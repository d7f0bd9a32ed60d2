package regression

import (
	"context"
	"fmt"
	"math"

	"residuals/internal/dataframe"
	"residuals/internal/records"
)

// Summary describes how well a model fits a collection.
type Summary struct {
	N            int64   `json:"n"`
	RMSE         float64 `json:"rmse"`
	R2           float64 `json:"r2"`
	MeanResidual float64 `json:"mean_residual"`
}

type moments struct {
	n               int64
	meanY, m2Y      float64
	sumRes, sumRes2 float64
}

func (a moments) merge(b moments) moments {
	if b.n == 0 {
		return a
	}
	if a.n == 0 {
		return b
	}
	na, nb := float64(a.n), float64(b.n)
	d := b.meanY - a.meanY
	return moments{
		n:       a.n + b.n,
		meanY:   a.meanY + d*nb/(na+nb),
		m2Y:     a.m2Y + b.m2Y + d*d*na*nb/(na+nb),
		sumRes:  a.sumRes + b.sumRes,
		sumRes2: a.sumRes2 + b.sumRes2,
	}
}

// Evaluate computes goodness-of-fit statistics for m over c in one pass.
// R2 is NaN when the target has zero variance.
func Evaluate(ctx context.Context, m *Model, c dataframe.Collection) (Summary, error) {
	mo, err := dataframe.Aggregate(ctx, c,
		func() moments { return moments{} },
		func(acc moments, r records.Record) (moments, error) {
			y, err := value(r, m.Target)
			if err != nil {
				return acc, err
			}
			res, err := m.Residual(r)
			if err != nil {
				return acc, err
			}
			acc.n++
			d := y - acc.meanY
			acc.meanY += d / float64(acc.n)
			acc.m2Y += d * (y - acc.meanY)
			acc.sumRes += res
			acc.sumRes2 += res * res
			return acc, nil
		},
		moments.merge,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("regression: evaluate: %w", err)
	}
	if mo.n == 0 {
		return Summary{}, ErrEmptyInput
	}
	n := float64(mo.n)
	r2 := math.NaN()
	if mo.m2Y > 0 {
		r2 = 1 - mo.sumRes2/mo.m2Y
	}
	return Summary{
		N:            mo.n,
		RMSE:         math.Sqrt(mo.sumRes2 / n),
		R2:           r2,
		MeanResidual: mo.sumRes / n,
	}, nil
}
