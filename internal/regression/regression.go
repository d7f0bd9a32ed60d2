// Package regression fits ordinary least squares models over a partitioned
// collection.
//
// Fitting is a single pass: every partition reduces its rows to n, the
// column means and the centered co-moment matrix, partials are merged
// pairwise, and the centered normal equations are solved for the slopes with
// a Cholesky factorization. The intercept follows from the means. Memory is O(k²) in the number of predictors and
// independent of the row count.
package regression

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"residuals/internal/dataframe"
	"residuals/internal/records"
	"residuals/internal/schema"
)

var (
	// ErrEmptyInput is returned when there are no rows to fit.
	ErrEmptyInput = errors.New("regression: no rows to fit")
	// ErrSingular is returned when the predictors are collinear (or there are
	// fewer rows than coefficients) and no unique solution exists.
	ErrSingular = errors.New("regression: design matrix is singular")
)

// maxCond bounds the condition number of the scaled predictor co-moment
// matrix accepted as non-singular.
const maxCond = 1e13

// Model is a fitted linear model: target ≈ Intercept + Σ Coefficients[i]·Predictors[i].
type Model struct {
	Target       string    `json:"target"`
	Predictors   []string  `json:"predictors"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	// N is the number of rows the model was fitted on.
	N int64 `json:"n"`
}

// Coefficient returns the coefficient for predictor name.
func (m *Model) Coefficient(name string) (float64, bool) {
	for i, p := range m.Predictors {
		if p == name {
			return m.Coefficients[i], true
		}
	}
	return 0, false
}

// Predict evaluates the model on r. Every predictor must be present and
// numeric.
func (m *Model) Predict(r records.Record) (float64, error) {
	y := m.Intercept
	for i, p := range m.Predictors {
		v, err := value(r, p)
		if err != nil {
			return 0, err
		}
		y += m.Coefficients[i] * v
	}
	return y, nil
}

// Residual returns target - Predict(r).
func (m *Model) Residual(r records.Record) (float64, error) {
	y, err := value(r, m.Target)
	if err != nil {
		return 0, err
	}
	p, err := m.Predict(r)
	if err != nil {
		return 0, err
	}
	return y - p, nil
}

func (m *Model) String() string {
	s := fmt.Sprintf("%s = %.6g", m.Target, m.Intercept)
	for i, p := range m.Predictors {
		s += fmt.Sprintf(" %+.6g*%s", m.Coefficients[i], p)
	}
	return s
}

func value(r records.Record, col string) (float64, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, fmt.Errorf("column %q is null", col)
	}
	f, ok := schema.Float64(v)
	if !ok {
		return 0, fmt.Errorf("column %q: non-numeric value %T", col, v)
	}
	return f, nil
}

// normal holds centered sufficient statistics for one partition: the means
// of (predictors..., target) and their co-moment matrix. Centering keeps the
// statistics well conditioned when values sit far from zero.
type normal struct {
	p    int // predictors + target
	n    int64
	mean []float64
	cm   []float64 // p×p co-moments, upper triangle, row-major
	z    []float64 // scratch row
	d    []float64 // scratch deltas
}

func newNormal(p int) *normal {
	return &normal{
		p:    p,
		mean: make([]float64, p),
		cm:   make([]float64, p*p),
		z:    make([]float64, p),
		d:    make([]float64, p),
	}
}

func (s *normal) add(target string, predictors []string, r records.Record) error {
	var err error
	for i, c := range predictors {
		if s.z[i], err = value(r, c); err != nil {
			return err
		}
	}
	if s.z[s.p-1], err = value(r, target); err != nil {
		return err
	}
	s.n++
	n := float64(s.n)
	for i := 0; i < s.p; i++ {
		s.d[i] = s.z[i] - s.mean[i]
		s.mean[i] += s.d[i] / n
	}
	for i := 0; i < s.p; i++ {
		row := s.cm[i*s.p:]
		for j := i; j < s.p; j++ {
			row[j] += s.d[i] * (s.z[j] - s.mean[j])
		}
	}
	return nil
}

// merge folds o into s with the pairwise update of Chan et al.
func (s *normal) merge(o *normal) *normal {
	if o == nil || o.n == 0 {
		return s
	}
	if s.n == 0 {
		s.n = o.n
		copy(s.mean, o.mean)
		copy(s.cm, o.cm)
		return s
	}
	na, nb := float64(s.n), float64(o.n)
	n := na + nb
	f := na * nb / n
	for i := 0; i < s.p; i++ {
		s.d[i] = o.mean[i] - s.mean[i]
	}
	for i := 0; i < s.p; i++ {
		for j := i; j < s.p; j++ {
			s.cm[i*s.p+j] += o.cm[i*s.p+j] + f*s.d[i]*s.d[j]
		}
	}
	for i := 0; i < s.p; i++ {
		s.mean[i] += s.d[i] * nb / n
	}
	s.n += o.n
	return s
}

// Fit estimates target from predictors over every row of c. Rows must not
// contain nulls in the referenced columns.
func Fit(ctx context.Context, c dataframe.Collection, target string, predictors []string) (*Model, error) {
	if len(predictors) == 0 {
		return nil, fmt.Errorf("regression: at least one predictor is required")
	}
	k := len(predictors) + 1
	stats, err := dataframe.Aggregate(ctx, c,
		func() *normal { return newNormal(k) },
		func(acc *normal, r records.Record) (*normal, error) {
			return acc, acc.add(target, predictors, r)
		},
		func(a, b *normal) *normal { return a.merge(b) },
	)
	if err != nil {
		return nil, fmt.Errorf("regression: accumulate: %w", err)
	}
	if stats.n == 0 {
		return nil, ErrEmptyInput
	}
	if stats.n < int64(k) {
		return nil, fmt.Errorf("%w: %d rows for %d coefficients", ErrSingular, stats.n, k)
	}
	slopes, err := solve(predictors, stats.cm)
	if err != nil {
		return nil, err
	}
	intercept := stats.mean[k-1]
	for i, b := range slopes {
		intercept -= b * stats.mean[i]
	}
	return &Model{
		Target:       target,
		Predictors:   append([]string(nil), predictors...),
		Intercept:    intercept,
		Coefficients: slopes,
		N:            stats.n,
	}, nil
}

// solve returns the slopes β for Sxx·β = Sxy, where Sxx and Sxy are the
// centered predictor co-moments and the predictor/target co-moments in cm.
// The system is scaled to unit diagonal before factorization so the
// condition number reflects collinearity rather than predictor units.
func solve(predictors []string, cm []float64) ([]float64, error) {
	q := len(predictors)
	p := q + 1
	scale := make([]float64, q)
	for i := range scale {
		v := cm[i*p+i]
		if !(v > 0) {
			return nil, fmt.Errorf("%w: predictor %q is constant", ErrSingular, predictors[i])
		}
		scale[i] = math.Sqrt(v)
	}

	a := mat.NewSymDense(q, nil)
	rhs := mat.NewVecDense(q, nil)
	for i := 0; i < q; i++ {
		for j := i; j < q; j++ {
			a.SetSym(i, j, cm[i*p+j]/(scale[i]*scale[j]))
		}
		rhs.SetVec(i, cm[i*p+q]/scale[i])
	}
	var ch mat.Cholesky
	if ok := ch.Factorize(a); !ok {
		return nil, ErrSingular
	}
	if c := ch.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCond {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrSingular, c)
	}
	var gamma mat.VecDense
	if err := ch.SolveVecTo(&gamma, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := make([]float64, q)
	for i := range out {
		out[i] = gamma.AtVec(i) / scale[i]
	}
	return out, nil
}
