package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientHistory is returned when there are too few values to fit
// the lag model.
var ErrInsufficientHistory = errors.New("insufficient history for forecast")

// Forecast fits y[t] = b0 + b1*y[t-1] + ... + bp*y[t-p] by least squares
// and predicts horizon steps ahead. Each step's lags are the latest values
// of history followed by the predictions made so far. NaN values are
// dropped before fitting. At least 2*lags+1 valid values are needed.
func Forecast(values []float64, lags, horizon int) ([]float64, error) {
	if lags < 1 {
		return nil, fmt.Errorf("lags must be at least 1, got %d", lags)
	}
	if horizon <= 0 {
		return nil, nil
	}

	series := make([]float64, 0, len(values)+horizon)
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			series = append(series, v)
		}
	}
	if len(series) < 2*lags+1 {
		return nil, fmt.Errorf("%w: have %d values, need %d", ErrInsufficientHistory, len(series), 2*lags+1)
	}

	beta, err := fitLags(series, lags)
	if err != nil {
		return nil, err
	}

	out := make([]float64, horizon)
	for h := range out {
		n := len(series)
		pred := beta.AtVec(0)
		for j := 1; j <= lags; j++ {
			pred += beta.AtVec(j) * series[n-j]
		}
		out[h] = pred
		series = append(series, pred)
	}
	return out, nil
}

// fitLags solves the ridge-stabilised normal equations for the lag model.
// The tiny ridge term keeps flat series solvable.
func fitLags(series []float64, lags int) (*mat.VecDense, error) {
	rows := len(series) - lags
	cols := lags + 1

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		t := i + lags
		x.Set(i, 0, 1)
		for j := 1; j <= lags; j++ {
			x.Set(i, j, series[t-j])
		}
		y.SetVec(i, series[t])
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	ridge := 1e-9 * mat.Trace(&xtx) / float64(cols)
	if ridge == 0 {
		ridge = 1e-9
	}
	for j := 0; j < cols; j++ {
		xtx.Set(j, j, xtx.At(j, j)+ridge)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("failed to fit lag model: %w", err)
		}
		// ill-conditioned solutions are still returned
	}
	return &beta, nil
}
