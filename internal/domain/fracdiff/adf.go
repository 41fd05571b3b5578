package fracdiff

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrTooFewPoints is returned when the series is too short for the
// requested regression.
var ErrTooFewPoints = errors.New("adf: too few observations")

// ErrDegenerate is returned when the regression cannot be solved, e.g.
// for a constant series.
var ErrDegenerate = errors.New("adf: degenerate regression")

// ADFConfig controls lag selection for the Dickey-Fuller regression.
type ADFConfig struct {
	// MaxLag is the largest lagged difference considered; a negative value
	// selects Schwert's rule ceil(12 * (n/100)^(1/4)).
	MaxLag int `yaml:"max_lag"`
	// AutoLag picks the lag minimizing AIC; otherwise MaxLag is used as is.
	AutoLag bool `yaml:"auto_lag"`
}

// DefaultADFConfig mirrors the usual constant-only, AIC-selected test.
func DefaultADFConfig() ADFConfig {
	return ADFConfig{MaxLag: -1, AutoLag: true}
}

// ADFResult is the outcome of one augmented Dickey-Fuller test.
type ADFResult struct {
	Stat    float64 `json:"stat"`
	PValue  float64 `json:"p_value"`
	UsedLag int     `json:"used_lag"`
	NObs    int     `json:"n_obs"`
}

// ADF runs the augmented Dickey-Fuller test with a constant term:
//
//	Δy_t = α + β·y_{t-1} + Σ γ_i·Δy_{t-i} + ε_t
//
// and reports the t-statistic of β with its MacKinnon approximate p-value.
func ADF(y []float64, cfg ADFConfig) (ADFResult, error) {
	n := len(y)
	if n < 4 {
		return ADFResult{}, fmt.Errorf("%w: have %d", ErrTooFewPoints, n)
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ADFResult{}, fmt.Errorf("%w: non-finite input", ErrDegenerate)
		}
	}

	nobs := n - 1
	maxLag := cfg.MaxLag
	if maxLag < 0 {
		maxLag = int(math.Ceil(12 * math.Pow(float64(nobs)/100, 0.25)))
	}
	// Leave room for the constant, the level and at least a few residual
	// degrees of freedom.
	if limit := nobs/2 - 2; maxLag > limit {
		maxLag = limit
	}
	if maxLag < 0 {
		return ADFResult{}, fmt.Errorf("%w: have %d", ErrTooFewPoints, n)
	}

	dy := make([]float64, nobs)
	for i := 0; i < nobs; i++ {
		dy[i] = y[i+1] - y[i]
	}

	lag := maxLag
	if cfg.AutoLag {
		bestAIC := math.Inf(1)
		bestLag := -1
		for l := 0; l <= maxLag; l++ {
			fit, err := dfRegression(y, dy, l, maxLag)
			if err != nil {
				continue
			}
			aic := float64(fit.nobs)*math.Log(fit.rss/float64(fit.nobs)) + 2*float64(fit.k)
			if aic < bestAIC {
				bestAIC = aic
				bestLag = l
			}
		}
		if bestLag < 0 {
			return ADFResult{}, ErrDegenerate
		}
		lag = bestLag
	}

	fit, err := dfRegression(y, dy, lag, lag)
	if err != nil {
		return ADFResult{}, err
	}

	return ADFResult{
		Stat:    fit.tStat,
		PValue:  MacKinnonP(fit.tStat),
		UsedLag: lag,
		NObs:    fit.nobs,
	}, nil
}

type dfFit struct {
	tStat float64
	rss   float64
	nobs  int
	k     int
}

// dfRegression fits the DF regression with `lag` lagged differences over
// the sample starting at `start` (start >= lag keeps samples comparable
// across lags during AIC selection).
func dfRegression(y, dy []float64, lag, start int) (dfFit, error) {
	nobs := len(dy) - start
	k := 2 + lag
	if nobs <= k+1 {
		return dfFit{}, fmt.Errorf("%w: %d observations for %d regressors", ErrTooFewPoints, nobs, k)
	}

	X := mat.NewDense(nobs, k, nil)
	target := mat.NewVecDense(nobs, nil)
	for r := 0; r < nobs; r++ {
		t := start + r
		target.SetVec(r, dy[t])
		X.Set(r, 0, 1)
		X.Set(r, 1, y[t])
		for i := 1; i <= lag; i++ {
			X.Set(r, 1+i, dy[t-i])
		}
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return dfFit{}, ErrDegenerate
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), target)
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return dfFit{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	rss := 0.0
	for r := 0; r < nobs; r++ {
		e := target.AtVec(r) - fitted.AtVec(r)
		rss += e * e
	}
	if rss <= 0 {
		return dfFit{}, ErrDegenerate
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return dfFit{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	sigma2 := rss / float64(nobs-k)
	se := math.Sqrt(sigma2 * inv.At(1, 1))
	if se == 0 || math.IsNaN(se) {
		return dfFit{}, ErrDegenerate
	}

	return dfFit{
		tStat: beta.AtVec(1) / se,
		rss:   rss,
		nobs:  nobs,
		k:     k,
	}, nil
}

// MacKinnon (1994) response-surface coefficients for the constant-only
// regression with one series.
var (
	tauMaxC    = 2.74
	tauMinC    = -18.83
	tauStarC   = -1.61
	tauSmallPC = []float64{2.1659, 1.4412, 0.038269}
	tauLargePC = []float64{1.7339, 0.93202, -0.12745, -0.010368}
)

// MacKinnonP maps a Dickey-Fuller t-statistic to its approximate p-value.
func MacKinnonP(stat float64) float64 {
	switch {
	case math.IsNaN(stat):
		return 1
	case stat > tauMaxC:
		return 1
	case stat < tauMinC:
		return 0
	}

	coef := tauLargePC
	if stat <= tauStarC {
		coef = tauSmallPC
	}
	poly := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		poly = poly*stat + coef[i]
	}
	return distuv.UnitNormal.CDF(poly)
}
