package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// JBResult is a Jarque-Bera normality test outcome.
type JBResult struct {
	Stat     float64 `json:"jb"`
	PValue   float64 `json:"p_value"`
	Skew     float64 `json:"skew"`
	Kurtosis float64 `json:"excess_kurtosis"`
	N        int     `json:"n"`
}

// JarqueBera tests x for normality, ignoring NaNs. Fewer than four points
// or a constant series yield a NaN statistic with p = 1.
func JarqueBera(x []float64) JBResult {
	clean := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	res := JBResult{Stat: math.NaN(), PValue: 1, Skew: math.NaN(), Kurtosis: math.NaN(), N: len(clean)}
	if len(clean) < 4 {
		return res
	}
	if _, sd := stat.MeanStdDev(clean, nil); sd == 0 || math.IsNaN(sd) {
		return res
	}
	s := stat.Skew(clean, nil)
	k := stat.ExKurtosis(clean, nil)
	n := float64(len(clean))
	jb := n / 6 * (s*s + k*k/4)

	res.Stat, res.Skew, res.Kurtosis = jb, s, k
	res.PValue = distuv.ChiSquared{K: 2}.Survival(jb)
	return res
}
