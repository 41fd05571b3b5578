package features

import (
	"fmt"
	"math"
	"slices"

	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/domain/stats"
)

// ohlcv is the column view of a bar slice.
type ohlcv struct {
	open, high, low, close, volume []float64
}

func ratio(a, b float64) float64 {
	if math.Abs(b) < errs.Eps {
		b = math.Copysign(errs.Eps, b)
	}
	return a / b
}

func divide(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = ratio(a[i], b[i])
	}
	return out
}

// lag returns x shifted k bars into the past; the head is NaN.
func lag(x []float64, k int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i-k]
	}
	return out
}

func kbar(m *Matrix, d ohlcv) {
	n := len(d.close)
	cols := map[string][]float64{}
	names := []string{"KMID", "KLEN", "KMID2", "KUP", "KUP2", "KLOW", "KLOW2", "KSFT", "KSFT2", "OPEN0", "HIGH0", "LOW0"}
	for _, name := range names {
		cols[name] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		o, h, l, c := d.open[i], d.high[i], d.low[i], d.close[i]
		rng := h - l + errs.Eps
		up := h - math.Max(o, c)
		down := math.Min(o, c) - l
		shift := 2*c - h - l

		cols["KMID"][i] = ratio(c-o, o)
		cols["KLEN"][i] = ratio(h-l, o)
		cols["KMID2"][i] = (c - o) / rng
		cols["KUP"][i] = ratio(up, o)
		cols["KUP2"][i] = up / rng
		cols["KLOW"][i] = ratio(down, o)
		cols["KLOW2"][i] = down / rng
		cols["KSFT"][i] = ratio(shift, o)
		cols["KSFT2"][i] = shift / rng
		cols["OPEN0"][i] = ratio(o, c)
		cols["HIGH0"][i] = ratio(h, c)
		cols["LOW0"][i] = ratio(l, c)
	}
	for _, name := range names {
		m.mustAdd(name, cols[name])
	}
}

// rolling adds the windowed price, volume and correlation families for w.
func rolling(m *Matrix, d ohlcv, w int) {
	c, v := d.close, d.volume
	n := len(c)
	name := func(prefix string) string { return fmt.Sprintf("%s%d", prefix, w) }

	m.mustAdd(name("ROC"), divide(lag(c, w), c))
	m.mustAdd(name("MA"), divide(stats.Rolling(c, w, stats.Mean), c))
	m.mustAdd(name("STD"), divide(stats.Rolling(c, w, stats.Std), c))

	beta, rsqr, resi := make([]float64, n), make([]float64, n), make([]float64, n)
	for t := range c {
		if t < w-1 || slices.ContainsFunc(c[t-w+1:t+1], math.IsNaN) {
			beta[t], rsqr[t], resi[t] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		tr := stats.FitTrend(c[t-w+1 : t+1])
		beta[t], rsqr[t], resi[t] = ratio(tr.Slope, c[t]), tr.RSquared, ratio(tr.Residual, c[t])
	}
	m.mustAdd(name("BETA"), beta)
	m.mustAdd(name("RSQR"), rsqr)
	m.mustAdd(name("RESI"), resi)

	hmax := stats.Rolling(d.high, w, stats.Max)
	lmin := stats.Rolling(d.low, w, stats.Min)
	m.mustAdd(name("MAX"), divide(hmax, c))
	m.mustAdd(name("MIN"), divide(lmin, c))
	m.mustAdd(name("QTLU"), divide(stats.Rolling(c, w, stats.Quantile(0.8)), c))
	m.mustAdd(name("QTLD"), divide(stats.Rolling(c, w, stats.Quantile(0.2)), c))
	m.mustAdd(name("RANK"), stats.Rolling(c, w, stats.Rank))

	rsv := make([]float64, n)
	for t := range c {
		rsv[t] = (c[t] - lmin[t]) / (hmax[t] - lmin[t] + errs.Eps)
	}
	m.mustAdd(name("RSV"), rsv)

	imax := stats.Rolling(d.high, w, stats.SinceMax)
	imin := stats.Rolling(d.low, w, stats.SinceMin)
	imxd := make([]float64, n)
	for t := range imxd {
		imxd[t] = imax[t] - imin[t]
	}
	m.mustAdd(name("IMAX"), imax)
	m.mustAdd(name("IMIN"), imin)
	m.mustAdd(name("IMXD"), imxd)

	logv := make([]float64, n)
	for t := range v {
		logv[t] = math.Log(v[t] + 1)
	}
	prevC, prevV := lag(c, 1), lag(v, 1)
	ret := divide(c, prevC)
	dlogv := make([]float64, n)
	for t := range v {
		dlogv[t] = math.Log(ratio(v[t], prevV[t]) + 1)
	}
	m.mustAdd(name("CORR"), stats.Rolling2(c, logv, w, stats.Corr))
	m.mustAdd(name("CORD"), stats.Rolling2(ret, dlogv, w, stats.Corr))

	up, down, dc := make([]float64, n), make([]float64, n), make([]float64, n)
	gain, loss, absd := make([]float64, n), make([]float64, n), make([]float64, n)
	for t := range c {
		delta := c[t] - prevC[t]
		if math.IsNaN(delta) {
			up[t], down[t], gain[t], loss[t], absd[t] = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
			continue
		}
		up[t], down[t] = indicator(delta > 0), indicator(delta < 0)
		gain[t], loss[t], absd[t] = math.Max(delta, 0), math.Max(-delta, 0), math.Abs(delta)
	}
	cntp := stats.Rolling(up, w, stats.Mean)
	cntn := stats.Rolling(down, w, stats.Mean)
	for t := range dc {
		dc[t] = cntp[t] - cntn[t]
	}
	m.mustAdd(name("CNTP"), cntp)
	m.mustAdd(name("CNTN"), cntn)
	m.mustAdd(name("CNTD"), dc)
	addSums(m, name, "SUM", gain, loss, absd, w)

	m.mustAdd(name("VMA"), divideEps(stats.Rolling(v, w, stats.Mean), v))
	m.mustAdd(name("VSTD"), divideEps(stats.Rolling(v, w, stats.Std), v))

	wv := make([]float64, n)
	for t := range c {
		wv[t] = math.Abs(ret[t]-1) * v[t]
	}
	wstd := stats.Rolling(wv, w, stats.Std)
	wmean := stats.Rolling(wv, w, stats.Mean)
	m.mustAdd(name("WVMA"), divideEps(wstd, wmean))

	vgain, vloss, vabs := make([]float64, n), make([]float64, n), make([]float64, n)
	for t := range v {
		delta := v[t] - prevV[t]
		if math.IsNaN(delta) {
			vgain[t], vloss[t], vabs[t] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		vgain[t], vloss[t], vabs[t] = math.Max(delta, 0), math.Max(-delta, 0), math.Abs(delta)
	}
	addSums(m, name, "VSUM", vgain, vloss, vabs, w)
}

// addSums adds the <prefix>P, <prefix>N and <prefix>D share-of-movement
// columns.
func addSums(m *Matrix, name func(string) string, prefix string, gain, loss, abs []float64, w int) {
	g := stats.Rolling(gain, w, stats.Sum)
	l := stats.Rolling(loss, w, stats.Sum)
	a := stats.Rolling(abs, w, stats.Sum)
	p, q, d := make([]float64, len(g)), make([]float64, len(g)), make([]float64, len(g))
	for t := range g {
		p[t] = g[t] / (a[t] + errs.Eps)
		q[t] = l[t] / (a[t] + errs.Eps)
		d[t] = (g[t] - l[t]) / (a[t] + errs.Eps)
	}
	m.mustAdd(name(prefix+"P"), p)
	m.mustAdd(name(prefix+"N"), q)
	m.mustAdd(name(prefix+"D"), d)
}

func divideEps(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] / (b[i] + errs.Eps)
	}
	return out
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
