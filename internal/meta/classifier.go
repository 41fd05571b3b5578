// Package meta runs the two-stage meta-labeling workflow: out-of-sample
// primary predictions, meta-label construction and a secondary filter.
package meta

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/signalrun/internal/domain/errs"
)

// Classifier is the model capability both stages rely on.
type Classifier interface {
	// Fit trains on X (rows are samples) with integer classes y and
	// optional per-sample weights w (nil means uniform).
	Fit(X mat.Matrix, y []int, w []float64) error
	Predict(X mat.Matrix) ([]int, error)
	// PredictProba returns one column per entry of Classes.
	PredictProba(X mat.Matrix) (*mat.Dense, error)
	Classes() []int
}

// Factory builds a fresh, unfitted classifier.
type Factory func() Classifier

// LogisticConfig tunes the gradient descent of Logistic.
type LogisticConfig struct {
	L2           float64 `yaml:"l2" validate:"gte=0"`
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`
	MaxIter      int     `yaml:"max_iter" validate:"gt=0"`
	Tol          float64 `yaml:"tol" validate:"gte=0"`
}

// DefaultLogisticConfig returns settings suited to standardized features.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{L2: 1e-3, LearningRate: 0.5, MaxIter: 500, Tol: 1e-6}
}

// Logistic is a weighted multinomial (softmax) logistic regression fit by
// full-batch gradient descent from a zero start, so results are
// reproducible.
type Logistic struct {
	cfg     LogisticConfig
	classes []int
	coef    *mat.Dense // (features+1) x classes; the last row is the bias
}

// NewLogistic returns an unfitted classifier.
func NewLogistic(cfg LogisticConfig) *Logistic {
	return &Logistic{cfg: cfg}
}

// LogisticFactory adapts NewLogistic to a Factory.
func LogisticFactory(cfg LogisticConfig) Factory {
	return func() Classifier { return NewLogistic(cfg) }
}

// Classes returns the sorted class labels seen by Fit.
func (l *Logistic) Classes() []int { return slices.Clone(l.classes) }

func withBias(X mat.Matrix) *mat.Dense {
	n, p := X.Dims()
	xb := mat.NewDense(n, p+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xb.Set(i, j, X.At(i, j))
		}
		xb.Set(i, p, 1)
	}
	return xb
}

func softmaxRows(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		top := slices.Max(row)
		var sum float64
		for k := 0; k < c; k++ {
			row[k] = math.Exp(row[k] - top)
			sum += row[k]
		}
		for k := 0; k < c; k++ {
			row[k] /= sum
		}
	}
}

// Fit implements Classifier.
func (l *Logistic) Fit(X mat.Matrix, y []int, w []float64) error {
	n, p := X.Dims()
	if n == 0 || n != len(y) {
		return errs.Shape("%d rows for %d labels", n, len(y))
	}
	if w != nil && len(w) != n {
		return errs.Shape("%d weights for %d rows", len(w), n)
	}

	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return errs.SingleClass(classes[0])
	}
	slot := make(map[int]int, len(classes))
	for k, c := range classes {
		slot[c] = k
	}

	weights := make([]float64, n)
	var total float64
	for i := range weights {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		if wi < 0 || math.IsNaN(wi) {
			return errs.Shape("weight %d is %g", i, wi)
		}
		weights[i] = wi
		total += wi
	}
	if total <= 0 {
		return errs.Shape("sample weights sum to %g", total)
	}
	for i := range weights {
		weights[i] /= total
	}

	k := len(classes)
	xb := withBias(X)
	coef := mat.NewDense(p+1, k, nil)
	prob := mat.NewDense(n, k, nil)
	resid := mat.NewDense(n, k, nil)
	grad := mat.NewDense(p+1, k, nil)

	for iter := 0; iter < l.cfg.MaxIter; iter++ {
		prob.Mul(xb, coef)
		softmaxRows(prob)
		for i := 0; i < n; i++ {
			for c := 0; c < k; c++ {
				r := prob.At(i, c)
				if slot[y[i]] == c {
					r--
				}
				resid.Set(i, c, weights[i]*r)
			}
		}
		grad.Mul(xb.T(), resid)

		var worst float64
		for j := 0; j <= p; j++ {
			for c := 0; c < k; c++ {
				g := grad.At(j, c)
				if j < p {
					g += l.cfg.L2 * coef.At(j, c)
				}
				worst = math.Max(worst, math.Abs(g))
				coef.Set(j, c, coef.At(j, c)-l.cfg.LearningRate*g)
			}
		}
		if worst < l.cfg.Tol {
			break
		}
	}

	l.classes, l.coef = classes, coef
	return nil
}

// PredictProba implements Classifier.
func (l *Logistic) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if l.coef == nil {
		return nil, errs.ErrNotFitted
	}
	n, p := X.Dims()
	if rows, _ := l.coef.Dims(); p+1 != rows {
		return nil, errs.Shape("model has %d features, input has %d", rows-1, p)
	}
	prob := mat.NewDense(n, len(l.classes), nil)
	prob.Mul(withBias(X), l.coef)
	softmaxRows(prob)
	return prob, nil
}

// Predict implements Classifier.
func (l *Logistic) Predict(X mat.Matrix) ([]int, error) {
	prob, err := l.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := prob.Dims()
	out := make([]int, n)
	for i := range out {
		out[i] = l.classes[argmax(prob.RawRowView(i))]
	}
	return out, nil
}

func argmax(row []float64) int {
	best := 0
	for k, v := range row {
		if v > row[best] {
			best = k
		}
	}
	return best
}
