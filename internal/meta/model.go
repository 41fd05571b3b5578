package meta

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/signalrun/internal/domain/errs"
	"github.com/sawpanic/signalrun/internal/features"
)

// Model is a fitted classifier bundled with the scaler its inputs need.
type Model struct {
	Classifier
	Scaler *features.Scaler
}

// Score standardizes x and returns predictions with class probabilities.
func (m *Model) Score(x *features.Matrix) ([]int, *mat.Dense, error) {
	scaled, err := m.Scaler.Transform(x)
	if err != nil {
		return nil, nil, err
	}
	dense := scaled.Dense(nil)
	pred, err := m.Predict(dense)
	if err != nil {
		return nil, nil, err
	}
	proba, err := m.PredictProba(dense)
	if err != nil {
		return nil, nil, err
	}
	return pred, proba, nil
}

// Infer scores new rows with the final models: the primary call filtered
// by the secondary, with the secondary's probability of acting.
func (r *Result) Infer(x *features.Matrix) ([]Row, error) {
	if r.Primary == nil || r.Secondary == nil {
		return nil, errs.ErrNotFitted
	}
	pred, proba, err := r.Primary.Score(x)
	if err != nil {
		return nil, err
	}
	classes := r.Primary.Classes()

	rows := make([]Row, x.Rows())
	conf := make([]float64, x.Rows())
	for i := range rows {
		conf[i] = confidence(classes, proba.RawRowView(i), pred[i])
		rows[i] = Row{Index: i, PrimaryPred: pred[i], PrimaryConf: conf[i], MetaEligible: pred[i] != 0,
			MetaProba: math.NaN(), FinalProba: math.NaN()}
	}

	aug := x.Clone()
	if err := aug.Add(ConfidenceColumn, conf); err != nil {
		return nil, err
	}
	metaPred, metaProba, err := r.Secondary.Score(aug)
	if err != nil {
		return nil, err
	}
	metaClasses := r.Secondary.Classes()
	for i := range rows {
		if !rows[i].MetaEligible {
			continue
		}
		rows[i].MetaPred = metaPred[i]
		rows[i].MetaProba = confidence(metaClasses, metaProba.RawRowView(i), 1)
		rows[i].FinalPred = rows[i].PrimaryPred * rows[i].MetaPred
		rows[i].FinalProba = rows[i].MetaProba
	}
	return rows, nil
}
