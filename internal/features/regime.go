package features

import (
	"fmt"

	"github.com/sawpanic/signalrun/internal/domain/labeling"
	"github.com/sawpanic/signalrun/internal/domain/stats"
)

func regime(m *Matrix, close []float64, windows []int, bins int) {
	r := labeling.LogReturns(close)
	for _, w := range windows {
		m.mustAdd(fmt.Sprintf("REG_VOL%d", w), stats.Rolling(r, w, stats.Std))
		m.mustAdd(fmt.Sprintf("REG_AC1_%d", w), stats.Rolling(r, w, stats.AutoCorr1))
		m.mustAdd(fmt.Sprintf("REG_ENT%d", w), stats.Rolling(r, w, stats.Entropy(bins)))
	}
}
