// Package bars builds information-driven dollar bars from tick streams.
//
// A Builder has a two-phase lifecycle: Fit derives a Threshold from daily
// dollar volume, then Transform or a Stream aggregates ticks into bars. The
// stream form processes bounded chunks and carries its running state across
// chunk seams, so chunked and in-memory runs produce identical bars.
package bars

import (
	"math"
	"time"
)

// Tick is one input record. Raw trades carry the trade price in Close and
// the same value in Open/High/Low; pre-aggregated OHLCV rows carry their
// own extremes. Amount is NaN when the source had no dollar column.
type Tick struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
}

// NewTrade creates a tick from a single trade print without an amount.
func NewTrade(ts time.Time, price, qty float64) Tick {
	return Tick{
		Time:   ts,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: qty,
		Amount: math.NaN(),
	}
}

// Bar is a closed aggregation of a contiguous tick range.
type Bar struct {
	Time      time.Time `json:"time"` // timestamp of the closing tick
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
	Ticks     int       `json:"ticks"`
	Threshold float64   `json:"threshold"` // threshold in force when the bar opened
}

// Valid reports whether the OHLC bounds and volume sign hold.
func (b Bar) Valid() bool {
	return b.Low <= b.High &&
		b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High &&
		b.Volume >= 0
}

// Closes extracts the close prices of a bar sequence.
func Closes(bs []Bar) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volumes of a bar sequence.
func Volumes(bs []Bar) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Volume
	}
	return out
}
