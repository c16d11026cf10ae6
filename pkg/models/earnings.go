package models

import (
	"math"
	"time"
)

// Earnings timing codes reported by the calendar.
const (
	TimingBeforeOpen  = "bmo"
	TimingAfterClose  = "amc"
	TimingDuringHours = "dmh"
)

// EarningsEvent is one upcoming earnings announcement from the calendar.
type EarningsEvent struct {
	Ticker      string   `json:"ticker"`
	Date        string   `json:"date"` // YYYY-MM-DD
	Hour        string   `json:"hour"`
	EPSEstimate *float64 `json:"eps_estimate"`
}

// EarningsRow is a persisted earnings event with its decision metrics.
type EarningsRow struct {
	Ticker         string    `json:"ticker"          db:"ticker"`
	EarningsDate   time.Time `json:"earnings_date"   db:"earnings_date"`
	EarningsTiming string    `json:"earnings_timing" db:"earnings_timing"`
	ExpectedMove   float64   `json:"expected_move"   db:"expected_move"`
	AvgVolume      float64   `json:"avg_volume"      db:"avg_volume"`
	IVRVRatio      float64   `json:"iv30_rv30"       db:"iv30_rv30"`
	TermSlope      float64   `json:"ts_slope"        db:"ts_slope"`
	EPSEstimate    *float64  `json:"eps_estimate"    db:"eps_estimate"`
	Rating         int       `json:"rating"          db:"rating"`
}

// Rounded returns a copy with metrics rounded to their stored precision:
// two decimals for volume, move and EPS, ten for the ratio and slope.
func (r EarningsRow) Rounded() EarningsRow {
	r.ExpectedMove = round(r.ExpectedMove, 2)
	r.AvgVolume = round(r.AvgVolume, 2)
	r.IVRVRatio = round(r.IVRVRatio, 10)
	r.TermSlope = round(r.TermSlope, 10)
	if r.EPSEstimate != nil {
		eps := round(*r.EPSEstimate, 2)
		r.EPSEstimate = &eps
	}
	return r
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
