package volatility

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// TermStructure is implied volatility as a function of days to expiry:
// piecewise linear between observed day counts and held constant beyond
// the first and last of them.
type TermStructure struct {
	days []float64
	ivs  []float64
	pl   *interp.PiecewiseLinear
}

// BuildTermStructure fits a term structure to the ATM points. Points are
// sorted by day count; points sharing a day count are merged into one knot
// at their mean implied volatility.
func BuildTermStructure(points []AtmPoint) (*TermStructure, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: empty term structure", ErrNoATMData)
	}

	sorted := make([]AtmPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DaysToExpiry < sorted[j].DaysToExpiry
	})

	ts := &TermStructure{}
	for i := 0; i < len(sorted); {
		j := i
		group := []float64{}
		for j < len(sorted) && sorted[j].DaysToExpiry == sorted[i].DaysToExpiry {
			group = append(group, sorted[j].ImpliedVol)
			j++
		}
		ts.days = append(ts.days, float64(sorted[i].DaysToExpiry))
		ts.ivs = append(ts.ivs, stat.Mean(group, nil))
		i = j
	}

	if len(ts.days) > 1 {
		ts.pl = &interp.PiecewiseLinear{}
		if err := ts.pl.Fit(ts.days, ts.ivs); err != nil {
			return nil, fmt.Errorf("fit term structure: %w", err)
		}
	}
	return ts, nil
}

// At evaluates the term structure at the given day count.
func (ts *TermStructure) At(days float64) float64 {
	n := len(ts.days)
	switch {
	case days <= ts.days[0]:
		return ts.ivs[0]
	case days >= ts.days[n-1]:
		return ts.ivs[n-1]
	default:
		return ts.pl.Predict(days)
	}
}

// Knots returns the day counts and implied volatilities the curve passes through.
func (ts *TermStructure) Knots() (days, ivs []float64) {
	days = append([]float64(nil), ts.days...)
	ivs = append([]float64(nil), ts.ivs...)
	return days, ivs
}

// TermSlope is the average slope of the curve from the nearest day count out
// to horizon days.
func (ts *TermStructure) TermSlope(firstDays int, horizon int) (float64, error) {
	if firstDays == horizon {
		return 0, fmt.Errorf("%w: nearest expiration sits on the %d day horizon", ErrDegenerateSlope, horizon)
	}
	d0 := float64(firstDays)
	h := float64(horizon)
	return (ts.At(h) - ts.At(d0)) / (h - d0), nil
}
