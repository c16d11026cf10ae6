package volatility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/seenimoa/earnvol/pkg/models"
)

// Default Yang-Zhang parameters.
const (
	DefaultWindow         = 30
	DefaultTradingPeriods = 252
)

// YangZhang computes the annualised Yang-Zhang volatility for every session
// whose trailing window of bars is complete. The result has
// len(bars)-window values; the last one belongs to the most recent session.
//
// Rolling sums use the unbiased divisor window-1 and the weight
// k = 0.34 / (1.34 + (window+1)/(window-1)).
func YangZhang(bars []models.PriceBar, window, tradingPeriods int) ([]float64, error) {
	if window < 2 {
		return nil, fmt.Errorf("yang-zhang window must be at least 2, got %d", window)
	}
	if len(bars) < window+1 {
		return nil, fmt.Errorf("%w: need %d bars, have %d", ErrInsufficientHistory, window+1, len(bars))
	}
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return nil, fmt.Errorf("%w: non-positive price in bar %d", ErrInsufficientHistory, i)
		}
	}

	n := len(bars)
	// Index 0 has no previous close; the slices start at session 1.
	openSq := make([]float64, n-1)
	closeSq := make([]float64, n-1)
	rs := make([]float64, n-1)
	for t := 1; t < n; t++ {
		b, prev := bars[t], bars[t-1]
		logHO := math.Log(b.High / b.Open)
		logLO := math.Log(b.Low / b.Open)
		logCO := math.Log(b.Close / b.Open)
		logOC := math.Log(b.Open / prev.Close)
		logCC := math.Log(b.Close / prev.Close)

		openSq[t-1] = logOC * logOC
		closeSq[t-1] = logCC * logCC
		rs[t-1] = logHO*(logHO-logCO) + logLO*(logLO-logCO)
	}

	w := float64(window)
	k := 0.34 / (1.34 + (w+1)/(w-1))
	annualise := math.Sqrt(float64(tradingPeriods))

	out := make([]float64, 0, n-window)
	for end := window; end <= len(rs); end++ {
		start := end - window
		openVol := floats.Sum(openSq[start:end]) / (w - 1)
		closeVol := floats.Sum(closeSq[start:end]) / (w - 1)
		windowRS := floats.Sum(rs[start:end]) / (w - 1)

		variance := openVol + k*closeVol + (1-k)*windowRS
		if variance < 0 {
			// Only reachable with bars whose high/low do not bracket open and close.
			variance = 0
		}
		out = append(out, math.Sqrt(variance)*annualise)
	}
	return out, nil
}

// RealizedVolatility returns the Yang-Zhang volatility of the most recent session.
func RealizedVolatility(bars []models.PriceBar, window, tradingPeriods int) (float64, error) {
	series, err := YangZhang(bars, window, tradingPeriods)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}
