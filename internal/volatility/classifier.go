package volatility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/seenimoa/earnvol/pkg/models"
)

// Thresholds are the cut-offs of the rating decision table.
type Thresholds struct {
	MinAverageVolume float64 `json:"min_avg_volume"`
	MinIVRVRatio     float64 `json:"min_iv_rv"`
	MaxTermSlope     float64 `json:"max_term_slope"`
}

// DefaultThresholds returns the calibrated production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAverageVolume: 1_500_000,
		MinIVRVRatio:     1.25,
		MaxTermSlope:     -0.00406,
	}
}

// Signal holds the three inputs to the rating.
type Signal struct {
	AverageVolume float64 `json:"avg_volume"`
	IVRVRatio     float64 `json:"iv30_rv30"`
	TermSlope     float64 `json:"ts_slope_0_45"`
}

// Rate applies the decision table. Volume and IV/RV gate the trade; a
// steep enough backwardated slope upgrades it from marginal to favorable.
func (t Thresholds) Rate(s Signal) models.Rating {
	liquid := s.AverageVolume >= t.MinAverageVolume
	rich := s.IVRVRatio >= t.MinIVRVRatio
	inverted := s.TermSlope <= t.MaxTermSlope

	switch {
	case liquid && rich && inverted:
		return models.RatingFavorable
	case liquid && rich:
		return models.RatingMarginal
	default:
		return models.RatingUnfavorable
	}
}

// AverageVolume is the mean volume of the last n sessions.
func AverageVolume(bars []models.PriceBar, n int) (float64, error) {
	if n <= 0 || len(bars) < n {
		return 0, fmt.Errorf("%w: need %d sessions for average volume, have %d", ErrInsufficientHistory, n, len(bars))
	}
	return stat.Mean(models.Volumes(bars[len(bars)-n:]), nil), nil
}

// ExpectedMovePercent converts a straddle price into a percentage of the
// underlying, rounded to two decimals. It is nil without a straddle or when
// the straddle is worth nothing.
func ExpectedMovePercent(straddle *float64, spot float64) *float64 {
	if straddle == nil || *straddle == 0 || spot <= 0 {
		return nil
	}
	pct := math.Round(*straddle/spot*100*100) / 100
	return &pct
}
