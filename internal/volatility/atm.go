package volatility

import (
	"fmt"
	"math"
	"time"

	"github.com/seenimoa/earnvol/pkg/models"
)

// AtmPoint is the blended at-the-money implied volatility of one expiration.
type AtmPoint struct {
	Expiration   string  `json:"expiration"`
	DaysToExpiry int     `json:"days_to_expiry"`
	ImpliedVol   float64 `json:"implied_vol"`
}

// ExtractATMPoints computes one AtmPoint per usable chain, in the order the
// chains are given. Chains with an empty call or put side, or that expire
// before today, are skipped. The first returned point belongs to the nearest
// usable expiration when chains are sorted ascending.
func ExtractATMPoints(chains []models.ExpirationChain, spot float64, today time.Time) ([]AtmPoint, error) {
	points := make([]AtmPoint, 0, len(chains))
	for _, chain := range chains {
		if !chain.Usable() {
			continue
		}
		dte, err := DaysToExpiry(chain.Expiration, today)
		if err != nil || dte < 0 {
			continue
		}

		call := nearestStrike(chain.Calls, spot)
		put := nearestStrike(chain.Puts, spot)
		iv := (call.ImpliedVolatility + put.ImpliedVolatility) / 2.0

		points = append(points, AtmPoint{
			Expiration:   chain.Expiration,
			DaysToExpiry: dte,
			ImpliedVol:   iv,
		})
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: all %d expirations skipped", ErrNoATMData, len(chains))
	}
	return points, nil
}

// ExtractStraddle prices the ATM straddle of a single chain from bid/ask
// mids. It returns nil when either leg has no tradable mid.
func ExtractStraddle(chain models.ExpirationChain, spot float64) *float64 {
	if !chain.Usable() {
		return nil
	}
	callMid, ok := nearestStrike(chain.Calls, spot).Mid()
	if !ok {
		return nil
	}
	putMid, ok := nearestStrike(chain.Puts, spot).Mid()
	if !ok {
		return nil
	}
	straddle := callMid + putMid
	return &straddle
}

// NearestChain returns the chain the first AtmPoint was extracted from.
func NearestChain(chains []models.ExpirationChain, points []AtmPoint) (models.ExpirationChain, bool) {
	if len(points) == 0 {
		return models.ExpirationChain{}, false
	}
	for _, c := range chains {
		if c.Expiration == points[0].Expiration {
			return c, true
		}
	}
	return models.ExpirationChain{}, false
}

// nearestStrike returns the quote whose strike is closest to spot. On equal
// distance the earlier quote wins. quotes must be non-empty.
func nearestStrike(quotes []models.OptionQuote, spot float64) models.OptionQuote {
	best := quotes[0]
	minDiff := math.Abs(best.Strike - spot)
	for _, q := range quotes[1:] {
		diff := math.Abs(q.Strike - spot)
		if diff < minDiff {
			minDiff = diff
			best = q
		}
	}
	return best
}
