package volatility

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/earnvol/pkg/models"
)

var testToday = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func day(offset int) string {
	return testToday.AddDate(0, 0, offset).Format(models.DateLayout)
}

// ════════════════════════════════════════════════════════════════════
// Expiration filter
// ════════════════════════════════════════════════════════════════════

func TestFilterExpirationsBoundary(t *testing.T) {
	dates := []string{day(45), day(14), day(3), day(30)}

	got, err := FilterExpirations(dates, testToday, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{day(3), day(14), day(30), day(45)}, got)
}

func TestFilterExpirationsConcreteScenario(t *testing.T) {
	offsets := []int{120, 7, 50, 200, 30, 64, 92, 155, 365, 400}
	dates := make([]string, len(offsets))
	for i, o := range offsets {
		dates[i] = day(o)
	}

	got, err := FilterExpirations(dates, testToday, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{day(7), day(30), day(50)}, got)
}

func TestFilterExpirationsDropsSameDay(t *testing.T) {
	dates := []string{day(0), day(7), day(60), day(90)}

	got, err := FilterExpirations(dates, testToday, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{day(7), day(60)}, got)
}

func TestFilterExpirationsNothingFarEnough(t *testing.T) {
	_, err := FilterExpirations([]string{day(3), day(10), day(44)}, testToday, 45)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = FilterExpirations(nil, testToday, 45)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFilterExpirationsBadDate(t *testing.T) {
	_, err := FilterExpirations([]string{"2026/04/01"}, testToday, 45)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDaysToExpiry(t *testing.T) {
	dte, err := DaysToExpiry(day(30), testToday)
	require.NoError(t, err)
	assert.Equal(t, 30, dte)

	dte, err = DaysToExpiry(day(0), testToday)
	require.NoError(t, err)
	assert.Equal(t, 0, dte)
}

func TestDaysToExpiryUsesClockDate(t *testing.T) {
	// 21:00 EST on 2 March is already 3 March in UTC.
	est := time.FixedZone("EST", -5*60*60)
	evening := time.Date(2026, 3, 2, 21, 0, 0, 0, est)

	dte, err := DaysToExpiry("2026-03-16", evening)
	require.NoError(t, err)
	assert.Equal(t, 14, dte)

	dte, err = DaysToExpiry("2026-03-16", evening.UTC())
	require.NoError(t, err)
	assert.Equal(t, 13, dte)
}

// ════════════════════════════════════════════════════════════════════
// ATM extraction
// ════════════════════════════════════════════════════════════════════

func quote(strike, iv float64, bid, ask *float64) models.OptionQuote {
	return models.OptionQuote{Strike: strike, ImpliedVolatility: iv, Bid: bid, Ask: ask}
}

func chainAt(offset int, iv float64) models.ExpirationChain {
	return models.ExpirationChain{
		Expiration: day(offset),
		Calls: []models.OptionQuote{
			quote(95, iv+0.05, models.Float(6.0), models.Float(6.4)),
			quote(100, iv, models.Float(2.9), models.Float(3.1)),
			quote(105, iv-0.02, models.Float(0.9), models.Float(1.1)),
		},
		Puts: []models.OptionQuote{
			quote(95, iv+0.04, models.Float(0.8), models.Float(1.0)),
			quote(100, iv, models.Float(2.4), models.Float(2.6)),
			quote(105, iv-0.01, models.Float(5.8), models.Float(6.2)),
		},
	}
}

func TestExtractATMPoints(t *testing.T) {
	chains := []models.ExpirationChain{chainAt(7, 0.40), chainAt(30, 0.35), chainAt(60, 0.32)}

	points, err := ExtractATMPoints(chains, 100.4, testToday)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, 7, points[0].DaysToExpiry)
	assert.InDelta(t, 0.40, points[0].ImpliedVol, 1e-12)
	assert.Equal(t, 60, points[2].DaysToExpiry)
	assert.InDelta(t, 0.32, points[2].ImpliedVol, 1e-12)
}

func TestExtractATMPointsBlendsCallAndPut(t *testing.T) {
	chain := models.ExpirationChain{
		Expiration: day(20),
		Calls:      []models.OptionQuote{quote(50, 0.30, nil, nil)},
		Puts:       []models.OptionQuote{quote(50, 0.50, nil, nil)},
	}
	points, err := ExtractATMPoints([]models.ExpirationChain{chain}, 50, testToday)
	require.NoError(t, err)
	assert.InDelta(t, 0.40, points[0].ImpliedVol, 1e-12)
}

func TestExtractATMPointsTieKeepsFirst(t *testing.T) {
	chain := models.ExpirationChain{
		Expiration: day(20),
		Calls:      []models.OptionQuote{quote(95, 0.20, nil, nil), quote(105, 0.60, nil, nil)},
		Puts:       []models.OptionQuote{quote(105, 0.60, nil, nil), quote(95, 0.20, nil, nil)},
	}
	points, err := ExtractATMPoints([]models.ExpirationChain{chain}, 100, testToday)
	require.NoError(t, err)
	// Call picks 95 (0.20), put picks 105 (0.60).
	assert.InDelta(t, 0.40, points[0].ImpliedVol, 1e-12)
}

func TestExtractATMPointsSkipsUnusable(t *testing.T) {
	empty := models.ExpirationChain{Expiration: day(7), Calls: chainAt(7, 0.4).Calls}
	chains := []models.ExpirationChain{empty, chainAt(30, 0.35)}

	points, err := ExtractATMPoints(chains, 100, testToday)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, day(30), points[0].Expiration)

	nearest, ok := NearestChain(chains, points)
	require.True(t, ok)
	assert.Equal(t, day(30), nearest.Expiration)
}

func TestExtractATMPointsAllUnusable(t *testing.T) {
	chains := []models.ExpirationChain{
		{Expiration: day(7)},
		{Expiration: day(30), Puts: chainAt(30, 0.3).Puts},
	}
	_, err := ExtractATMPoints(chains, 100, testToday)
	assert.ErrorIs(t, err, ErrNoATMData)
}

func TestExtractStraddle(t *testing.T) {
	s := ExtractStraddle(chainAt(7, 0.4), 100)
	require.NotNil(t, s)
	assert.InDelta(t, 5.5, *s, 1e-12)
}

func TestExtractStraddleMissingQuote(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.ExpirationChain)
	}{
		{"call bid", func(c *models.ExpirationChain) { c.Calls[1].Bid = nil }},
		{"call ask", func(c *models.ExpirationChain) { c.Calls[1].Ask = nil }},
		{"put bid", func(c *models.ExpirationChain) { c.Puts[1].Bid = nil }},
		{"put ask", func(c *models.ExpirationChain) { c.Puts[1].Ask = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := chainAt(7, 0.4)
			tt.mutate(&c)
			assert.Nil(t, ExtractStraddle(c, 100))
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Term structure
// ════════════════════════════════════════════════════════════════════

func refPoints() []AtmPoint {
	return []AtmPoint{
		{DaysToExpiry: 60, ImpliedVol: 0.32},
		{DaysToExpiry: 7, ImpliedVol: 0.40},
		{DaysToExpiry: 30, ImpliedVol: 0.35},
	}
}

func TestTermStructureInterpolation(t *testing.T) {
	ts, err := BuildTermStructure(refPoints())
	require.NoError(t, err)

	assert.InDelta(t, 0.335, ts.At(45), 1e-12)
	assert.InDelta(t, 0.375, ts.At(18.5), 1e-12)
}

func TestTermStructureClamping(t *testing.T) {
	ts, err := BuildTermStructure(refPoints())
	require.NoError(t, err)

	assert.Equal(t, 0.40, ts.At(5))
	assert.Equal(t, 0.40, ts.At(-3))
	assert.Equal(t, 0.32, ts.At(61))
	assert.Equal(t, 0.32, ts.At(500))

	// Observed points are returned exactly.
	assert.Equal(t, 0.40, ts.At(7))
	assert.Equal(t, 0.35, ts.At(30))
	assert.Equal(t, 0.32, ts.At(60))
}

func TestTermStructureSinglePoint(t *testing.T) {
	ts, err := BuildTermStructure([]AtmPoint{{DaysToExpiry: 20, ImpliedVol: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 0.5, ts.At(0))
	assert.Equal(t, 0.5, ts.At(20))
	assert.Equal(t, 0.5, ts.At(45))
}

func TestTermStructureDuplicateDays(t *testing.T) {
	ts, err := BuildTermStructure([]AtmPoint{
		{DaysToExpiry: 10, ImpliedVol: 0.50},
		{DaysToExpiry: 30, ImpliedVol: 0.30},
		{DaysToExpiry: 30, ImpliedVol: 0.40},
		{DaysToExpiry: 50, ImpliedVol: 0.25},
	})
	require.NoError(t, err)

	days, ivs := ts.Knots()
	assert.Equal(t, []float64{10, 30, 50}, days)
	assert.InDelta(t, 0.35, ivs[1], 1e-12)
	assert.InDelta(t, 0.35, ts.At(30), 1e-12)
	assert.InDelta(t, 0.30, ts.At(40), 1e-12)
}

func TestTermStructureEmpty(t *testing.T) {
	_, err := BuildTermStructure(nil)
	assert.ErrorIs(t, err, ErrNoATMData)
}

func TestTermSlope(t *testing.T) {
	ts, err := BuildTermStructure(refPoints())
	require.NoError(t, err)

	slope, err := ts.TermSlope(7, 45)
	require.NoError(t, err)
	assert.InDelta(t, (0.335-0.40)/38, slope, 1e-12)

	_, err = ts.TermSlope(45, 45)
	assert.ErrorIs(t, err, ErrDegenerateSlope)
	assert.Equal(t, "Error: Error occured processing", BoundaryMessage("ABC", err))
	assert.Equal(t, "degenerate_slope", Kind(err))
}

// ════════════════════════════════════════════════════════════════════
// Yang-Zhang
// ════════════════════════════════════════════════════════════════════

func TestYangZhangHandComputed(t *testing.T) {
	bars := []models.PriceBar{
		{Open: 100, High: 100, Low: 100, Close: 100},
		{Open: 100, High: 110, Low: 90, Close: 105},
		{Open: 105, High: 105, Low: 105, Close: 105},
	}
	series, err := YangZhang(bars, 2, 252)
	require.NoError(t, err)
	require.Len(t, series, 1)

	ho, lo, co := math.Log(1.1), math.Log(0.9), math.Log(1.05)
	closeVol := co * co
	rs := ho*(ho-co) + lo*(lo-co)
	k := 0.34 / (1.34 + 3.0)
	want := math.Sqrt(k*closeVol+(1-k)*rs) * math.Sqrt(252)

	assert.InDelta(t, want, series[0], 1e-12)
}

func TestYangZhangFlatSeriesIsZero(t *testing.T) {
	bars := make([]models.PriceBar, 40)
	for i := range bars {
		bars[i] = models.PriceBar{Open: 50, High: 50, Low: 50, Close: 50}
	}
	rv, err := RealizedVolatility(bars, 30, 252)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rv)
}

func TestYangZhangSeriesLength(t *testing.T) {
	bars := randomBars(rand.New(rand.NewSource(7)), 63)
	series, err := YangZhang(bars, 30, 252)
	require.NoError(t, err)
	assert.Len(t, series, 33)

	last, err := RealizedVolatility(bars, 30, 252)
	require.NoError(t, err)
	assert.Equal(t, series[len(series)-1], last)
}

func TestYangZhangNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 31 + rng.Intn(60)
		bars := randomBars(rng, n)
		series, err := YangZhang(bars, 30, 252)
		require.NoError(t, err)
		for i, v := range series {
			if math.IsNaN(v) || v < 0 {
				t.Fatalf("trial %d: session %d volatility %v", trial, i, v)
			}
		}
	}
}

func TestYangZhangInsufficientHistory(t *testing.T) {
	bars := randomBars(rand.New(rand.NewSource(1)), 30)
	_, err := YangZhang(bars, 30, 252)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestYangZhangRejectsNonPositivePrices(t *testing.T) {
	bars := randomBars(rand.New(rand.NewSource(1)), 40)
	bars[12].Low = 0
	_, err := YangZhang(bars, 30, 252)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

// randomBars builds a positive random-walk OHLCV series whose high and low
// bracket the open and close.
func randomBars(rng *rand.Rand, n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	price := 20 + rng.Float64()*200
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		open := price * math.Exp(rng.NormFloat64()*0.01)
		closeP := open * math.Exp(rng.NormFloat64()*0.02)
		high := math.Max(open, closeP) * (1 + rng.Float64()*0.02)
		low := math.Min(open, closeP) * (1 - rng.Float64()*0.02)
		bars[i] = models.PriceBar{
			Date:   start.AddDate(0, 0, i),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: int64(1_000_000 + rng.Intn(2_000_000)),
		}
		price = closeP
	}
	return bars
}

// ════════════════════════════════════════════════════════════════════
// Classifier
// ════════════════════════════════════════════════════════════════════

func TestRateDecisionTable(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		sig  Signal
		want models.Rating
	}{
		{"all pass", Signal{2e6, 1.5, -0.005}, models.RatingFavorable},
		{"slope fails", Signal{2e6, 1.5, -0.001}, models.RatingMarginal},
		{"ratio fails", Signal{2e6, 1.1, -0.005}, models.RatingUnfavorable},
		{"volume fails", Signal{1e6, 1.5, -0.005}, models.RatingUnfavorable},
		{"exact thresholds", Signal{1_500_000, 1.25, -0.00406}, models.RatingFavorable},
		{"nothing passes", Signal{0, 0, 1}, models.RatingUnfavorable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Rate(tt.sig))
		})
	}
}

func TestRateMonotonicInIVRV(t *testing.T) {
	th := DefaultThresholds()

	for _, slope := range []float64{-0.01, 0.002} {
		below := th.Rate(Signal{AverageVolume: 2e6, IVRVRatio: 1.2499, TermSlope: slope})
		above := th.Rate(Signal{AverageVolume: 2e6, IVRVRatio: 1.2501, TermSlope: slope})
		assert.Equal(t, models.RatingUnfavorable, below)
		assert.Greater(t, int(above), int(below))

		prev := models.RatingUnfavorable
		for r := 0.5; r <= 3.0; r += 0.01 {
			got := th.Rate(Signal{AverageVolume: 2e6, IVRVRatio: r, TermSlope: slope})
			require.GreaterOrEqual(t, int(got), int(prev), "ratio %.2f slope %v", r, slope)
			prev = got
		}
	}
}

func TestAverageVolume(t *testing.T) {
	bars := make([]models.PriceBar, 40)
	for i := range bars {
		bars[i].Volume = int64(i)
	}
	avg, err := AverageVolume(bars, 30)
	require.NoError(t, err)
	// Mean of 10..39.
	assert.InDelta(t, 24.5, avg, 1e-12)

	_, err = AverageVolume(bars[:29], 30)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestExpectedMovePercent(t *testing.T) {
	got := ExpectedMovePercent(models.Float(5.5), 123.0)
	require.NotNil(t, got)
	assert.Equal(t, 4.47, *got)

	assert.Nil(t, ExpectedMovePercent(nil, 100))
	assert.Nil(t, ExpectedMovePercent(models.Float(1), 0))
	assert.Nil(t, ExpectedMovePercent(models.Float(0), 100))
}

// ════════════════════════════════════════════════════════════════════
// Errors
// ════════════════════════════════════════════════════════════════════

func TestBoundaryMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
		kind string
	}{
		{ErrInvalidTicker, "Error: No stock symbol provided.", "invalid_ticker"},
		{ErrNoOptions, "Error: No options found for stock symbol 'ABC'.", "no_options"},
		{ErrInsufficientData, "Error: Not enough option data.", "insufficient_data"},
		{ErrPriceUnavailable, "Error: Unable to retrieve underlying stock price.", "price_unavailable"},
		{ErrNoATMData, "Error: Could not determine ATM IV for any expiration dates.", "no_atm_data"},
		{ErrInsufficientHistory, "Error: Error occured processing", "insufficient_history"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, BoundaryMessage("ABC", tt.err))
			assert.Equal(t, tt.kind, Kind(tt.err))
		})
	}
}
