package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/earnvol/pkg/models"
)

var scanNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	events   []models.EarningsEvent
	err      error
	from, to time.Time
}

func (f *fakeCalendar) EarningsCalendar(_ context.Context, from, to time.Time) ([]models.EarningsEvent, error) {
	f.from, f.to = from, to
	return f.events, f.err
}

type fakeCaps map[string]float64

func (f fakeCaps) MarketCap(_ context.Context, ticker string) (float64, error) {
	mc, ok := f[ticker]
	if !ok {
		return 0, errors.New("no quote")
	}
	return mc, nil
}

type fakeRecommender struct {
	mu      sync.Mutex
	records map[string]models.DecisionRecord
	calls   []string
}

func (f *fakeRecommender) Recommend(_ context.Context, ticker string) models.DecisionRecord {
	f.mu.Lock()
	f.calls = append(f.calls, ticker)
	f.mu.Unlock()
	if rec, ok := f.records[ticker]; ok {
		return rec
	}
	return models.ErrorRecord(ticker, "Error: Not enough option data.", scanNow)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Upsert(ctx context.Context, row models.EarningsRow) error {
	return m.Called(ctx, row).Error(0)
}

func (m *mockRepo) DeleteBefore(ctx context.Context, day time.Time) (int64, error) {
	args := m.Called(ctx, day)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) DeleteTodayBeforeOpen(ctx context.Context, day time.Time) (int64, error) {
	args := m.Called(ctx, day)
	return args.Get(0).(int64), args.Error(1)
}

func okRecord(ticker string, move *float64, rating models.Rating) models.DecisionRecord {
	avg, ratio, slope := 2_345_678.123, 1.5123456789012, -0.0061234567891
	return models.DecisionRecord{
		Status:              models.StatusOK,
		Message:             "OK",
		Ticker:              ticker,
		AverageVolume:       &avg,
		IVRVRatio:           &ratio,
		TermSlope:           &slope,
		ExpectedMovePercent: move,
		Rating:              &rating,
		ComputedAt:          scanNow,
	}
}

func fixture() (*fakeCalendar, fakeCaps, *fakeRecommender) {
	cal := &fakeCalendar{events: []models.EarningsEvent{
		{Ticker: "AAPL", Date: "2026-03-04", Hour: "amc", EPSEstimate: models.Float(1.5234)},
		{Ticker: "MSFT", Date: "2026-03-05", Hour: "bmo"},
		{Ticker: "NOHR", Date: "2026-03-05", Hour: ""},
		{Ticker: "TINY", Date: "2026-03-05", Hour: "amc"},
		{Ticker: "GONE", Date: "2026-03-06", Hour: "amc"},
		{Ticker: "FAIL", Date: "2026-03-06", Hour: "bmo"},
		{Ticker: "AAPL", Date: "2026-03-04", Hour: "amc"},
	}}
	caps := fakeCaps{
		"AAPL": 3e12,
		"MSFT": 2.9e12,
		"NOHR": 1e12,
		"TINY": 2e9,
		"FAIL": 5e10,
	}
	rec := &fakeRecommender{records: map[string]models.DecisionRecord{
		"AAPL": okRecord("AAPL", models.Float(4.47), models.RatingFavorable),
		"MSFT": okRecord("MSFT", nil, models.RatingMarginal),
	}}
	return cal, caps, rec
}

func TestRunFiltersAndStores(t *testing.T) {
	cal, caps, rec := fixture()
	repo := &mockRepo{}
	repo.On("Upsert", mock.Anything, mock.AnythingOfType("models.EarningsRow")).Return(nil)

	s := New(cal, caps, rec, repo, Config{HorizonDays: 7, MinMarketCap: 10e9, Concurrency: 3},
		WithClock(func() time.Time { return scanNow }))
	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scanNow, cal.from)
	assert.Equal(t, scanNow.AddDate(0, 0, 7), cal.to)

	// The duplicate AAPL entry is dropped before counting.
	assert.Equal(t, 6, sum.Considered)
	assert.Equal(t, 3, sum.Skipped) // NOHR, TINY, GONE
	assert.Equal(t, 1, sum.Failed)  // FAIL
	assert.Equal(t, 2, sum.Written)
	require.Len(t, sum.Rows, 2)

	aapl, msft := sum.Rows[0], sum.Rows[1]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), aapl.EarningsDate)
	assert.Equal(t, "amc", aapl.EarningsTiming)
	assert.Equal(t, 4.47, aapl.ExpectedMove)
	assert.Equal(t, 2_345_678.12, aapl.AvgVolume)
	assert.Equal(t, 1.5123456789, aapl.IVRVRatio)
	assert.Equal(t, -0.0061234568, aapl.TermSlope)
	require.NotNil(t, aapl.EPSEstimate)
	assert.Equal(t, 1.52, *aapl.EPSEstimate)
	assert.Equal(t, 1, aapl.Rating)

	// A missing expected move is stored as zero.
	assert.Equal(t, "MSFT", msft.Ticker)
	assert.Equal(t, 0.0, msft.ExpectedMove)
	assert.Nil(t, msft.EPSEstimate)
	assert.Equal(t, 0, msft.Rating)

	repo.AssertNumberOfCalls(t, "Upsert", 2)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "FAIL"}, rec.calls)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cal, caps, rec := fixture()

	s := New(cal, caps, rec, nil, Config{MinMarketCap: 10e9, Concurrency: 2, DryRun: true},
		WithClock(func() time.Time { return scanNow }))
	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Written)
	assert.Len(t, sum.Rows, 2)
}

func TestRunWithoutRepository(t *testing.T) {
	cal, caps, rec := fixture()
	_, err := New(cal, caps, rec, nil, Config{}).Run(context.Background())
	assert.Error(t, err)
}

func TestRunCountsStoreFailures(t *testing.T) {
	cal, caps, rec := fixture()
	repo := &mockRepo{}
	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(r models.EarningsRow) bool { return r.Ticker == "AAPL" })).
		Return(errors.New("connection reset"))
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	s := New(cal, caps, rec, repo, Config{MinMarketCap: 10e9, Concurrency: 1},
		WithClock(func() time.Time { return scanNow }))
	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, 2, sum.Failed)
}

func TestRunCalendarError(t *testing.T) {
	cal := &fakeCalendar{err: errors.New("finnhub down")}
	s := New(cal, fakeCaps{}, &fakeRecommender{}, &mockRepo{}, Config{})
	_, err := s.Run(context.Background())
	assert.ErrorContains(t, err, "finnhub down")
}

func TestRunCancelled(t *testing.T) {
	cal, caps, rec := fixture()
	repo := &mockRepo{}
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(cal, caps, rec, repo, Config{MinMarketCap: 10e9}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRowForRejectsNonFinite(t *testing.T) {
	rec := okRecord("X", nil, models.RatingFavorable)
	nan := 0.0
	nan = nan / nan
	rec.TermSlope = &nan

	_, ok := rowFor(models.EarningsEvent{Ticker: "X", Hour: "amc"}, scanNow, rec)
	assert.False(t, ok)
}

func TestCleanup(t *testing.T) {
	repo := &mockRepo{}
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	repo.On("DeleteBefore", mock.Anything, today).Return(int64(4), nil)
	repo.On("DeleteTodayBeforeOpen", mock.Anything, today).Return(int64(2), nil)

	s := New(&fakeCalendar{}, fakeCaps{}, &fakeRecommender{}, repo, Config{},
		WithClock(func() time.Time { return scanNow }))
	res, err := s.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Past: 4, BeforeOpen: 2}, res)
	repo.AssertExpectations(t)
}

func TestCleanupStopsOnError(t *testing.T) {
	repo := &mockRepo{}
	repo.On("DeleteBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("locked"))

	s := New(&fakeCalendar{}, fakeCaps{}, &fakeRecommender{}, repo, Config{})
	_, err := s.Cleanup(context.Background())
	assert.ErrorContains(t, err, "locked")
	repo.AssertNotCalled(t, "DeleteTodayBeforeOpen", mock.Anything, mock.Anything)
}

func TestUpdateDeletesThenScans(t *testing.T) {
	cal, caps, rec := fixture()
	repo := &mockRepo{}
	repo.On("DeleteBefore", mock.Anything, mock.Anything).Return(int64(1), nil)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	s := New(cal, caps, rec, repo, Config{MinMarketCap: 10e9},
		WithClock(func() time.Time { return scanNow }))
	sum, err := s.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Written)
	repo.AssertCalled(t, "DeleteBefore", mock.Anything, mock.Anything)
}
