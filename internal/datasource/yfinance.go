package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/earnvol/pkg/models"
)

// DefaultYahooBaseURL is the Yahoo Finance API root.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YFinance reads option chains, daily history and quotes from Yahoo Finance.
// It satisfies volatility.MarketData.
type YFinance struct {
	f           *fetcher
	expirations *Cache[[]string]
	quotes      *Cache[*models.Quote]
}

// NewYFinance creates a new Yahoo Finance data source.
func NewYFinance(opts ...Option) *YFinance {
	f := newFetcher(DefaultYahooBaseURL, opts)
	return &YFinance{
		f:           f,
		expirations: NewCache[[]string](f.cacheTTL),
		quotes:      NewCache[*models.Quote](f.cacheTTL),
	}
}

// Name returns the data source name.
func (y *YFinance) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance API types ---

type yfQuoteResponse struct {
	QuoteResponse struct {
		Result []yfQuoteResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"quoteResponse"`
}

type yfQuoteResult struct {
	Symbol                     string   `json:"symbol"`
	ShortName                  string   `json:"shortName"`
	LongName                   string   `json:"longName"`
	RegularMarketPrice         float64  `json:"regularMarketPrice"`
	RegularMarketChange        float64  `json:"regularMarketChange"`
	RegularMarketChangePercent float64  `json:"regularMarketChangePercent"`
	RegularMarketVolume        int64    `json:"regularMarketVolume"`
	MarketCap                  float64  `json:"marketCap"`
	RegularMarketTime          int64    `json:"regularMarketTime"`
	TrailingPE                 *float64 `json:"trailingPE"`
	ForwardPE                  *float64 `json:"forwardPE"`
	DividendYield              *float64 `json:"dividendYield"`
	FiftyTwoWeekHigh           float64  `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow            float64  `json:"fiftyTwoWeekLow"`
}

type yfSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile struct {
				LongBusinessSummary string `json:"longBusinessSummary"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *yfError `json:"error"`
	} `json:"quoteSummary"`
}

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Meta       yfChartMeta  `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Indicators yfIndicators `json:"indicators"`
}

type yfChartMeta struct {
	Symbol             string  `json:"symbol"`
	Currency           string  `json:"currency"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
}

type yfIndicators struct {
	Quote []yfOHLCV `json:"quote"`
}

type yfOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yfOptionsResponse struct {
	OptionChain struct {
		Result []yfOptionsResult `json:"result"`
		Error  *yfError          `json:"error"`
	} `json:"optionChain"`
}

type yfOptionsResult struct {
	UnderlyingSymbol string          `json:"underlyingSymbol"`
	ExpirationDates  []int64         `json:"expirationDates"`
	Strikes          []float64       `json:"strikes"`
	Options          []yfOptionChain `json:"options"`
}

type yfOptionChain struct {
	ExpirationDate int64        `json:"expirationDate"`
	Calls          []yfContract `json:"calls"`
	Puts           []yfContract `json:"puts"`
}

// yfContract is one listed contract. Bid and ask are omitted by Yahoo when
// the contract has no quote.
type yfContract struct {
	ContractSymbol    string   `json:"contractSymbol"`
	Strike            float64  `json:"strike"`
	LastPrice         float64  `json:"lastPrice"`
	Volume            int64    `json:"volume"`
	OpenInterest      int64    `json:"openInterest"`
	Bid               *float64 `json:"bid"`
	Ask               *float64 `json:"ask"`
	ImpliedVolatility float64  `json:"impliedVolatility"`
	Expiration        int64    `json:"expiration"`
}

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Public methods ---

// Expirations lists the option expiration dates of ticker, ascending.
func (y *YFinance) Expirations(ctx context.Context, ticker string) ([]string, error) {
	sym := normalize(ticker)
	if cached, ok := y.expirations.Get(sym); ok {
		return cached, nil
	}

	result, err := y.options(ctx, sym, "")
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(result.ExpirationDates))
	for _, ts := range result.ExpirationDates {
		dates = append(dates, unixDate(ts))
	}
	sort.Strings(dates)

	y.expirations.Set(sym, dates)
	return dates, nil
}

// OptionChain returns the calls and puts listed for one expiration.
func (y *YFinance) OptionChain(ctx context.Context, ticker, expiration string) (*models.ExpirationChain, error) {
	sym := normalize(ticker)
	day, err := time.Parse(models.DateLayout, expiration)
	if err != nil {
		return nil, fmt.Errorf("yfinance options %s: bad expiration %q: %w", sym, expiration, err)
	}

	result, err := y.options(ctx, sym, fmt.Sprintf("%d", day.Unix()))
	if err != nil {
		return nil, err
	}

	chain := &models.ExpirationChain{Expiration: expiration}
	listed := false
	for _, oc := range result.Options {
		if unixDate(oc.ExpirationDate) != expiration {
			continue
		}
		chain.Calls = convertContracts(oc.Calls)
		chain.Puts = convertContracts(oc.Puts)
		listed = true
		break
	}
	if !listed {
		// The cached listing named a date Yahoo no longer serves.
		y.expirations.Invalidate(sym)
	}
	return chain, nil
}

// Snapshot fetches one expiration chain together with the current price.
func (y *YFinance) Snapshot(ctx context.Context, ticker, expiration string) (*models.OptionChainSnapshot, error) {
	chain, err := y.OptionChain(ctx, ticker, expiration)
	if err != nil {
		return nil, err
	}
	price, err := y.CurrentPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return &models.OptionChainSnapshot{
		Ticker:       normalize(ticker),
		CurrentPrice: price,
		Chain:        *chain,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// PriceHistory returns chronological daily bars covering lookback, e.g. "3mo".
// Sessions with a missing open, high, low or close are dropped.
func (y *YFinance) PriceHistory(ctx context.Context, ticker, lookback string) ([]models.PriceBar, error) {
	result, err := y.chart(ctx, normalize(ticker), lookback)
	if err != nil {
		return nil, err
	}
	return parseYFCandles(result), nil
}

// CurrentPrice returns the latest daily close, falling back to the quoted
// regular market price.
func (y *YFinance) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	sym := normalize(ticker)
	result, err := y.chart(ctx, sym, "1d")
	if err != nil {
		return 0, err
	}
	if bars := parseYFCandles(result); len(bars) > 0 {
		return bars[len(bars)-1].Close, nil
	}
	if result.Meta.RegularMarketPrice > 0 {
		return result.Meta.RegularMarketPrice, nil
	}
	return 0, fmt.Errorf("%w: no price for %s", ErrTickerNotFound, sym)
}

// GetQuote returns a quote for ticker.
func (y *YFinance) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	sym := normalize(ticker)
	if cached, ok := y.quotes.Get(sym); ok {
		return cached, nil
	}

	r, err := y.quote(ctx, sym)
	if err != nil {
		return nil, err
	}
	quote := &models.Quote{
		Ticker:    r.Symbol,
		Name:      coalesce(r.LongName, r.ShortName),
		LastPrice: r.RegularMarketPrice,
		MarketCap: r.MarketCap,
		Volume:    r.RegularMarketVolume,
		Timestamp: time.Unix(r.RegularMarketTime, 0).UTC(),
	}

	y.quotes.Set(sym, quote)
	return quote, nil
}

// MarketCap returns the market capitalisation of ticker in its quote currency.
func (y *YFinance) MarketCap(ctx context.Context, ticker string) (float64, error) {
	q, err := y.GetQuote(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if q.MarketCap <= 0 {
		return 0, fmt.Errorf("%w: no market cap for %s", ErrTickerNotFound, q.Ticker)
	}
	return q.MarketCap, nil
}

// Details returns the quote summary and company profile of ticker. A
// missing profile leaves Profile empty.
func (y *YFinance) Details(ctx context.Context, ticker string) (*models.StockDetails, error) {
	sym := normalize(ticker)
	r, err := y.quote(ctx, sym)
	if err != nil {
		return nil, err
	}
	if r.RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("%w: no market price for %s", ErrTickerNotFound, sym)
	}

	profile, err := y.profile(ctx, sym)
	if err != nil {
		y.f.logger.Debug().Str("ticker", sym).Err(err).Msg("profile unavailable")
	}

	return &models.StockDetails{
		Ticker:        r.Symbol,
		Name:          coalesce(r.LongName, r.ShortName),
		Price:         r.RegularMarketPrice,
		Change:        r.RegularMarketChange,
		PercentChange: r.RegularMarketChangePercent,
		MarketCap:     r.MarketCap,
		Volume:        r.RegularMarketVolume,
		TrailingPE:    r.TrailingPE,
		ForwardPE:     r.ForwardPE,
		DividendYield: r.DividendYield,
		High52Week:    r.FiftyTwoWeekHigh,
		Low52Week:     r.FiftyTwoWeekLow,
		Profile:       profile,
	}, nil
}

// chartWindow is the Yahoo chart query behind one display range.
type chartWindow struct {
	rng      string
	interval string
}

var chartWindows = map[string]chartWindow{
	"1D":  {"1d", "1m"},
	"5D":  {"5d", "5m"},
	"1M":  {"1mo", "1d"},
	"3M":  {"3mo", "1d"},
	"6M":  {"6mo", "1d"},
	"YTD": {"ytd", "1d"},
	"1Y":  {"1y", "1d"},
	"5Y":  {"5y", "1wk"},
	"10Y": {"10y", "1mo"},
	"MAX": {"max", "1mo"},
}

// chartQuery maps a display range onto chart query parameters. 2W is a
// fixed 14-day window of 30-minute bars ending at now; unknown ranges fall
// back to 1D.
func chartQuery(display string, now time.Time) (string, url.Values) {
	display = strings.ToUpper(strings.TrimSpace(display))
	q := url.Values{}
	if display == "2W" {
		q.Set("period1", strconv.FormatInt(now.AddDate(0, 0, -14).Unix(), 10))
		q.Set("period2", strconv.FormatInt(now.Unix(), 10))
		q.Set("interval", "30m")
		return display, q
	}
	w, ok := chartWindows[display]
	if !ok {
		display, w = "1D", chartWindows["1D"]
	}
	q.Set("range", w.rng)
	q.Set("interval", w.interval)
	return display, q
}

// Chart returns the close prices of ticker over a display range such as
// "1D", "2W" or "5Y". Bars without a close are dropped.
func (y *YFinance) Chart(ctx context.Context, ticker, display string) (*models.PriceChart, error) {
	sym := normalize(ticker)
	display, q := chartQuery(display, time.Now())
	result, err := y.chartValues(ctx, sym, q)
	if err != nil {
		return nil, err
	}

	chart := &models.PriceChart{
		Ticker:   sym,
		Range:    display,
		Interval: q.Get("interval"),
		Points:   []models.ChartPoint{},
	}
	if len(result.Indicators.Quote) == 0 {
		return chart, nil
	}
	closes := result.Indicators.Quote[0].Close
	for i, ts := range result.Timestamp {
		if c, ok := at(closes, i); ok {
			chart.Points = append(chart.Points, models.ChartPoint{Time: time.Unix(ts, 0).UTC(), Price: c})
		}
	}
	return chart, nil
}

// --- Helpers ---

func (y *YFinance) quote(ctx context.Context, sym string) (yfQuoteResult, error) {
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.f.baseURL, url.QueryEscape(sym))
	var resp yfQuoteResponse
	if err := y.f.getJSON(ctx, u, nil, &resp); err != nil {
		return yfQuoteResult{}, fmt.Errorf("yfinance quote %s: %w", sym, notFound(err))
	}
	if resp.QuoteResponse.Error != nil {
		return yfQuoteResult{}, fmt.Errorf("yfinance API error: %s", resp.QuoteResponse.Error.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return yfQuoteResult{}, fmt.Errorf("%w: %s", ErrTickerNotFound, sym)
	}
	return resp.QuoteResponse.Result[0], nil
}

func (y *YFinance) profile(ctx context.Context, sym string) (string, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=assetProfile", y.f.baseURL, url.PathEscape(sym))
	var resp yfSummaryResponse
	if err := y.f.getJSON(ctx, u, nil, &resp); err != nil {
		return "", fmt.Errorf("yfinance profile %s: %w", sym, err)
	}
	if resp.QuoteSummary.Error != nil {
		return "", fmt.Errorf("yfinance profile error: %s", resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return "", nil
	}
	return resp.QuoteSummary.Result[0].AssetProfile.LongBusinessSummary, nil
}

func (y *YFinance) options(ctx context.Context, sym, date string) (yfOptionsResult, error) {
	u := fmt.Sprintf("%s/v7/finance/options/%s", y.f.baseURL, url.PathEscape(sym))
	if date != "" {
		u += "?date=" + date
	}

	var resp yfOptionsResponse
	if err := y.f.getJSON(ctx, u, nil, &resp); err != nil {
		return yfOptionsResult{}, fmt.Errorf("yfinance options %s: %w", sym, notFound(err))
	}
	if resp.OptionChain.Error != nil {
		return yfOptionsResult{}, fmt.Errorf("yfinance options error: %s", resp.OptionChain.Error.Description)
	}
	if len(resp.OptionChain.Result) == 0 {
		return yfOptionsResult{}, fmt.Errorf("%w: %s", ErrTickerNotFound, sym)
	}
	return resp.OptionChain.Result[0], nil
}

func (y *YFinance) chart(ctx context.Context, sym, lookback string) (yfChartResult, error) {
	return y.chartValues(ctx, sym, url.Values{"range": {lookback}, "interval": {"1d"}})
}

func (y *YFinance) chartValues(ctx context.Context, sym string, q url.Values) (yfChartResult, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.f.baseURL, url.PathEscape(sym), q.Encode())

	var resp yfChartResponse
	if err := y.f.getJSON(ctx, u, nil, &resp); err != nil {
		return yfChartResult{}, fmt.Errorf("yfinance chart %s: %w", sym, notFound(err))
	}
	if resp.Chart.Error != nil {
		return yfChartResult{}, fmt.Errorf("yfinance chart error: %s", resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return yfChartResult{}, fmt.Errorf("%w: %s", ErrTickerNotFound, sym)
	}
	return resp.Chart.Result[0], nil
}

func parseYFCandles(result yfChartResult) []models.PriceBar {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}

	q := result.Indicators.Quote[0]
	bars := make([]models.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		open, ok1 := at(q.Open, i)
		high, ok2 := at(q.High, i)
		low, ok3 := at(q.Low, i)
		closeP, ok4 := at(q.Close, i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		bar := models.PriceBar{
			Date:  time.Unix(ts, 0).UTC(),
			Open:  open,
			High:  high,
			Low:   low,
			Close: closeP,
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars
}

func at(vs []*float64, i int) (float64, bool) {
	if i >= len(vs) || vs[i] == nil {
		return 0, false
	}
	return *vs[i], true
}

func convertContracts(cs []yfContract) []models.OptionQuote {
	out := make([]models.OptionQuote, 0, len(cs))
	for _, c := range cs {
		out = append(out, models.OptionQuote{
			ContractSymbol:    c.ContractSymbol,
			Strike:            c.Strike,
			Bid:               c.Bid,
			Ask:               c.Ask,
			LastPrice:         c.LastPrice,
			ImpliedVolatility: c.ImpliedVolatility,
			Volume:            c.Volume,
			OpenInterest:      c.OpenInterest,
		})
	}
	return out
}

// unixDate formats a Yahoo expiration timestamp as its UTC calendar date.
func unixDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(models.DateLayout)
}

// notFound maps a 404 onto ErrTickerNotFound.
func notFound(err error) error {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrTickerNotFound, err)
	}
	return err
}

func normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
