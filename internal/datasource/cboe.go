package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/earnvol/pkg/models"
)

// DefaultCBOEBaseURL is the CBOE delayed quotes CDN root.
const DefaultCBOEBaseURL = "https://cdn.cboe.com/api/global/delayed_quotes"

// CBOE reads 15-minute delayed option chains and daily history from the
// CBOE CDN. One request returns every listed expiration, so the whole chain
// is cached per ticker. It satisfies volatility.MarketData.
type CBOE struct {
	f      *fetcher
	chains *Cache[*cboeChain]
}

// NewCBOE creates a new CBOE delayed quotes data source.
func NewCBOE(opts ...Option) *CBOE {
	f := newFetcher(DefaultCBOEBaseURL, opts)
	return &CBOE{
		f:      f,
		chains: NewCache[*cboeChain](f.cacheTTL),
	}
}

// Name returns the data source name.
func (c *CBOE) Name() string { return "CBOE" }

// --- CBOE API types ---

type cboeOptionsResponse struct {
	Timestamp string `json:"timestamp"`
	Data      struct {
		Symbol       string             `json:"symbol"`
		CurrentPrice float64            `json:"current_price"`
		Close        float64            `json:"close"`
		Options      []cboeOptionRecord `json:"options"`
	} `json:"data"`
}

type cboeOptionRecord struct {
	Option         string  `json:"option"` // e.g. "AAPL260417C00100000"
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	IV             float64 `json:"iv"`
	OpenInterest   float64 `json:"open_interest"`
	Volume         float64 `json:"volume"`
	LastTradePrice float64 `json:"last_trade_price"`
}

type cboeChartResponse struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		Date        string  `json:"date"`
		Open        float64 `json:"open"`
		High        float64 `json:"high"`
		Low         float64 `json:"low"`
		Close       float64 `json:"close"`
		StockVolume float64 `json:"stock_volume"`
	} `json:"data"`
}

// cboeChain is one ticker's parsed option listing.
type cboeChain struct {
	price       float64
	expirations []string
	byDate      map[string]*models.ExpirationChain
}

// optionSymbolRE parses OCC-style symbols: ROOT + YYMMDD + C/P + STRIKE*1000
// (8 digits, zero-padded).
var optionSymbolRE = regexp.MustCompile(`^(.+?)(\d{6})([CP])(\d{8})$`)

// Expirations lists the option expiration dates of ticker, ascending.
func (c *CBOE) Expirations(ctx context.Context, ticker string) ([]string, error) {
	chain, err := c.chain(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), chain.expirations...), nil
}

// OptionChain returns the calls and puts listed for one expiration. An
// unlisted expiration yields an empty chain.
func (c *CBOE) OptionChain(ctx context.Context, ticker, expiration string) (*models.ExpirationChain, error) {
	chain, err := c.chain(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if ec, ok := chain.byDate[expiration]; ok {
		cp := *ec
		return &cp, nil
	}
	return &models.ExpirationChain{Expiration: expiration}, nil
}

// CurrentPrice returns the delayed underlying price reported with the chain.
func (c *CBOE) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	chain, err := c.chain(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if chain.price <= 0 {
		return 0, fmt.Errorf("%w: no price for %s", ErrTickerNotFound, normalize(ticker))
	}
	return chain.price, nil
}

// Snapshot fetches one expiration chain together with the current price.
func (c *CBOE) Snapshot(ctx context.Context, ticker, expiration string) (*models.OptionChainSnapshot, error) {
	ec, err := c.OptionChain(ctx, ticker, expiration)
	if err != nil {
		return nil, err
	}
	price, err := c.CurrentPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return &models.OptionChainSnapshot{
		Ticker:       normalize(ticker),
		CurrentPrice: price,
		Chain:        *ec,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// PriceHistory returns chronological daily bars covering lookback, counted
// back from the latest session. Lookback uses the Yahoo range format, e.g.
// "3mo", "60d" or "1y".
func (c *CBOE) PriceHistory(ctx context.Context, ticker, lookback string) ([]models.PriceBar, error) {
	sym := normalize(ticker)
	u := fmt.Sprintf("%s/charts/historical/%s.json", c.f.baseURL, symbolPath(sym))

	var resp cboeChartResponse
	if err := c.f.getJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("cboe chart %s: %w", sym, cboeNotFound(err))
	}

	bars := make([]models.PriceBar, 0, len(resp.Data))
	for _, d := range resp.Data {
		day, err := time.Parse(models.DateLayout, d.Date)
		if err != nil || d.Open <= 0 || d.High <= 0 || d.Low <= 0 || d.Close <= 0 {
			continue
		}
		bars = append(bars, models.PriceBar{
			Date:   day,
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: int64(d.StockVolume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) == 0 {
		return bars, nil
	}

	start, err := lookbackStart(bars[len(bars)-1].Date, lookback)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(start) })
	return bars[i:], nil
}

// --- Helpers ---

func (c *CBOE) chain(ctx context.Context, ticker string) (*cboeChain, error) {
	sym := normalize(ticker)
	if cached, ok := c.chains.Get(sym); ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s/options/%s.json", c.f.baseURL, symbolPath(sym))
	var resp cboeOptionsResponse
	if err := c.f.getJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("cboe options %s: %w", sym, cboeNotFound(err))
	}

	chain := parseCBOEChain(resp)
	c.chains.Set(sym, chain)
	return chain, nil
}

func parseCBOEChain(resp cboeOptionsResponse) *cboeChain {
	chain := &cboeChain{
		price:  resp.Data.CurrentPrice,
		byDate: make(map[string]*models.ExpirationChain),
	}
	if chain.price <= 0 {
		chain.price = resp.Data.Close
	}

	for _, opt := range resp.Data.Options {
		parts := optionSymbolRE.FindStringSubmatch(opt.Option)
		if parts == nil {
			continue
		}
		expDate, err := time.Parse("060102", parts[2])
		if err != nil {
			continue
		}
		strike, _ := strconv.ParseFloat(parts[4], 64)
		strike /= 1000 // CBOE encodes strike × 1000

		exp := expDate.Format(models.DateLayout)
		ec, ok := chain.byDate[exp]
		if !ok {
			ec = &models.ExpirationChain{Expiration: exp}
			chain.byDate[exp] = ec
			chain.expirations = append(chain.expirations, exp)
		}

		q := models.OptionQuote{
			ContractSymbol:    opt.Option,
			Strike:            strike,
			LastPrice:         opt.LastTradePrice,
			ImpliedVolatility: opt.IV,
			Volume:            int64(opt.Volume),
			OpenInterest:      int64(opt.OpenInterest),
		}
		// A zero ask means no market; a zero bid with a live ask is a real quote.
		if opt.Ask > 0 {
			q.Bid = models.Float(opt.Bid)
			q.Ask = models.Float(opt.Ask)
		}
		if parts[3] == "C" {
			ec.Calls = append(ec.Calls, q)
		} else {
			ec.Puts = append(ec.Puts, q)
		}
	}

	sort.Strings(chain.expirations)
	for _, ec := range chain.byDate {
		sort.SliceStable(ec.Calls, func(i, j int) bool { return ec.Calls[i].Strike < ec.Calls[j].Strike })
		sort.SliceStable(ec.Puts, func(i, j int) bool { return ec.Puts[i].Strike < ec.Puts[j].Strike })
	}
	return chain
}

// symbolPath maps a ticker onto its CDN path. Index symbols (^SPX) are
// served under a leading underscore; class shares keep their dot.
func symbolPath(sym string) string {
	if strings.HasPrefix(sym, "^") {
		return "_" + strings.TrimPrefix(sym, "^")
	}
	return strings.ReplaceAll(sym, "-", ".")
}

// lookbackStart returns the instant lookback before last. Supported units
// are d, wk, mo and y.
func lookbackStart(last time.Time, lookback string) (time.Time, error) {
	lookback = strings.TrimSpace(strings.ToLower(lookback))
	if lookback == "max" {
		return time.Time{}, nil
	}

	var unit string
	for _, u := range []string{"mo", "wk", "d", "y"} {
		if strings.HasSuffix(lookback, u) {
			unit = u
			break
		}
	}
	n, err := strconv.Atoi(strings.TrimSuffix(lookback, unit))
	if unit == "" || err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("cboe: unsupported lookback %q", lookback)
	}

	switch unit {
	case "d":
		return last.AddDate(0, 0, -n), nil
	case "wk":
		return last.AddDate(0, 0, -7*n), nil
	case "mo":
		return last.AddDate(0, -n, 0), nil
	default:
		return last.AddDate(-n, 0, 0), nil
	}
}

// cboeNotFound maps the CDN's 403/404 for unlisted symbols onto
// ErrTickerNotFound.
func cboeNotFound(err error) error {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %v", ErrTickerNotFound, err)
	}
	return err
}
