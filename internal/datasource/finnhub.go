package datasource

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seenimoa/earnvol/pkg/models"
)

// DefaultFinnhubBaseURL is the Finnhub API root.
const DefaultFinnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub reads the earnings calendar from Finnhub.
type Finnhub struct {
	f      *fetcher
	apiKey string
}

// NewFinnhub creates a Finnhub client authenticating with apiKey.
func NewFinnhub(apiKey string, opts ...Option) *Finnhub {
	return &Finnhub{f: newFetcher(DefaultFinnhubBaseURL, opts), apiKey: apiKey}
}

// Name returns the data source name.
func (c *Finnhub) Name() string { return "Finnhub" }

type fhCalendarResponse struct {
	EarningsCalendar []fhEarning `json:"earningsCalendar"`
}

type fhEarning struct {
	Symbol      string   `json:"symbol"`
	Date        string   `json:"date"`
	Hour        string   `json:"hour"`
	EPSEstimate *float64 `json:"epsEstimate"`
	Quarter     int      `json:"quarter"`
	Year        int      `json:"year"`
}

// EarningsCalendar returns the announcements scheduled between from and to,
// inclusive. Entries without a symbol or a parseable date are dropped.
func (c *Finnhub) EarningsCalendar(ctx context.Context, from, to time.Time) ([]models.EarningsEvent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("finnhub earnings calendar: %w", ErrMissingAPIKey)
	}

	q := url.Values{}
	q.Set("from", from.Format(models.DateLayout))
	q.Set("to", to.Format(models.DateLayout))
	u := c.f.baseURL + "/calendar/earnings?" + q.Encode()

	var resp fhCalendarResponse
	err := c.f.getJSON(ctx, u, map[string]string{"X-Finnhub-Token": c.apiKey}, &resp)
	if err != nil {
		return nil, fmt.Errorf("finnhub earnings calendar: %w", err)
	}

	events := make([]models.EarningsEvent, 0, len(resp.EarningsCalendar))
	for _, e := range resp.EarningsCalendar {
		sym := normalize(e.Symbol)
		if sym == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, e.Date); err != nil {
			c.f.logger.Debug().Str("ticker", sym).Str("date", e.Date).Msg("dropping calendar entry with bad date")
			continue
		}
		events = append(events, models.EarningsEvent{
			Ticker:      sym,
			Date:        e.Date,
			Hour:        strings.ToLower(strings.TrimSpace(e.Hour)),
			EPSEstimate: e.EPSEstimate,
		})
	}
	return events, nil
}
