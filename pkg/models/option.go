package models

import "time"

// DateLayout is the calendar format used for expiration and earnings dates.
const DateLayout = "2006-01-02"

// OptionQuote represents a single call or put contract at one expiration.
// Bid and Ask are nil when the source reported no quote.
type OptionQuote struct {
	ContractSymbol    string   `json:"contract_symbol,omitempty"`
	Strike            float64  `json:"strike"`
	Bid               *float64 `json:"bid"`
	Ask               *float64 `json:"ask"`
	LastPrice         float64  `json:"last_price"`
	ImpliedVolatility float64  `json:"implied_volatility"` // ratio, e.g. 0.35
	Volume            int64    `json:"volume"`
	OpenInterest      int64    `json:"open_interest"`
}

// Mid returns the bid/ask midpoint, or false if either side is missing.
func (q OptionQuote) Mid() (float64, bool) {
	if q.Bid == nil || q.Ask == nil {
		return 0, false
	}
	return (*q.Bid + *q.Ask) / 2.0, true
}

// ExpirationChain holds the calls and puts listed for one expiration date.
type ExpirationChain struct {
	Expiration string        `json:"expiration"` // YYYY-MM-DD
	Calls      []OptionQuote `json:"calls"`
	Puts       []OptionQuote `json:"puts"`
}

// Usable reports whether both sides of the chain have at least one quote.
func (c ExpirationChain) Usable() bool {
	return len(c.Calls) > 0 && len(c.Puts) > 0
}

// OptionChainSnapshot is an expiration chain together with the underlying
// price at the time it was fetched. It backs the option passthrough API.
type OptionChainSnapshot struct {
	Ticker       string          `json:"ticker"`
	CurrentPrice float64         `json:"current_price"`
	Chain        ExpirationChain `json:"chain"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
