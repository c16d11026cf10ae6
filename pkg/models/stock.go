// Package models defines the core data structures shared by the earnvol
// engine, its data sources, storage and API layers.
package models

import "time"

// PriceBar represents one daily trading session of price data.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is the subset of a Yahoo Finance quote the earnings scan needs.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	LastPrice float64   `json:"last_price"`
	MarketCap float64   `json:"market_cap"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Volumes returns the session volumes of bars as float64 values.
func Volumes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Volume)
	}
	return out
}

// StockDetails is a quote summary with valuation ratios and the company
// profile. Ratios Yahoo does not publish for a ticker are nil.
type StockDetails struct {
	Ticker        string   `json:"ticker"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	Change        float64  `json:"change"`
	PercentChange float64  `json:"percent_change"`
	MarketCap     float64  `json:"market_cap"`
	Volume        int64    `json:"volume"`
	TrailingPE    *float64 `json:"trailing_pe"`
	ForwardPE     *float64 `json:"forward_pe"`
	DividendYield *float64 `json:"dividend_yield"`
	High52Week    float64  `json:"high_52_week"`
	Low52Week     float64  `json:"low_52_week"`
	Profile       string   `json:"profile"`
}

// ChartPoint is one closing price of a price chart.
type ChartPoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceChart is a close-price series for one display range, e.g. "1D" or "5Y".
type PriceChart struct {
	Ticker   string       `json:"ticker"`
	Range    string       `json:"range"`
	Interval string       `json:"interval"`
	Points   []ChartPoint `json:"points"`
}
