package volatility

import (
	"errors"
	"fmt"
)

// Sentinel errors for every precondition the pipeline can fail on.
// They are wrapped with context and checked with errors.Is.
var (
	// ErrInvalidTicker is returned for an empty or unrecognised symbol.
	ErrInvalidTicker = errors.New("invalid ticker")
	// ErrNoOptions is returned when the instrument has no listed options.
	ErrNoOptions = errors.New("no listed options")
	// ErrInsufficientData is returned when no expiration is far enough out.
	ErrInsufficientData = errors.New("insufficient option expiration data")
	// ErrNoATMData is returned when every expiration chain was unusable.
	ErrNoATMData = errors.New("no usable ATM data")
	// ErrPriceUnavailable is returned when the underlying price could not be fetched.
	ErrPriceUnavailable = errors.New("underlying price unavailable")
	// ErrInsufficientHistory is returned when there are too few price bars.
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrDegenerateSlope is returned when the term slope spans zero days.
	// It is reported as a processing error.
	ErrDegenerateSlope = errors.New("degenerate term slope")
)

// Messages reported in Error records. They match what existing consumers
// of the earnings table already parse.
const (
	msgNoSymbol      = "Error: No stock symbol provided."
	msgNoOptionsFmt  = "Error: No options found for stock symbol '%s'."
	msgNotEnoughData = "Error: Not enough option data."
	msgNoPrice       = "Error: Unable to retrieve underlying stock price."
	msgNoATM         = "Error: Could not determine ATM IV for any expiration dates."
	msgProcessing    = "Error: Error occured processing"
	msgOK            = "OK"
)

// BoundaryMessage collapses an internal error kind into the user-facing
// message carried by an Error record.
func BoundaryMessage(ticker string, err error) string {
	switch {
	case errors.Is(err, ErrInvalidTicker):
		return msgNoSymbol
	case errors.Is(err, ErrNoOptions):
		return fmt.Sprintf(msgNoOptionsFmt, ticker)
	case errors.Is(err, ErrInsufficientData):
		return msgNotEnoughData
	case errors.Is(err, ErrPriceUnavailable):
		return msgNoPrice
	case errors.Is(err, ErrNoATMData):
		return msgNoATM
	default:
		return msgProcessing
	}
}

// Kind returns a short machine-readable name for the error, used in logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidTicker):
		return "invalid_ticker"
	case errors.Is(err, ErrNoOptions):
		return "no_options"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrNoATMData):
		return "no_atm_data"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrDegenerateSlope):
		return "degenerate_slope"
	default:
		return "internal"
	}
}
