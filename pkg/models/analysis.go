package models

import "time"

// Status is the outcome of a recommendation request.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "Error"
)

// Rating is the three-valued earnings trade signal.
type Rating int

const (
	RatingUnfavorable Rating = -1
	RatingMarginal    Rating = 0
	RatingFavorable   Rating = 1
)

// String returns the human label of the rating.
func (r Rating) String() string {
	switch r {
	case RatingFavorable:
		return "favorable"
	case RatingMarginal:
		return "marginal"
	default:
		return "unfavorable"
	}
}

// DecisionRecord is the output of one recommendation computation.
//
// On Error status every metric is nil; the record never carries partial
// values. JSON names match the existing earnings consumer.
type DecisionRecord struct {
	Status              Status    `json:"status"`
	Message             string    `json:"message"`
	Ticker              string    `json:"ticker"`
	AverageVolume       *float64  `json:"avg_volume,omitempty"`
	IVRVRatio           *float64  `json:"iv30_rv30,omitempty"`
	TermSlope           *float64  `json:"ts_slope_0_45,omitempty"`
	ExpectedMovePercent *float64  `json:"expected_move"`
	Rating              *Rating   `json:"rating,omitempty"`
	ComputedAt          time.Time `json:"computed_at"`
}

// OK reports whether the record carries a rating.
func (d DecisionRecord) OK() bool {
	return d.Status == StatusOK
}

// EffectiveRating returns the record's rating, treating errors as unfavorable.
func (d DecisionRecord) EffectiveRating() Rating {
	if d.Rating == nil {
		return RatingUnfavorable
	}
	return *d.Rating
}

// ErrorRecord builds an Error-status record with the given message.
func ErrorRecord(ticker, message string, at time.Time) DecisionRecord {
	return DecisionRecord{
		Status:     StatusError,
		Message:    message,
		Ticker:     ticker,
		ComputedAt: at,
	}
}
