package volatility

import (
	"fmt"
	"sort"
	"time"

	"github.com/seenimoa/earnvol/pkg/models"
)

// DefaultMinDays is how far out the last retained expiration must reach.
const DefaultMinDays = 45

// FilterExpirations sorts the expiration dates ascending and returns the
// prefix ending at the first date that is at least minDays after today.
// An expiration falling on today is dropped from the front of the result.
func FilterExpirations(dates []string, today time.Time, minDays int) ([]string, error) {
	today = dateOf(today)
	cutoff := today.AddDate(0, 0, minDays)

	parsed := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse(models.DateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("%w: bad expiration %q: %v", ErrInsufficientData, d, err)
		}
		parsed = append(parsed, t)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })

	end := -1
	for i, t := range parsed {
		if !t.Before(cutoff) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("%w: no expiration %d days or more out", ErrInsufficientData, minDays)
	}

	kept := parsed[:end+1]
	if kept[0].Equal(today) {
		kept = kept[1:]
	}

	out := make([]string, len(kept))
	for i, t := range kept {
		out[i] = t.Format(models.DateLayout)
	}
	return out, nil
}

// DaysToExpiry returns the calendar days between today and expiration.
func DaysToExpiry(expiration string, today time.Time) (int, error) {
	t, err := time.Parse(models.DateLayout, expiration)
	if err != nil {
		return 0, fmt.Errorf("parse expiration %q: %w", expiration, err)
	}
	return int(t.Sub(dateOf(today)).Hours() / 24), nil
}

// dateOf truncates t to its calendar date, expressed at UTC midnight so it
// compares cleanly with parsed YYYY-MM-DD values.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
