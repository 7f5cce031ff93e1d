package money

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CeilDiv divides a by b rounding up. Both arguments must be positive.
// Ceiling rounding means the per-day sums may over-collect by up to b-1
// units over a full term; that over-collection is intentional.
func CeilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// TotalInterest computes ceil(amount * rate / 100) for a fractional
// percent rate.
func TotalInterest(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).
		Mul(rate).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
}

// Midnight truncates t to the start of its day in loc. Due dates and
// sweep cutoffs both go through here so day arithmetic stays whole.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysOverdue is the rounded number of whole days between dueDate and
// cutoff. Returns 0 when the due date has not passed.
func DaysOverdue(dueDate, cutoff time.Time) int {
	if !cutoff.After(dueDate) {
		return 0
	}
	return int(math.Round(cutoff.Sub(dueDate).Hours() / 24))
}
