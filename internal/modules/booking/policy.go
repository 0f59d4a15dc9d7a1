package booking

import (
	"time"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	CancellationCutoff = 2 * time.Hour
	FullRefundLead     = 24 * time.Hour
)

// Refund computes the refund for a cancellation at now of a booking starting at start.
//
//	more than 24h ahead: 100%
//	2h to 24h ahead:     50%
//	under 2h or started: 0%
func Refund(total float64, start, now time.Time) float64 {
	lead := start.Sub(now)
	switch {
	case lead > FullRefundLead:
		return types.RoundMoney(total)
	case lead >= CancellationCutoff:
		return types.RoundMoney(total * 0.5)
	default:
		return 0
	}
}

// WindowOpen reports whether a normal cancellation is still allowed.
func WindowOpen(start, now time.Time) bool {
	return now.Before(start.Add(-CancellationCutoff))
}
