package usecase

import (
	"time"

	"voice-turn/internal/domain"
)

// quotaZone is the fixed offset that defines a "day" for the daily quota.
var quotaZone = time.FixedZone("UTC+7", 7*60*60)

// dailyLimitReached counts the messages stored since local midnight and
// reports whether they already fill 2*quota (one user and one assistant
// entry per turn). A negative quota disables the check.
//
// The scan runs newest to oldest and stops at the first message older than
// midnight. Messages without a readable timestamp are skipped.
func dailyLimitReached(history []domain.Message, now time.Time, quota int) bool {
	if quota < 0 {
		return false
	}
	limit := 2 * quota

	local := now.In(quotaZone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, quotaZone)

	count := 0
	for i := len(history) - 1; i >= 0 && count < limit; i-- {
		ts := history[i].Timestamp
		if ts.IsZero() {
			continue
		}
		if ts.Before(midnight) {
			break
		}
		count++
	}
	return count >= limit
}
