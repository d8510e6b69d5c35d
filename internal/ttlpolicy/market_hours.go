package ttlpolicy

import "time"

// exchangeTZ is the approximate timezone of the major US exchanges.
var exchangeTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Static EST fallback for environments without tzdata.
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}()

const (
	marketOpenMinute  = 9*60 + 30 // 09:30
	marketCloseMinute = 16 * 60   // 16:00
)

// IsMarketOpen reports whether US equity markets are open at t: weekdays,
// 09:30-16:00 exchange time. Exchange holidays are not modeled; an open
// verdict on a holiday only shortens the TTL, it never serves wrong data.
func IsMarketOpen(t time.Time) bool {
	local := t.In(exchangeTZ)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	return minute >= marketOpenMinute && minute < marketCloseMinute
}
