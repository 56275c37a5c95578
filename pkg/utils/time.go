package utils

import (
	"fmt"
	"time"
)

// Now returns current time (useful for mocking in tests)
var Now = time.Now

// FormatCallDuration renders a duration in seconds as "42s" below one minute and "M:SS" otherwise.
func FormatCallDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Since returns time since given time
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
