package printer

import (
	"fmt"
	"time"
)

var timeUnits = []struct {
	name string
	size time.Duration
}{
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// TimeAgo returns a human-readable relative time string in UTC,
// e.g "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	return timeAgo(time.Now(), t)
}

func timeAgo(now, t time.Time) string {
	diff := now.UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	for _, u := range timeUnits {
		if diff < u.size && u.size != time.Second {
			continue
		}
		n := int(diff / u.size)
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", u.name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
	}
	return ""
}

// FormatTimestamp returns a formatted timestamp string in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
