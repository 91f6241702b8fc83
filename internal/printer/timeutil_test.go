package printer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskvisor/internal/printer"
)

func TestTimeAgo(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		time     time.Time
		expected string
	}{
		"Less than a second should be shown in seconds.": {
			time:     now.Add(-300 * time.Millisecond),
			expected: "0 seconds ago (UTC)",
		},
		"A single second should be singular.": {
			time:     now.Add(-1 * time.Second),
			expected: "1 second ago (UTC)",
		},
		"Seconds should be shown under a minute.": {
			time:     now.Add(-59 * time.Second),
			expected: "59 seconds ago (UTC)",
		},
		"Minutes should be shown under an hour.": {
			time:     now.Add(-45*time.Minute - 30*time.Second),
			expected: "45 minutes ago (UTC)",
		},
		"A single hour should be singular.": {
			time:     now.Add(-1 * time.Hour),
			expected: "1 hour ago (UTC)",
		},
		"Days should be shown after a day.": {
			time:     now.Add(-7 * 24 * time.Hour),
			expected: "7 days ago (UTC)",
		},
		"Other time zones should be converted.": {
			time:     time.Date(2026, 10, 14, 5, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			expected: "2 hours ago (UTC)",
		},
		"Future times should be shown as future.": {
			time:     now.Add(5 * time.Minute),
			expected: "in the future (UTC)",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.TimeAgoAt(now, test.time))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 14, 10, 15, 30, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2026-10-14 08:15:30 UTC", printer.FormatTimestamp(ts))
}
