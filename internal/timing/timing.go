package timing

import (
	"fmt"
	"time"
)

// FormatDuration renders d as hh:mm:ss for log lines.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Since formats the time elapsed since start.
func Since(start time.Time) string {
	return FormatDuration(time.Since(start))
}
