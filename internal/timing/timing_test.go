package timing

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0: "00:00:00",
		59 * time.Second: "00:00:59",
		time.Hour + 2*time.Minute + 3*time.Second: "01:02:03",
		26 * time.Hour: "26:00:00",
		-time.Second:   "00:00:00",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Fatalf("expected %s for %v, got %s", want, d, got)
		}
	}
}
