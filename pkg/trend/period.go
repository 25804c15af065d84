package trend

import (
	"fmt"
	"strings"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
)

// PeriodType is the snapshot granularity. The numeric values are persisted.
type PeriodType int

const (
	PeriodHour PeriodType = 0
	PeriodDay  PeriodType = 1
)

func (p PeriodType) String() string {
	switch p {
	case PeriodHour:
		return "hour"
	case PeriodDay:
		return "day"
	default:
		return fmt.Sprintf("PeriodType(%d)", int(p))
	}
}

func (p PeriodType) Valid() bool {
	return p == PeriodHour || p == PeriodDay
}

// ParsePeriodType accepts "hour" and "day" in any case.
func ParsePeriodType(s string) (PeriodType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hour":
		return PeriodHour, nil
	case "day":
		return PeriodDay, nil
	}
	return 0, &common.ConfigError{Field: "period_type", Reason: fmt.Sprintf("unknown period type %q", s)}
}

func (p PeriodType) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid period type %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *PeriodType) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriodType(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Truncate returns the start of the period containing t, in loc.
func (p PeriodType) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch p {
	case PeriodDay:
		y, m, d := local.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	default:
		// subtract instead of rebuilding with time.Date so repeated DST hours stay distinct
		offset := time.Duration(local.Minute())*time.Minute +
			time.Duration(local.Second())*time.Second +
			time.Duration(local.Nanosecond())
		return local.Add(-offset)
	}
}

// Next returns the start of the period following start. Days use calendar
// arithmetic so 23 and 25 hour days stay aligned to midnight.
func (p PeriodType) Next(start time.Time) time.Time {
	if p == PeriodDay {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(time.Hour)
}

// Prev returns the start of the period preceding start.
func (p PeriodType) Prev(start time.Time) time.Time {
	if p == PeriodDay {
		return start.AddDate(0, 0, -1)
	}
	return start.Add(-time.Hour)
}

// Period is one closed-open time bucket [Start, End).
type Period struct {
	Type  PeriodType `json:"type"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

// PeriodAt returns the period of type p that contains t.
func PeriodAt(p PeriodType, t time.Time, loc *time.Location) Period {
	start := p.Truncate(t, loc)
	return Period{Type: p, Start: start, End: p.Next(start)}
}

func (p Period) Previous() Period {
	start := p.Type.Prev(p.Start)
	return Period{Type: p.Type, Start: start, End: p.Start}
}

func (p Period) Following() Period {
	return Period{Type: p.Type, Start: p.End, End: p.Type.Next(p.End)}
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%s@%s", p.Type, p.Start.Format(time.RFC3339))
}
