package notification

import (
	"fmt"
	"time"
)

// DoNotDisturbType selects how Begin and End are interpreted.
type DoNotDisturbType int

const (
	DoNotDisturbNone    DoNotDisturbType = 0
	DoNotDisturbOnce    DoNotDisturbType = 1
	DoNotDisturbDaily   DoNotDisturbType = 2
	DoNotDisturbClearly DoNotDisturbType = 3
)

// DoNotDisturbDate is the system-wide quiet period.
type DoNotDisturbDate struct {
	Type  DoNotDisturbType `json:"type"`
	Begin time.Time        `json:"begin"`
	End   time.Time        `json:"end"`
}

var epoch = time.Unix(0, 0).UTC()

// DefaultDoNotDisturbDate is the unset state: type none, epoch begin and end.
func DefaultDoNotDisturbDate() DoNotDisturbDate {
	return DoNotDisturbDate{Type: DoNotDisturbNone, Begin: epoch, End: epoch}
}

// normalize truncates the bounds to the minute and validates them.
// Once and Clearly need Begin before End. Daily accepts equal bounds (whole
// day) and End before Begin (crossing midnight).
func (d DoNotDisturbDate) normalize() (DoNotDisturbDate, error) {
	switch d.Type {
	case DoNotDisturbNone:
		return DefaultDoNotDisturbDate(), nil
	case DoNotDisturbOnce, DoNotDisturbDaily, DoNotDisturbClearly:
	default:
		return d, fmt.Errorf("unknown do-not-disturb type %d", int(d.Type))
	}

	d.Begin = d.Begin.Truncate(time.Minute)
	d.End = d.End.Truncate(time.Minute)

	if d.Type != DoNotDisturbDaily && !d.Begin.Before(d.End) {
		return d, fmt.Errorf("do-not-disturb begin %s must be before end %s",
			d.Begin.Format(time.RFC3339), d.End.Format(time.RFC3339))
	}

	return d, nil
}

// ActiveAt reports whether t falls inside the quiet period.
func (d DoNotDisturbDate) ActiveAt(t time.Time) bool {
	switch d.Type {
	case DoNotDisturbOnce, DoNotDisturbClearly:
		return !t.Before(d.Begin) && t.Before(d.End)
	case DoNotDisturbDaily:
		loc := d.Begin.Location()
		begin := minuteOfDay(d.Begin)
		end := minuteOfDay(d.End.In(loc))
		now := minuteOfDay(t.In(loc))
		switch {
		case begin == end:
			return true
		case begin < end:
			return now >= begin && now < end
		default:
			return now >= begin || now < end
		}
	default:
		return false
	}
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
