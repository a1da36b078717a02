package wake

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Resolve returns the next instant strictly after now whose wall clock in
// now's location reads tod. A time equal to now rolls over to tomorrow.
func Resolve(tod TimeOfDay, now time.Time) time.Time {
	y, m, d := now.Date()
	at := time.Date(y, m, d, tod.Hour, tod.Minute, tod.Second, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// ReminderAt is the follow-up instant, minutes after primary.
func ReminderAt(primary time.Time, minutes int) time.Time {
	return primary.Add(time.Duration(minutes) * time.Minute)
}
