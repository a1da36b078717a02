package wake

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("IST", 5*3600+1800)
	day := func(d, h, m, s int) time.Time { return time.Date(2025, time.March, d, h, m, s, 0, loc) }

	tests := []struct {
		name string
		now  time.Time
		tod  TimeOfDay
		want time.Time
	}{
		{"later today", day(10, 10, 0, 0), TimeOfDay{23, 26, 0}, day(10, 23, 26, 0)},
		{"already passed rolls over", day(10, 23, 50, 0), TimeOfDay{23, 26, 0}, day(11, 23, 26, 0)},
		{"exactly now rolls over", day(10, 7, 0, 0), TimeOfDay{7, 0, 0}, day(11, 7, 0, 0)},
		{"one second ahead", day(10, 6, 59, 59), TimeOfDay{7, 0, 0}, day(10, 7, 0, 0)},
		{"month end", time.Date(2025, time.March, 31, 22, 0, 0, 0, loc), TimeOfDay{6, 0, 0}, time.Date(2025, time.April, 1, 6, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := Resolve(tt.tod, tt.now); !got.Equal(tt.want) {
			t.Errorf("%s: Resolve = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolveIsFutureAndWithinDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.June, 1, 12, 34, 56, 0, time.UTC)
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 34, 35, 59} {
			got := Resolve(TimeOfDay{Hour: h, Minute: m}, now)
			if !got.After(now) || got.Sub(now) > 24*time.Hour {
				t.Fatalf("Resolve(%02d:%02d) = %v, not in (now, now+24h]", h, m, got)
			}
			if got.Hour() != h || got.Minute() != m {
				t.Fatalf("Resolve(%02d:%02d) = %v, wrong wall clock", h, m, got)
			}
		}
	}
}

func TestReminderAt(t *testing.T) {
	t.Parallel()
	primary := time.Date(2025, time.March, 10, 23, 58, 0, 0, time.UTC)
	if got, want := ReminderAt(primary, 5), primary.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("ReminderAt = %v, want %v", got, want)
	}
	if got := ReminderAt(primary, 0); !got.Equal(primary) {
		t.Fatalf("zero delay = %v", got)
	}
}
