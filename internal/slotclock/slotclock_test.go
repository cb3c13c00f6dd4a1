package slotclock

import "testing"

func TestOf(t *testing.T) {
	cases := []struct {
		name        string
		eventTime   float64
		slotSeconds int
		want        int64
	}{
		{"zero", 0, 300, 0},
		{"mid-slot", 150, 300, 0},
		{"exact-boundary", 300, 300, 1},
		{"second-slot", 599, 300, 1},
		{"negative-clamped", -42, 300, 0},
		{"fractional", 300.9, 300, 1},
		{"large-unix-time", 1_700_000_000, 300, 1_700_000_000 / 300},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Of(c.eventTime, c.slotSeconds); got != c.want {
				t.Fatalf("Of(%v, %v) = %d, want %d", c.eventTime, c.slotSeconds, got, c.want)
			}
		})
	}
}

func TestInfoRange(t *testing.T) {
	i := Info{Slot: 3, SlotSeconds: 300}
	if i.StartTime() != 900 {
		t.Fatalf("StartTime = %v, want 900", i.StartTime())
	}
	if i.EndTime() != 1200 {
		t.Fatalf("EndTime = %v, want 1200", i.EndTime())
	}
}
