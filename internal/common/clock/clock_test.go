package clock

import (
	"testing"
	"time"
)

func TestNow(t *testing.T) {
	before := float64(time.Now().UnixNano()) / 1e9
	got := Now()
	after := float64(time.Now().UnixNano()) / 1e9
	if got < before || got > after {
		t.Fatalf("Now() = %f, want between %f and %f", got, before, after)
	}
}

func TestParseISO(t *testing.T) {
	valid := []string{
		"2026-01-15",
		"2026-01-15T09:30:00",
		"2026-01-15T09:30:00Z",
		"2026-01-15T09:30:00+02:00",
	}
	for _, in := range valid {
		got, err := ParseISO(in)
		if err != nil {
			t.Errorf("ParseISO(%q): unexpected error %v", in, err)
		}
		if got != in {
			t.Errorf("ParseISO(%q) = %q, want input unchanged", in, got)
		}
	}

	invalid := []string{"", "tomorrow", "15/01/2026", "2026-13-40", "next week"}
	for _, in := range invalid {
		if _, err := ParseISO(in); err == nil {
			t.Errorf("ParseISO(%q): expected error, got none", in)
		}
	}
}

func TestUptime(t *testing.T) {
	if got := Uptime(time.Now()); got != "0h 0m" {
		t.Errorf("fresh uptime = %q, want %q", got, "0h 0m")
	}
	start := time.Now().Add(-(90*time.Minute + 30*time.Second))
	if got := Uptime(start); got != "1h 30m" {
		t.Errorf("uptime after 90m30s = %q, want %q", got, "1h 30m")
	}
	start = time.Now().Add(-49 * time.Hour)
	if got := Uptime(start); got != "49h 0m" {
		t.Errorf("uptime after 49h = %q, want %q", got, "49h 0m")
	}
}
