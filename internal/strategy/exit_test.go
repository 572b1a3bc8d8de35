package strategy

import (
	"testing"
	"time"
)

func exitParams() ExitParams {
	return ExitParams{
		ImprovementRatio:   0.5,
		NormalizedRate:     -0.00005,
		MaxDuration:        72 * time.Hour,
		SettlementInterval: 8 * time.Hour,
	}
}

func TestSettlementsReceived(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		held time.Duration
		want int
	}{
		{0, 0},
		{7*time.Hour + 59*time.Minute, 0},
		{8 * time.Hour, 1},
		{23 * time.Hour, 2},
		{24 * time.Hour, 3},
	}
	for _, c := range cases {
		if got := SettlementsReceived(entry, entry.Add(c.held), 8*time.Hour); got != c.want {
			t.Fatalf("held %v: expected %d settlements, got %d", c.held, c.want, got)
		}
	}
	if got := SettlementsReceived(entry, entry.Add(-time.Hour), 8*time.Hour); got != 0 {
		t.Fatalf("expected clock skew to count zero, got %d", got)
	}
}

func TestShouldExitRateImprovedBeforeBreakeven(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ExitInput{
		EntryRate:           -0.004,
		CurrentRate:         -0.0015,
		EntryTime:           entry,
		Now:                 entry.Add(9 * time.Hour),
		PaymentsToBreakeven: 2.3,
	}
	if got := ShouldExit(in, exitParams()); got != ExitRateImproved {
		t.Fatalf("expected %s, got %q", ExitRateImproved, got)
	}
}

func TestShouldExitHoldsOnceBrokenEven(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ExitInput{
		EntryRate:           -0.004,
		CurrentRate:         -0.0015,
		EntryTime:           entry,
		Now:                 entry.Add(24 * time.Hour),
		PaymentsToBreakeven: 2.3,
	}
	if got := ShouldExit(in, exitParams()); got != ExitNone {
		t.Fatalf("expected hold after break-even, got %q", got)
	}
}

func TestShouldExitHoldsWhileRateStillDeep(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ExitInput{
		EntryRate:           -0.004,
		CurrentRate:         -0.0025,
		EntryTime:           entry,
		Now:                 entry.Add(time.Hour),
		PaymentsToBreakeven: 2.3,
	}
	if got := ShouldExit(in, exitParams()); got != ExitNone {
		t.Fatalf("expected hold, got %q", got)
	}
}

func TestShouldExitRateNormalized(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ExitInput{
		EntryRate:   -0.004,
		CurrentRate: -0.00005,
		EntryTime:   entry,
		Now:         entry.Add(30 * time.Hour),
	}
	if got := ShouldExit(in, exitParams()); got != ExitRateNormalized {
		t.Fatalf("expected %s, got %q", ExitRateNormalized, got)
	}
}

func TestShouldExitMaxDuration(t *testing.T) {
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ExitInput{
		EntryRate:   -0.004,
		CurrentRate: -0.003,
		EntryTime:   entry,
		Now:         entry.Add(72*time.Hour + time.Second),
	}
	if got := ShouldExit(in, exitParams()); got != ExitMaxDuration {
		t.Fatalf("expected %s, got %q", ExitMaxDuration, got)
	}
	in.Now = entry.Add(72 * time.Hour)
	if got := ShouldExit(in, exitParams()); got != ExitNone {
		t.Fatalf("expected hold at exactly max duration, got %q", got)
	}
}
