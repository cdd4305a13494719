package dispatch

import (
	"testing"
	"time"
)

func TestDelayDoublesPerAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 20, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	if got := policy.Delay(10); got != 10*time.Second {
		t.Errorf("Delay(10) = %s, want cap %s", got, 10*time.Second)
	}
	if got := policy.Delay(63); got != 10*time.Second {
		t.Errorf("Delay(63) = %s, want cap even past overflow territory", got)
	}
}
