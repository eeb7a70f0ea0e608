package clock_test

import (
	"testing"
	"time"

	"github.com/m-lab/ncps/clock"
)

func TestMillisNonDecreasing(t *testing.T) {
	prev := clock.Millis()
	for i := 0; i < 100; i++ {
		now := clock.Millis()
		if now < prev {
			t.Fatalf("clock.Millis() regressed: %d < %d", now, prev)
		}
		prev = now
	}
}

func TestMicrosAdvances(t *testing.T) {
	start := clock.Micros()
	time.Sleep(2 * time.Millisecond)
	end := clock.Micros()
	if end <= start {
		t.Fatalf("clock.Micros() did not advance: start=%d end=%d", start, end)
	}
}
