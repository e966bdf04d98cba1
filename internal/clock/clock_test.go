package clock

import (
	"testing"
	"time"
)

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %s, got %s", start, c.Now())
	}
	c.Advance(40 * time.Minute)
	if want := start.Add(40 * time.Minute); !c.Now().Equal(want) {
		t.Fatalf("expected %s, got %s", want, c.Now())
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected reset to %s", start)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Fatal("expected Real clock for nil input")
	}
	fixed := NewFixed(time.Unix(0, 0))
	if OrReal(fixed) != Clock(fixed) {
		t.Fatal("expected provided clock to be returned")
	}
	if loc := (Real{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}
