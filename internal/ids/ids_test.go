package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids: %s >= %s", a, b)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	got, ok := Time(id)
	if !ok {
		t.Fatalf("expected id %s to parse", id)
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected time: %v, want %v", got, at)
	}
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatalf("expected invalid id to be rejected")
	}
}
