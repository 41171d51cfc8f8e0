package ids

import "testing"

func TestNewIsMonotonicAndValid(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		if !Valid(next) {
			t.Fatalf("generated id rejected: %s", next)
		}
		prev = next
	}
	if Valid("not-an-id") {
		t.Fatalf("expected invalid id to be rejected")
	}
}
