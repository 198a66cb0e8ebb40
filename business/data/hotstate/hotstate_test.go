package hotstate

import "testing"

func TestParseUnixMilliRoundTrip(t *testing.T) {
	ms, err := parseUnixMilli("1700000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.UnixMilli() != 1700000000000 {
		t.Fatalf("got %v, want 1700000000000", ms.UnixMilli())
	}
}

func TestParseUnixMilliRejectsGarbage(t *testing.T) {
	if _, err := parseUnixMilli("not-a-number"); err == nil {
		t.Fatalf("expected an error for non-numeric input")
	}
}
