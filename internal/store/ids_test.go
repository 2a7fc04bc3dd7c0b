package store

import (
	"testing"
	"time"
)

func TestMillisIDsNeverCollide(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g := &MillisIDs{Now: func() time.Time { return fixed }}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := g.Next()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if !seen["payment_1700000000000"] || !seen["payment_1700000000049"] {
		t.Fatalf("unexpected id sequence: %v", seen)
	}
}

func TestIsLocalID(t *testing.T) {
	cases := map[string]bool{
		"payment_1700000000000":                true,
		"payment_":                             false,
		"payment_abc":                          false,
		"6f1c2a4e-8a55-4f52-9a8b-0f3d2c1b0a99": false,
		"":                                     false,
	}
	for in, want := range cases {
		if got := IsLocalID(in); got != want {
			t.Fatalf("IsLocalID(%q) = %v, want %v", in, got, want)
		}
	}
}
