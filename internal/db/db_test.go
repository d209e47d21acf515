package db

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123, time.FixedZone("x", 3600))
	c := encodeCursor(at, "run-7|b")
	gotAt, gotID, err := decodeCursor(c)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("time = %v, want %v", gotAt, at)
	}
	if gotID != "run-7|b" {
		t.Fatalf("run id = %q", gotID)
	}
}

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantNil bool
		wantErr bool
	}{
		{"empty is first page", "", true, false},
		{"missing separator", "2026-03-01T00:00:00Z", false, true},
		{"bad time", "yesterday|r1", false, true},
		{"valid", "2026-03-01T00:00:00Z|r1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, _, err := decodeCursor(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (at == nil) != tt.wantNil && !tt.wantErr {
				t.Fatalf("at = %v, wantNil %v", at, tt.wantNil)
			}
		})
	}
}

func TestNullableHelpers(t *testing.T) {
	if nullableString("") != nil {
		t.Fatal("empty string should map to NULL")
	}
	if got := nullableString("x"); got == nil || *got != "x" {
		t.Fatalf("nullableString(x) = %v", got)
	}
	if coalesceString("", "full") != "full" || coalesceString("light", "full") != "light" {
		t.Fatal("coalesceString fallback broken")
	}
	if optionalTime(time.Time{}) != nil {
		t.Fatal("zero time should map to NULL")
	}
}
