// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package watermark

import "testing"

func TestFromLSNRoundTrips(t *testing.T) {
	w := FromLSN(0xABCDEF, 7)
	lsn, err := w.LSN()
	if err != nil {
		t.Fatalf("LSN: %v", err)
	}
	if lsn != 0xABCDEF {
		t.Fatalf("got LSN %x, want %x", lsn, 0xABCDEF)
	}
}

func TestOrderingAgreesWithLSNAndSequence(t *testing.T) {
	a := FromLSN(100, 0)
	b := FromLSN(100, 1)
	c := FromLSN(101, 0)

	if !a.Less(b) {
		t.Fatal("same LSN, lower sequence should order first")
	}
	if !b.Less(c) {
		t.Fatal("lower LSN should order first regardless of sequence")
	}
	if !Zero.Less(a) {
		t.Fatal("Zero must order before every real watermark")
	}
	if !a.LessOrEqual(a) {
		t.Fatal("a watermark must be <= itself")
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		w    Watermark
		want bool
	}{
		{"zero", Zero, true},
		{"well_formed", FromLSN(42, 3), true},
		{"too_short", Watermark("abc"), false},
		{"non_hex", Watermark("zzzzzzzzzzzzzzzzzzzzzz"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Valid(); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.w, got, tt.want)
			}
		})
	}
}

func TestLSNRejectsTooShort(t *testing.T) {
	if _, err := Watermark("short").LSN(); err == nil {
		t.Fatal("expected error for too-short watermark")
	}
}
