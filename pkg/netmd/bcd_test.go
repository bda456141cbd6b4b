package netmd

import (
	"testing"
	"testing/quick"
)

func TestBCDRoundTrip(t *testing.T) {
	f := func(n uint16) bool {
		value := int(n) % 100000000 // keep within [0, 1e8)
		bcd, err := intToBCD(value, 4)
		if err != nil {
			t.Fatalf("intToBCD(%d): %v", value, err)
		}
		return bcdToInt(bcd) == value
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 2000}); err != nil {
		t.Error(err)
	}
}

func TestBCDByteKnownValues(t *testing.T) {
	cases := []struct {
		in   int
		want byte
	}{
		{0, 0x00},
		{9, 0x09},
		{10, 0x10},
		{45, 0x45},
		{99, 0x99},
	}
	for _, c := range cases {
		got, err := bcdByte(c.in)
		if err != nil {
			t.Fatalf("bcdByte(%d): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("bcdByte(%d) = 0x%02x, want 0x%02x", c.in, got, c.want)
		}
	}
	if _, err := bcdByte(100); err == nil {
		t.Error("bcdByte(100) should overflow a single BCD byte")
	}
}

func TestDiscCapacityBCDDecoding(t *testing.T) {
	// Scenario from spec: raw bytes 0x01 0x23 0x45 0x12 decode to
	// [1, 23, 45, 12] (hours, minutes, seconds, frames).
	raw := []byte{0x01, 0x23, 0x45, 0x12}
	want := []int{1, 23, 45, 12}
	for i, b := range raw {
		if got := bcdToInt(uint32(b)); got != want[i] {
			t.Errorf("bcdToInt(0x%02x) = %d, want %d", b, got, want[i])
		}
	}
}
