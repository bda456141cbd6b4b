package netmd

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestEncodeQueryLiteralVector(t *testing.T) {
	// The "go to track" query (see Device.GoToTrack) with track 7.
	got, err := encodeQuery("1850 ff 010000 0000 %w", 7)
	if err != nil {
		t.Fatalf("encodeQuery: %v", err)
	}
	want := []byte{0x18, 0x50, 0xff, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeQuery = % x, want % x", got, want)
	}
}

func TestDecodeQueryLiteralVector(t *testing.T) {
	response := []byte{0x18, 0x50, 0xff, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07}
	vals, err := decodeQuery("1850 ff 010000 0000 %w", response)
	if err != nil {
		t.Fatalf("decodeQuery: %v", err)
	}
	if len(vals) != 1 {
		t.Fatalf("decodeQuery returned %d values, want 1", len(vals))
	}
	if vals[0].(uint64) != 7 {
		t.Errorf("decodeQuery value = %v, want 7", vals[0])
	}
}

func TestDecodeQueryLiteralMismatch(t *testing.T) {
	response := []byte{0x18, 0x51, 0xff, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07}
	_, err := decodeQuery("1850 ff 010000 0000 %w", response)
	if err == nil {
		t.Fatal("expected a protocol mismatch error")
	}
	var pe *ProtocolError
	if !asProtocolError(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if pe.Offset != 1 || pe.Expected != 0x50 || pe.Actual != 0x51 {
		t.Errorf("unexpected ProtocolError details: %+v", pe)
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	*target = pe
	return true
}

func TestCodecRoundTripIntegers(t *testing.T) {
	f := func(b8 uint8, w16 uint16, d32 uint32) bool {
		encoded, err := encodeQuery("aa %b %w %d bb", uint64(b8), uint64(w16), uint64(d32))
		if err != nil {
			t.Fatalf("encodeQuery: %v", err)
		}
		vals, err := decodeQuery("aa %b %w %d bb", encoded)
		if err != nil {
			t.Fatalf("decodeQuery: %v", err)
		}
		return vals[0].(uint64) == uint64(b8) &&
			vals[1].(uint64) == uint64(w16) &&
			vals[2].(uint64) == uint64(d32)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func TestCodecRoundTripStringAndBytes(t *testing.T) {
	payload := []byte("netmd track title")
	encoded, err := encodeQuery("%s", payload)
	if err != nil {
		t.Fatalf("encodeQuery: %v", err)
	}
	vals, err := decodeQuery("%s", encoded)
	if err != nil {
		t.Fatalf("decodeQuery: %v", err)
	}
	if !bytes.Equal(vals[0].([]byte), payload) {
		t.Errorf("round-tripped %%s = %q, want %q", vals[0], payload)
	}

	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded, err = encodeQuery("%x", raw)
	if err != nil {
		t.Fatalf("encodeQuery: %v", err)
	}
	vals, err = decodeQuery("%x", encoded)
	if err != nil {
		t.Fatalf("decodeQuery: %v", err)
	}
	if !bytes.Equal(vals[0].([]byte), raw) {
		t.Errorf("round-tripped %%x = % x, want % x", vals[0], raw)
	}
}

func TestCodecWildcardAndDiscard(t *testing.T) {
	remainder := []byte{0x01, 0x02, 0x03}
	encoded, err := encodeQuery("ff %*", remainder)
	if err != nil {
		t.Fatalf("encodeQuery: %v", err)
	}
	vals, err := decodeQuery("ff %?%?%?", encoded)
	if err != nil {
		t.Fatalf("decodeQuery: %v", err)
	}
	if len(vals) != 0 {
		t.Errorf("expected %%? to discard without producing values, got %v", vals)
	}

	vals, err = decodeQuery("ff %*", encoded)
	if err != nil {
		t.Fatalf("decodeQuery: %v", err)
	}
	if !bytes.Equal(vals[0].([]byte), remainder) {
		t.Errorf("%%* = % x, want % x", vals[0], remainder)
	}
}

func TestDecodeQueryRejectsTrailingBytes(t *testing.T) {
	if _, err := decodeQuery("ff", []byte{0xff, 0x00}); err == nil {
		t.Fatal("expected an error for unconsumed trailing bytes")
	}
}
