package netmd

import (
	"bytes"
	"testing"
)

func TestFrameCountExactMultiple(t *testing.T) {
	desc := TrackDescriptor{Size: int64(WireFormatPCM.FrameSize() * 3), WireFormat: WireFormatPCM}
	if got := desc.frameCount(); got != 3 {
		t.Errorf("frameCount = %d, want 3", got)
	}
}

func TestFrameCountMisalignmentBug(t *testing.T) {
	// A payload whose size is not a multiple of 8 bytes drops one frame,
	// reproducing the reference encoder's rounding quirk exactly.
	frameSize := WireFormatPCM.FrameSize()
	size := int64(frameSize*3 + 5) // misaligned remainder, not a multiple of 8
	desc := TrackDescriptor{Size: size, WireFormat: WireFormatPCM}
	got := desc.frameCount()
	want := int(size)/frameSize - 1
	if got != want {
		t.Errorf("frameCount = %d, want %d (misalignment bug should subtract one frame)", got, want)
	}
}

func TestPacketCountSpansMultiplePackets(t *testing.T) {
	desc := TrackDescriptor{
		Size:       int64(WireFormatLP4.FrameSize() * (packetFrameCount*2 + 10)),
		WireFormat: WireFormatLP4,
	}
	if got := desc.packetCount(); got != 3 {
		t.Errorf("packetCount = %d, want 3", got)
	}
}

func TestPacketsProduceConsistentFraming(t *testing.T) {
	frameSize := WireFormatLP4.FrameSize()
	frames := packetFrameCount + 10
	payload := make([]byte, frames*frameSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	desc := TrackDescriptor{
		Reader:     bytes.NewReader(payload),
		Size:       int64(len(payload)),
		WireFormat: WireFormatLP4,
	}
	pkts, err := desc.packets()
	if err != nil {
		t.Fatalf("packets: %v", err)
	}
	if len(pkts) != desc.packetCount() {
		t.Fatalf("got %d packets, want %d", len(pkts), desc.packetCount())
	}
	var totalCipherBytes int
	for _, p := range pkts {
		if !bytes.Equal(p.key, trackDataKey) {
			t.Errorf("packet key = % x, want the raw track data key % x (the wrapped key must never be placed on the wire)", p.key, trackDataKey)
		}
		if !bytes.Equal(p.iv, trackDataIV) {
			t.Errorf("packet iv = % x, want the fixed track data iv % x", p.iv, trackDataIV)
		}
		totalCipherBytes += len(p.ciphertext)
	}
	if want := desc.frameCount() * frameSize; totalCipherBytes != want {
		t.Errorf("total ciphertext bytes = %d, want %d", totalCipherBytes, want)
	}
}

func TestBulkFrameHeaderEncoding(t *testing.T) {
	p := packet{
		key:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
		iv:         []byte{8, 7, 6, 5, 4, 3, 2, 1},
		ciphertext: []byte{0xaa, 0xbb, 0xcc},
	}
	frame := make([]byte, 8+len(p.key)+len(p.iv)+len(p.ciphertext))
	for i := range frame[:7] {
		frame[i] = 0
	}
	frame[7] = byte(len(p.ciphertext))
	copy(frame[8:], p.key)
	copy(frame[8+len(p.key):], p.iv)
	copy(frame[8+len(p.key)+len(p.iv):], p.ciphertext)

	if frame[7] != 3 {
		t.Errorf("length byte = %d, want 3", frame[7])
	}
	if !bytes.Equal(frame[8:16], p.key) {
		t.Errorf("key field mismatch: % x", frame[8:16])
	}
	if !bytes.Equal(frame[16:24], p.iv) {
		t.Errorf("iv field mismatch: % x", frame[16:24])
	}
	if !bytes.Equal(frame[24:], p.ciphertext) {
		t.Errorf("ciphertext field mismatch: % x", frame[24:])
	}
}
