package netmd

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"fmt"
	"testing"
)

// fakeTransport is a simulated recorder: it recognizes the exact query
// patterns the command layer sends, replies the way a real device would,
// and records the order commands arrive in so tests can assert on
// end-to-end call sequencing without any USB hardware.
type fakeTransport struct {
	calls      []string
	pending    [][]byte
	sessionKey []byte
	devNonce   []byte
	writeCount int
}

var fakeSendPatterns = []struct {
	name    string
	pattern string
}{
	{"disableProtection", "1800 080046 f0030103 2b ff %w"},
	{"forgetSessionKey", "1800 080046 f0030103 21 ff 000000"},
	{"leaveSecureSession", "1800 080046 f0030103 81 ff"},
	{"enterSecureSession", "1800 080046 f0030103 80 ff"},
	{"sendKeyData", "1800 080046 f0030103 12 ff %w %d %d %d %d 00000000 %* %*"},
	{"exchangeSessionKey", "1800 080046 f0030103 20 ff 000000 %*"},
	{"setupDownload", "1800 080046 f0030103 22 ff 0000 %*"},
	{"sendTrackHeader", "1800 080046 f0030103 28 ff 000100 1001 ffff 00 %b %b %d %d"},
	{"commitTrack", "1800 080046 f0030103 48 ff 00 1001 %w %*"},
	{"cacheTOC", "1808 10180203 00"},
	{"syncTOC", "1808 10180200 00"},
	{"getTrackTitle", "1806 022018%b %w 3000 0a00 ff00 00000000"},
	{"setTrackTitle", "1807 022018%b %w 3000 0a00 5000 %w 0000 %w %*"},
}

// buildReply renders pattern into bytes the way encodeQuery would, except
// %? placeholders are filled with zero bytes instead of consuming an
// argument, so reply templates can be written with the exact same pattern
// strings the command layer uses to decode them.
func buildReply(pattern string, fills ...interface{}) []byte {
	tokens, err := parsePattern(pattern)
	if err != nil {
		panic(err)
	}
	var out []byte
	i := 0
	next := func() interface{} {
		if i < len(fills) {
			v := fills[i]
			i++
			return v
		}
		return nil
	}
	for _, t := range tokens {
		if t.literal {
			out = append(out, t.value)
			continue
		}
		switch t.ph {
		case 'b', 'w', 'd', 'q':
			width := intWidths[t.ph]
			var n uint64
			if v := next(); v != nil {
				n, _ = toUint64(v)
			}
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, n)
			out = append(out, buf[8-width:]...)
		case '?':
			out = append(out, 0)
		case '*':
			b, _ := toBytes(next())
			out = append(out, b...)
		case 's', 'x':
			b, _ := toBytes(next())
			length := len(b)
			if t.ph == 's' {
				length++
			}
			out = append(out, byte(length>>8), byte(length))
			out = append(out, b...)
			if t.ph == 's' {
				out = append(out, 0)
			}
		}
	}
	return out
}

func (f *fakeTransport) SendCommand(data []byte) error {
	if len(data) == 0 || data[0] != statusControl {
		return fmt.Errorf("fake transport: bad status control byte")
	}
	payload := data[1:]
	for _, sp := range fakeSendPatterns {
		vals, err := decodeQuery(sp.pattern, payload)
		if err != nil {
			continue
		}
		f.calls = append(f.calls, sp.name)
		f.dispatch(sp.name, vals)
		return nil
	}
	return fmt.Errorf("fake transport: unrecognized command: % x", payload)
}

func (f *fakeTransport) dispatch(name string, vals []interface{}) {
	const trackNumber = 3
	switch name {
	case "disableProtection":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 2b 00 %?%?"))
	case "forgetSessionKey":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 21 00 000000"))
	case "leaveSecureSession":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 81 00"))
	case "enterSecureSession":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 80 00"))
	case "sendKeyData":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 12 01 %?%? %?%?%?%?"))
	case "exchangeSessionKey":
		hostNonce := vals[0].([]byte)
		f.devNonce = []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22}
		nonce := append(append([]byte{}, hostNonce...), f.devNonce...)
		key, err := deriveSessionKey(rootKey, nonce)
		if err != nil {
			panic(err)
		}
		f.sessionKey = key
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 20 00 000000 %*", f.devNonce))
	case "setupDownload":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 22 00 0000"))
	case "sendTrackHeader":
		f.enqueue(statusAccepted, nil) // consumed by query()'s own ReadReply, never decoded
		f.enqueue(statusAccepted, f.buildTrackResultReply(trackNumber))
	case "commitTrack":
		f.enqueue(statusAccepted, buildReply("1800 080046 f0030103 48 00 00 1001 %?%?"))
	case "cacheTOC":
		f.enqueue(statusAccepted, buildReply("1808 10180203 00"))
	case "syncTOC":
		f.enqueue(statusAccepted, buildReply("1808 10180200 00"))
	case "getTrackTitle":
		f.enqueue(statusRejected, nil) // no title set yet, as on a freshly downloaded track
	case "setTrackTitle":
		f.enqueue(statusAccepted, buildReply("1807 022018%? %?%? 3000 0a00 5000 %?%? 0000 %?%?"))
	default:
		panic("fake transport: no reply configured for " + name)
	}
}

func (f *fakeTransport) buildTrackResultReply(trackNumber int) []byte {
	wantUUID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wantContentID := bytes.Repeat([]byte{0x42}, 20)
	plain := make([]byte, 32)
	copy(plain[0:8], wantUUID)
	copy(plain[12:32], wantContentID)

	blockCipher, err := des.NewCipher(f.sessionKey)
	if err != nil {
		panic(err)
	}
	encrypted := make([]byte, len(plain))
	cipher.NewCBCEncrypter(blockCipher, zeroIV8).CryptBlocks(encrypted, plain)

	return buildReply("1800 080046 f0030103 28 00 000100 1001 %w 00 %?%? %?%?%?%? %?%?%?%? %*",
		uint64(trackNumber), encrypted)
}

func (f *fakeTransport) enqueue(status byte, payload []byte) {
	f.pending = append(f.pending, append([]byte{status}, payload...))
}

func (f *fakeTransport) ReadReply() ([]byte, error) {
	if len(f.pending) == 0 {
		return nil, fmt.Errorf("fake transport: no reply queued")
	}
	reply := f.pending[0]
	f.pending = f.pending[1:]
	return reply, nil
}

func (f *fakeTransport) WriteBulk(ctx context.Context, data []byte) error {
	f.writeCount++
	return nil
}

func (f *fakeTransport) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	return 0, fmt.Errorf("fake transport: ReadBulk not used by this flow")
}

func TestOrchestratorEndToEndOrdering(t *testing.T) {
	ft := &fakeTransport{}
	dev := NewDevice(ft)

	orch, err := NewOrchestrator(dev, true)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	frameSize := WireFormatLP4.FrameSize()
	payload := bytes.Repeat([]byte{0x7}, frameSize*5)
	track := TrackDescriptor{
		Reader:     bytes.NewReader(payload),
		Size:       int64(len(payload)),
		Title:      "test track",
		WireFormat: WireFormatLP4,
	}

	results, err := orch.DownloadAll(context.Background(), []TrackDescriptor{track})
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].TrackNumber != 3 {
		t.Errorf("TrackNumber = %d, want 3", results[0].TrackNumber)
	}
	wantUUID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(results[0].UUID, wantUUID) {
		t.Errorf("UUID = % x, want % x", results[0].UUID, wantUUID)
	}
	wantContentID := bytes.Repeat([]byte{0x42}, 20)
	if !bytes.Equal(results[0].ContentID, wantContentID) {
		t.Errorf("ContentID = % x, want % x", results[0].ContentID, wantContentID)
	}

	wantCalls := []string{
		"disableProtection",
		"forgetSessionKey", "leaveSecureSession",
		"enterSecureSession", "sendKeyData", "exchangeSessionKey",
		"setupDownload", "sendTrackHeader",
		"cacheTOC", "getTrackTitle", "setTrackTitle", "syncTOC", "commitTrack",
		"forgetSessionKey", "leaveSecureSession",
	}
	if len(ft.calls) != len(wantCalls) {
		t.Fatalf("call sequence length = %d, want %d: got %v", len(ft.calls), len(wantCalls), ft.calls)
	}
	for i, want := range wantCalls {
		if ft.calls[i] != want {
			t.Errorf("call %d = %q, want %q (full sequence: %v)", i, ft.calls[i], want, ft.calls)
		}
	}
	if ft.writeCount != 1 {
		t.Errorf("writeCount = %d, want 1 bulk packet for a single-packet track", ft.writeCount)
	}
}
