package netmd

import (
	"context"
	"strings"
)

// statusControl is the fixed first byte of every outgoing command.
const statusControl byte = 0x00

// Playback actions for the transport-control query.
const (
	actionPlay         = 0x75
	actionPause        = 0x7d
	actionFastForward  = 0x39
	actionRewind       = 0x49
	trackDirPrevious   = 0x0002
	trackDirNext       = 0x8001
	trackDirRestart    = 0x0001
	discFlagWritable   = 0x10
	discFlagProtected  = 0x40
)

// TimeCode is an hour:minute:second:frame position on the disc (512 frames
// per second).
type TimeCode struct {
	Hour, Minute, Second, Frame int
}

// transport is the set of operations Device and Session need from a
// connection to a recorder. *Handle satisfies it; tests substitute a
// simulated recorder that never touches USB.
type transport interface {
	SendCommand(data []byte) error
	ReadReply() ([]byte, error)
	WriteBulk(ctx context.Context, data []byte) error
	ReadBulk(ctx context.Context, buf []byte) (int, error)
}

// Device is the command layer: every disc-wide, playback, titling and
// track-editing operation a recorder understands, expressed as query/reply
// pairs over a transport.
type Device struct {
	h transport
}

// NewDevice wraps an already-open Handle (or, in tests, any other
// transport) with the command layer.
func NewDevice(h transport) *Device {
	return &Device{h: h}
}

// query sends a command built from pattern/args and returns its payload
// with the status byte stripped, classifying non-success statuses as a
// StatusError.
func (d *Device) query(pattern string, args ...interface{}) ([]byte, error) {
	payload, err := encodeQuery(pattern, args...)
	if err != nil {
		return nil, err
	}
	cmd := append([]byte{statusControl}, payload...)
	if err := d.h.SendCommand(cmd); err != nil {
		return nil, err
	}
	reply, err := d.h.ReadReply()
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, &ProtocolError{Message: "empty reply"}
	}
	status := reply[0]
	switch status {
	case statusAccepted, statusImplemented, statusInterim:
		return reply[1:], nil
	default:
		return nil, &StatusError{Status: status}
	}
}

// decode runs decodeQuery against the result of query, in one step.
func (d *Device) decode(sendPattern string, sendArgs []interface{}, replyPattern string) ([]interface{}, error) {
	reply, err := d.query(sendPattern, sendArgs...)
	if err != nil {
		return nil, err
	}
	return decodeQuery(replyPattern, reply)
}

//
// Disc-wide controls
//

// EraseDisc erases the disc unconditionally, without checking track
// protection.
func (d *Device) EraseDisc() error {
	_, err := d.decode("1840 ff 0000", nil, "1840 00 0000")
	return err
}

// SyncTOC flushes the in-memory table of contents to disc.
func (d *Device) SyncTOC() error {
	_, err := d.decode("1808 10180200 00", nil, "1808 10180200 00")
	return err
}

// CacheTOC loads the table of contents into memory for editing.
func (d *Device) CacheTOC() error {
	_, err := d.decode("1808 10180203 00", nil, "1808 10180203 00")
	return err
}

//
// Playback controls
//

func (d *Device) transport(action int) error {
	_, err := d.decode("18c3 ff %b 000000", []interface{}{uint64(action)}, "18c3 00 %b 000000")
	return err
}

// Play starts playback.
func (d *Device) Play() error { return d.transport(actionPlay) }

// Pause pauses playback.
func (d *Device) Pause() error { return d.transport(actionPause) }

// FastForward fast-forwards playback.
func (d *Device) FastForward() error { return d.transport(actionFastForward) }

// Rewind rewinds playback.
func (d *Device) Rewind() error { return d.transport(actionRewind) }

// Stop stops playback.
func (d *Device) Stop() error {
	_, err := d.decode("18c5 ff 00000000", nil, "18c5 00 00000000")
	return err
}

func (d *Device) changeTrack(direction int) error {
	_, err := d.decode("1850 ff10 00000000 %w", []interface{}{uint64(direction)}, "1850 0010 00000000 %?%?")
	return err
}

// SwitchNextTrack seeks to the beginning of the next track.
func (d *Device) SwitchNextTrack() error { return d.changeTrack(trackDirNext) }

// SwitchPreviousTrack seeks to the beginning of the previous track.
func (d *Device) SwitchPreviousTrack() error { return d.changeTrack(trackDirPrevious) }

// RestartTrack seeks to the beginning of the current track.
func (d *Device) RestartTrack() error { return d.changeTrack(trackDirRestart) }

// GoToTrack seeks to the beginning of the given track and returns the
// track number the device actually landed on.
func (d *Device) GoToTrack(track int) (int, error) {
	vals, err := d.decode("1850 ff010000 0000 %w", []interface{}{uint64(track)}, "1850 00010000 0000 %w")
	if err != nil {
		return 0, err
	}
	return int(vals[0].(uint64)), nil
}

// GoToTime seeks to the given time coordinate within track.
func (d *Device) GoToTime(track int, t TimeCode) error {
	hour, err := bcdByte(t.Hour)
	if err != nil {
		return err
	}
	minute, err := bcdByte(t.Minute)
	if err != nil {
		return err
	}
	second, err := bcdByte(t.Second)
	if err != nil {
		return err
	}
	frame, err := bcdByte(t.Frame)
	if err != nil {
		return err
	}
	_, err = d.decode("1850 ff000000 0000 %w %b%b%b%b",
		[]interface{}{uint64(track), uint64(hour), uint64(minute), uint64(second), uint64(frame)},
		"1850 00000000 %?%? %w %b%b%b%b")
	return err
}

//
// Titling
//

// GetDiscTitle returns the disc title. When the disc is a grouped disc
// (its raw title ends in "//"), the disc-level title stored in the first
// group entry ("0;<title>") is extracted; otherwise the raw title is
// returned unmodified.
func (d *Device) GetDiscTitle(wchar bool) (string, error) {
	title, err := d.getDiscTitleRaw(wchar)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(title, "//") {
		first := strings.SplitN(title, "//", 2)[0]
		if strings.HasPrefix(first, "0;") {
			return first[2:], nil
		}
		return "", nil
	}
	return title, nil
}

func (d *Device) getDiscTitleRaw(wchar bool) (string, error) {
	wcharValue := 0
	if wchar {
		wcharValue = 1
	}
	var result strings.Builder
	done, remaining, total := 0, 0, 1
	for done < total {
		reply, err := d.query("1806 02201801 00%b 3000 0a00 ff00 %w%w",
			uint64(wcharValue), uint64(remaining), uint64(done))
		if err != nil {
			return "", err
		}
		var chunk []byte
		if remaining == 0 {
			vals, err := decodeQuery("1806 02201801 00%? 3000 0a00 1000 %w0000 %?%?000a %w %*", reply)
			if err != nil {
				return "", err
			}
			chunkSize := int(vals[0].(uint64)) - 6
			total = int(vals[1].(uint64))
			chunk = vals[2].([]byte)
			if chunkSize != len(chunk) {
				return "", &ProtocolError{Message: "disc title chunk size mismatch"}
			}
		} else {
			vals, err := decodeQuery("1806 02201801 00%? 3000 0a00 1000 %w%?%? %*", reply)
			if err != nil {
				return "", err
			}
			chunkSize := int(vals[0].(uint64))
			chunk = vals[1].([]byte)
			if chunkSize != len(chunk) {
				return "", &ProtocolError{Message: "disc title chunk size mismatch"}
			}
		}
		result.Write(chunk)
		done += len(chunk)
		remaining = total - done
	}
	return result.String(), nil
}

// SetDiscTitle sets the disc title.
func (d *Device) SetDiscTitle(title string, wchar bool) error {
	wcharValue := 0
	if wchar {
		wcharValue = 1
	}
	oldTitle, err := d.getDiscTitleRaw(false)
	if err != nil {
		return err
	}
	_, err = d.decode("1807 02201801 00%b 3000 0a00 5000 %w 0000 %w %s",
		[]interface{}{uint64(wcharValue), uint64(len(title)), uint64(len(oldTitle)), []byte(title)},
		"1807 02201801 00%? 3000 0a00 5000 %?%? 0000 %?%?")
	return err
}

// GetTrackTitle returns the title of track.
func (d *Device) GetTrackTitle(track int, wchar bool) (string, error) {
	wcharValue := 2
	if wchar {
		wcharValue = 3
	}
	vals, err := d.decode("1806 022018%b %w 3000 0a00 ff00 00000000",
		[]interface{}{uint64(wcharValue), uint64(track)},
		"1806 022018%? %?%? %?%? %?%? 1000 00%?0000 00%?000a %x")
	if err != nil {
		return "", err
	}
	return string(vals[0].([]byte)), nil
}

// SetTrackTitle sets the title of track.
func (d *Device) SetTrackTitle(track int, title string, wchar bool) error {
	wcharValue := 2
	if wchar {
		wcharValue = 3
	}
	oldLen := 0
	if existing, err := d.GetTrackTitle(track, false); err == nil {
		oldLen = len(existing)
	} else if !IsRejected(err) {
		return err
	}
	_, err := d.decode("1807 022018%b %w 3000 0a00 5000 %w 0000 %w %*",
		[]interface{}{uint64(wcharValue), uint64(track), uint64(len(title)), uint64(oldLen), []byte(title)},
		"1807 022018%? %?%? 3000 0a00 5000 %?%? 0000 %?%?")
	return err
}

//
// Disc status
//

func (d *Device) getStatus() ([]byte, error) {
	vals, err := d.decode("1809 8001 0230 8800 0030 8804 00 ff00 00000000", nil,
		"1809 8001 0230 8800 0030 8804 00 1000 00090000 %x")
	if err != nil {
		return nil, err
	}
	return vals[0].([]byte), nil
}

// IsDiscPresent reports whether a disc is loaded.
func (d *Device) IsDiscPresent() (bool, error) {
	status, err := d.getStatus()
	if err != nil {
		return false, err
	}
	if len(status) < 5 {
		return false, &ProtocolError{Message: "status reply too short"}
	}
	return status[4] == 0x40, nil
}

// GetDiscCapacity returns the recorded, total and available disc durations.
func (d *Device) GetDiscCapacity() ([3]TimeCode, error) {
	var out [3]TimeCode
	vals, err := d.decode("1806 02101000 3080 0300 ff00 00000000", nil,
		"1806 02101000 3080 0300 1000 001d0000 001b 8003 0017 8000 0005 %w "+
			"%b %b %b 0005 %w %b %b %b 0005 %w %b %b %b")
	if err != nil {
		return out, err
	}
	for i := range out {
		base := i * 4
		out[i] = TimeCode{
			Hour:   bcdToInt(uint32(vals[base+0].(uint64))),
			Minute: bcdToInt(uint32(vals[base+1].(uint64))),
			Second: bcdToInt(uint32(vals[base+2].(uint64))),
			Frame:  bcdToInt(uint32(vals[base+3].(uint64))),
		}
	}
	return out, nil
}

func (d *Device) getDiscFlags() (byte, error) {
	vals, err := d.decode("1806 01101000 ff00 0001000b", nil, "1806 01101000 1000 0001000b %b")
	if err != nil {
		return 0, err
	}
	return byte(vals[0].(uint64)), nil
}

// IsDiscWriteable reports whether the disc accepts new recordings.
func (d *Device) IsDiscWriteable() (bool, error) {
	flags, err := d.getDiscFlags()
	if err != nil {
		return false, err
	}
	return flags == discFlagWritable, nil
}

// IsDiscWriteProtected reports whether the disc's write-protect tab is set.
func (d *Device) IsDiscWriteProtected() (bool, error) {
	flags, err := d.getDiscFlags()
	if err != nil {
		return false, err
	}
	return flags == discFlagProtected, nil
}

//
// Track status
//

// GetTrackCount returns the number of tracks on the disc.
func (d *Device) GetTrackCount() (int, error) {
	vals, err := d.decode("1806 02101001 3000 1000 ff00 00000000", nil,
		"1806 02101001 %?%? %?%? 1000 00%?0000 %x")
	if err != nil {
		return 0, err
	}
	data := vals[0].([]byte)
	if len(data) != 6 {
		return 0, &ProtocolError{Message: "track count reply has unexpected length"}
	}
	want := []byte{0x00, 0x10, 0x00, 0x02, 0x00}
	for i, b := range want {
		if data[i] != b {
			return 0, &ProtocolError{Message: "track count reply has unexpected prefix"}
		}
	}
	return int(data[5]), nil
}

func (d *Device) getTrackInfo(track, p1, p2 int) ([]byte, error) {
	vals, err := d.decode("1806 02201001 %w %w %w ff00 00000000",
		[]interface{}{uint64(track), uint64(p1), uint64(p2)},
		"1806 02201001 %?%? %?%? %?%? 1000 00%?0000 %x")
	if err != nil {
		return nil, err
	}
	return vals[0].([]byte), nil
}

// GetTrackLength returns the duration of track.
func (d *Device) GetTrackLength(track int) (TimeCode, error) {
	raw, err := d.getTrackInfo(track, 0x3000, 0x0100)
	if err != nil {
		return TimeCode{}, err
	}
	vals, err := decodeQuery("0001 0006 0000 %b %b %b %b", raw)
	if err != nil {
		return TimeCode{}, err
	}
	return TimeCode{
		Hour:   bcdToInt(uint32(vals[0].(uint64))),
		Minute: bcdToInt(uint32(vals[1].(uint64))),
		Second: bcdToInt(uint32(vals[2].(uint64))),
		Frame:  bcdToInt(uint32(vals[3].(uint64))),
	}, nil
}

// TrackPosition is the currently playing track and its elapsed time.
type TrackPosition struct {
	Track int
	Time  TimeCode
}

// GetTrackPosition returns the currently playing track and position, or
// nil if no disc is present.
func (d *Device) GetTrackPosition() (*TrackPosition, error) {
	vals, err := d.decode("1809 8001 0430 8802 0030 8805 0030 0003 0030 0002 00 ff00 00000000", nil,
		"1809 8001 0430 %?%? %?%? %?%? %?%? %?%? %?%? %?%? %? %?00 00%?0000 "+
			"000b 0002 0007 00 %w %b %b %b %b")
	if err != nil {
		if IsRejected(err) {
			return nil, nil
		}
		return nil, err
	}
	return &TrackPosition{
		Track: int(vals[0].(uint64)),
		Time: TimeCode{
			Hour:   bcdToInt(uint32(vals[1].(uint64))),
			Minute: bcdToInt(uint32(vals[2].(uint64))),
			Second: bcdToInt(uint32(vals[3].(uint64))),
			Frame:  bcdToInt(uint32(vals[4].(uint64))),
		},
	}, nil
}

// GetTrackUUID returns the 8-byte DRM tracking identifier for track.
func (d *Device) GetTrackUUID(track int) ([]byte, error) {
	vals, err := d.decode("1800 080046 f0030103 23 ff 1001 %w", []interface{}{uint64(track)},
		"1800 080046 f0030103 23 00 1001 %?%? %*")
	if err != nil {
		return nil, err
	}
	return vals[0].([]byte), nil
}

//
// Track editing
//

// EraseTrack removes track from the disc.
func (d *Device) EraseTrack(track int) error {
	_, err := d.decode("1840 ff01 00 201001 %w", []interface{}{uint64(track)},
		"1840 1001 00 201001 %?%?")
	return err
}

// MoveTrack moves the track at source to dest.
func (d *Device) MoveTrack(source, dest int) error {
	_, err := d.decode("1843 ff00 00 201001 00 %w 201001 %w",
		[]interface{}{uint64(source), uint64(dest)},
		"1843 0000 00 201001 00 %?%? 201001 %?%?")
	return err
}

// DisableNewTrackProtection toggles copy protection for future downloaded
// tracks for the remainder of the current secure session. The device
// resets it to enabled when the session ends.
func (d *Device) DisableNewTrackProtection(disable bool) error {
	val := 0
	if disable {
		val = 1
	}
	_, err := d.decode("1800 080046 f0030103 2b ff %w", []interface{}{uint64(val)},
		"1800 080046 f0030103 2b 00 %?%?")
	return err
}
