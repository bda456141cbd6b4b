package netmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Control-transfer parameters used by every NetMD recorder on the USB link.
const (
	ctrlRequestTypeOut  = 0x41 // host-to-device, vendor, interface
	ctrlRequestTypeIn   = 0xc1 // device-to-host, vendor, interface
	ctrlRequestSend     = 0x80
	ctrlRequestReplyLen = 0x01 // poll: 4-byte read, byte[2] = pending reply length
	ctrlRequestReply    = 0x81 // read exactly the polled length

	bulkWriteEndpoint = 0x02
	bulkReadEndpoint  = 0x81

	replyPollInterval = 100 * time.Millisecond
)

// Handle is an open connection to a single NetMD recorder. From
// update/pkg/netmd/pcsc.go's Connection: establish a context, open a
// device, claim the one config/interface it needs, and release everything
// symmetrically on Close.
type Handle struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	ID USBID
}

// Enumerate lists every allow-listed NetMD recorder currently attached, by
// vendor/product ID pair. It does not open them; call Open with the
// desired USBID.
func Enumerate() ([]USBID, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []USBID
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if isKnown(uint16(desc.Vendor), uint16(desc.Product)) {
			found = append(found, USBID{Vendor: uint16(desc.Vendor), Product: uint16(desc.Product)})
		}
		return false // never keep a device open here, just inspect and release it
	})
	if err != nil {
		return nil, fmt.Errorf("netmd: enumerate devices: %w", err)
	}
	return found, nil
}

// Open claims the USB interface for the recorder identified by id. The
// caller must call Close when done.
func Open(id USBID) (*Handle, error) {
	if !isKnown(id.Vendor, id.Product) {
		return nil, &ArgumentError{Message: fmt.Sprintf("vendor:product %04x:%04x is not an allow-listed NetMD recorder", id.Vendor, id.Product)}
	}

	ctx := gousb.NewContext()
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(id.Vendor), gousb.ID(id.Product))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("netmd: open device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, ErrNoDevice
	}

	if err := device.SetAutoDetach(true); err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("netmd: set auto detach: %w", err)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("netmd: claim config 1: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("netmd: claim interface 0: %w", err)
	}

	epOut, err := intf.OutEndpoint(bulkWriteEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("netmd: open bulk out endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(bulkReadEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("netmd: open bulk in endpoint: %w", err)
	}

	h := &Handle{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
		ID:     id,
	}

	// The recorder may still hold a reply from a previous, killed session;
	// drain it so the next SendCommand/ReadReply pair lines up correctly.
	h.drainStaleReply()

	return h, nil
}

func (h *Handle) drainStaleReply() {
	length, err := h.getReplyLength()
	if err != nil || length == 0 {
		return
	}
	_, _ = h.ReadReply()
}

// getReplyLength polls bRequest 0x01: a 4-byte control read whose third
// byte is the number of bytes currently pending for bRequest 0x81. A
// result of 0 means the device has not finished processing the last
// command yet.
func (h *Handle) getReplyLength() (int, error) {
	buf := make([]byte, 4)
	n, err := h.device.Control(ctrlRequestTypeIn, ctrlRequestReplyLen, 0, 0, buf)
	if err != nil {
		return 0, fmt.Errorf("netmd: poll reply length: %w", err)
	}
	if n < 3 {
		return 0, fmt.Errorf("netmd: poll reply length: short read (%d bytes)", n)
	}
	return int(buf[2]), nil
}

// Close releases the interface and config and closes the device and
// context, in reverse order of acquisition. Errors are intentionally
// swallowed: by the time Close runs there is nothing productive to do
// about a failed release, and the recorder is physically reset regardless.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	if h.intf != nil {
		h.intf.Close()
	}
	if h.config != nil {
		_ = h.config.Close()
	}
	if h.device != nil {
		_ = h.device.Reset()
		_ = h.device.Close()
	}
	if h.ctx != nil {
		_ = h.ctx.Close()
	}
	return nil
}

// SendCommand writes a control-transfer command to the recorder.
func (h *Handle) SendCommand(data []byte) error {
	_, err := h.device.Control(ctrlRequestTypeOut, ctrlRequestSend, 0, 0, data)
	if err != nil {
		return fmt.Errorf("netmd: send command: %w", err)
	}
	return nil
}

// ReadReply polls bRequest 0x01 for the pending reply length, sleeping
// 100ms between zero-length polls, then issues exactly one bRequest 0x81
// read of that exact length. There is no timeout at this layer: the
// recorder dictates how long a command takes to finish, and the only way
// to give up is to stop calling this method.
func (h *Handle) ReadReply() ([]byte, error) {
	length := 0
	for length == 0 {
		var err error
		length, err = h.getReplyLength()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			time.Sleep(replyPollInterval)
		}
	}
	buf := make([]byte, length)
	n, err := h.device.Control(ctrlRequestTypeIn, ctrlRequestReply, 0, 0, buf)
	if err != nil {
		return nil, fmt.Errorf("netmd: read reply: %w", err)
	}
	return buf[:n], nil
}

// WriteBulk streams data over the bulk OUT endpoint, honoring ctx
// cancellation between chunks.
func (h *Handle) WriteBulk(ctx context.Context, data []byte) error {
	_, err := h.epOut.WriteContext(ctx, data)
	if err != nil {
		return fmt.Errorf("netmd: bulk write: %w", err)
	}
	return nil
}

// ReadBulk reads up to len(buf) bytes from the bulk IN endpoint.
func (h *Handle) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	n, err := h.epIn.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("netmd: bulk read: %w", err)
	}
	return n, nil
}
