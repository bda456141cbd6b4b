package netmd

// USBID identifies a recorder by its USB vendor/product ID pair.
type USBID struct {
	Vendor  uint16
	Product uint16
}

// KnownDevices is the fixed allow-list of recorders this package has been
// verified against. Reproduced verbatim from the reference implementation's
// device table.
var KnownDevices = []USBID{
	{0x04dd, 0x7202}, // Sharp IM-MT899H
	{0x054c, 0x0075}, // Sony MZ-N1
	{0x054c, 0x0080}, // Sony LAM-1
	{0x054c, 0x0081}, // Sony MDS-JB980
	{0x054c, 0x0084}, // Sony MZ-N505
	{0x054c, 0x0085}, // Sony MZ-S1
	{0x054c, 0x0086}, // Sony MZ-N707
	{0x054c, 0x00c6}, // Sony MZ-N10
	{0x054c, 0x00c7}, // Sony MZ-N910
	{0x054c, 0x00c8}, // Sony MZ-N710/NF810
	{0x054c, 0x00c9}, // Sony MZ-N510/N610
	{0x054c, 0x00ca}, // Sony MZ-NE410/NF520D
	{0x054c, 0x00eb}, // Sony MZ-NE810/NE910
	{0x054c, 0x0101}, // Sony LAM-10
	{0x054c, 0x0113}, // Aiwa AM-NX1
	{0x054c, 0x014c}, // Aiwa AM-NX9
	{0x054c, 0x017e}, // Sony MZ-NH1
	{0x054c, 0x0180}, // Sony MZ-NH3D
	{0x054c, 0x0182}, // Sony MZ-NH900
	{0x054c, 0x0184}, // Sony MZ-NH700/NH800
	{0x054c, 0x0186}, // Sony MZ-NH600/NH600D
	{0x054c, 0x0188}, // Sony MZ-N920
	{0x054c, 0x018a}, // Sony LAM-3
	{0x054c, 0x01e9}, // Sony MZ-DH10P
	{0x054c, 0x0219}, // Sony MZ-RH10
	{0x054c, 0x021b}, // Sony MZ-RH710/MZ-RH910
	{0x054c, 0x022c}, // Sony CMT-AH10
	{0x054c, 0x023c}, // Sony DS-HMD1
	{0x054c, 0x0286}, // Sony MZ-RH1
}

// isKnown reports whether the given vendor/product pair is an allow-listed
// recorder.
func isKnown(vendor, product uint16) bool {
	for _, id := range KnownDevices {
		if id.Vendor == vendor && id.Product == product {
			return true
		}
	}
	return false
}

// WireFormat selects the encoding used on the USB link.
type WireFormat byte

const (
	WireFormatPCM     WireFormat = 0x00
	WireFormat105Kbps WireFormat = 0x90
	WireFormatLP2     WireFormat = 0x94
	WireFormatLP4     WireFormat = 0xA8
)

// DiskFormat selects the encoding stored on the MiniDisc medium.
type DiskFormat byte

const (
	DiskFormatLP4      DiskFormat = 0x00
	DiskFormatLP2      DiskFormat = 0x02
	DiskFormatSPMono   DiskFormat = 0x04
	DiskFormatSPStereo DiskFormat = 0x06
)

// wireFrameSize maps a wire format to its frame size in bytes.
var wireFrameSize = map[WireFormat]int{
	WireFormatPCM:     2048,
	WireFormatLP2:     192,
	WireFormat105Kbps: 152,
	WireFormatLP4:     96,
}

// wireToDisk maps a wire format to the disk format it is stored as.
var wireToDisk = map[WireFormat]DiskFormat{
	WireFormatPCM:     DiskFormatSPStereo,
	WireFormatLP2:     DiskFormatLP2,
	WireFormat105Kbps: DiskFormatLP2,
	WireFormatLP4:     DiskFormatLP4,
}

// FrameSize returns the wire frame size in bytes for the given format, or 0
// if the format is unrecognized.
func (w WireFormat) FrameSize() int {
	return wireFrameSize[w]
}

// DiskFormat returns the disk format a wire format is stored as on medium.
func (w WireFormat) DiskFormat() DiskFormat {
	return wireToDisk[w]
}

// Packet size, in frames, of a single bulk transfer unit.
const packetFrameCount = 2048

// Per-packet wire overhead: an 8-byte big-endian length, an 8-byte wrapped
// data key, and an 8-byte IV.
const packetOverheadBytes = 24

// DRM constants. These are literal constants of the NetMD key-exchange
// scheme, not secrets derived at runtime, and must be reproduced byte-exact.
var (
	rootKey = []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x0f, 0xed, 0xcb, 0xa9, 0x87, 0x65, 0x43, 0x21}
	kek     = []byte{0x14, 0xe3, 0x83, 0x4e, 0xe2, 0xd3, 0xcc, 0xa5}

	contentID = []byte{
		0x01, 0x0F, 0x50, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
		0x48, 0xA2, 0x8D, 0x3E, 0x1A, 0x3B, 0x0C, 0x44, 0xAF, 0x2f, 0xa0,
	}

	ekbID = uint32(0x26422642)

	ekbChainKeys = [][]byte{
		{0x25, 0x45, 0x06, 0x4d, 0xea, 0xca, 0x14, 0xf9, 0x96, 0xbd, 0xc8, 0xa4, 0x06, 0xc2, 0x2b, 0x81},
		{0xfb, 0x60, 0xbd, 0xdd, 0x0d, 0xbc, 0xab, 0x84, 0x8a, 0x00, 0x5e, 0x03, 0x19, 0x4d, 0x3e, 0xda},
	}
	ekbDepth     = 9
	ekbSignature = []byte{
		0x8f, 0x2b, 0xc3, 0x52, 0xe8, 0x6c, 0x5e, 0xd3, 0x06, 0xdc, 0xae, 0x18, 0xd2, 0xf3, 0x8c, 0x7f,
		0x89, 0xb5, 0xe1, 0x85, 0x55, 0xa1, 0x05, 0xea,
	}

	zeroIV8 = make([]byte, 8)

	// trackDataKey and trackDataIV are fixed, literal constants of the
	// protocol used to key the per-track CBC stream. They are public
	// knowledge of the wire format, not secrets.
	trackDataKey = []byte{0x96, 0x03, 0xc7, 0xc0, 0x53, 0x37, 0xd2, 0xf0}
	trackDataIV  = []byte{0x08, 0xd9, 0xcb, 0xd4, 0xc1, 0x5e, 0xc0, 0xff}
)
