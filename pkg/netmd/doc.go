/*
Package netmd implements the protocol engine and secure download session used
to upload audio tracks to a USB-attached NetMD (MiniDisc) recorder.

# USB Transport

Known recorders are a fixed allow-list of (vendor, product) USB ID pairs
(constants.go). A Handle owns configuration 1, interface 0, and the vendor
control endpoint used for the whole protocol:

	bRequest 0x80  send a command   (control OUT, recipient=interface, type=vendor)
	bRequest 0x01  poll reply length (control IN, 4 bytes, byte[2] = pending length)
	bRequest 0x81  read reply        (control IN, exactly the polled length)
	endpoint 0x02  bulk OUT          (track packet data during download)

Reply polling has no timeout at this layer: the caller loops on a 100ms
sleep until the pending length is non-zero, then issues the read. Dropping
the Handle is the only cancellation path.

# Query Codec

All higher-level commands are one-liners against a small declarative
byte-pattern language (codec.go), encoded left to right:

	whitespace   ignored
	"xx"         one literal hex byte
	%b %w %d %q  unsigned int arg, emitted big-endian as 1/2/4/8 bytes
	%s           byte-string arg: 2-byte length prefix, bytes, trailing NUL
	%x           byte-string arg: 2-byte length prefix, bytes, no NUL
	%*           byte arg, emitted verbatim with no length prefix

Decoding uses the same grammar plus %? (consume and discard one byte).
Literal bytes must match the response exactly, or decoding fails with
ProtocolError. After decoding, the buffer must be fully consumed.

# Command Layer

Each exported Device method builds a query, prefixes it with a status byte
(control=0x00), sends it, reads the reply, maps the first reply byte to
success/NotImplemented/Rejected, and decodes the remainder with the query
codec (device.go).

# Secure Session

Downloading a track requires a DRM-style key exchange (session.go):

	enter secure session -> send fixed EKB key data -> exchange nonces
	  -> derive an 8-byte DES session key (retail MAC) -> setup_download

The session key never touches disk; it lives only in a Session value for the
duration of one or more track uploads, and teardown (forget + leave) is
best-effort and idempotent.

# Track Downloader

A track is split into up to 2048-frame packets (download.go). Each track
uses one DES-CBC context, keyed by the fixed data key wrapped under a
fixed key-encryption key and seeded with a fixed IV, whose state chains
across every packet — this is a protocol requirement, not an
optimization. Only the unwrapped data key and IV are placed on the wire
per packet; the device re-derives the same wrapped key from its own KEK.
*/
package netmd
