// Package mavlink implements the minimal MAVLink v2 framing layer the
// router needs: a wire-frame wrapper, a CRC-16/MCRF4XX implementation,
// and a byte-stream reader that tokenizes a buffer into complete frames.
// It intentionally does not decode per-message payload semantics — only
// as much of the wire format as routing, CRC validation, and stats
// bookkeeping require.
package mavlink

import "fmt"

const (
	// StartV2 is the MAVLink v2 frame magic byte (STX).
	StartV2 = 0xFD

	// minFrameLen is the smallest legal v2 frame: header(10) + crc(2).
	minFrameLen = 10 + 2
	// maxPayloadLen is the largest payload a v2 frame can carry.
	maxPayloadLen = 255
	// signatureLen is the length of an optional v2 signature block.
	signatureLen = 13
	// incompatFlagSigned marks a signed frame in the incompat-flags byte.
	incompatFlagSigned = 0x01
)

// Frame is an immutable wrapper around one complete, successfully parsed
// (or policy-permitted) MAVLink v2 frame, tagged with the driver instance
// that produced it and the time it was ingested. Frames are shared by
// pointer across every subscriber of the hub; nothing mutates Raw after
// construction.
type Frame struct {
	origin      string
	timestampUs int64
	raw         []byte
}

// NewFrame constructs a Frame. raw must already be a complete, validated
// (or policy-permitted) v2 frame; NewFrame does not re-parse it.
func NewFrame(origin string, timestampUs int64, raw []byte) *Frame {
	return &Frame{origin: origin, timestampUs: timestampUs, raw: raw}
}

// Origin is the stable tag of the driver instance (or, for UDP servers,
// the peer address) that produced this frame.
func (f *Frame) Origin() string { return f.origin }

// TimestampUs is the ingest time in microseconds since the Unix epoch.
func (f *Frame) TimestampUs() int64 { return f.timestampUs }

// Raw returns the complete wire bytes of the frame. Callers must not
// mutate the returned slice.
func (f *Frame) Raw() []byte { return f.raw }

// Len is the number of bytes in the frame's payload (the wire "LEN" field).
func (f *Frame) Len() uint8 { return f.raw[1] }

// IncompatFlags returns the frame's incompatibility flags byte.
func (f *Frame) IncompatFlags() uint8 { return f.raw[2] }

// CompatFlags returns the frame's compatibility flags byte.
func (f *Frame) CompatFlags() uint8 { return f.raw[3] }

// Sequence is the per-sender wrapping packet sequence number.
func (f *Frame) Sequence() uint8 { return f.raw[4] }

// SystemID is the originating MAVLink system id.
func (f *Frame) SystemID() uint8 { return f.raw[5] }

// ComponentID is the originating MAVLink component id.
func (f *Frame) ComponentID() uint8 { return f.raw[6] }

// MessageID is the 24-bit little-endian MAVLink message id.
func (f *Frame) MessageID() uint32 {
	return uint32(f.raw[7]) | uint32(f.raw[8])<<8 | uint32(f.raw[9])<<16
}

// Signed reports whether the frame carries a trailing signature block.
func (f *Frame) Signed() bool { return f.IncompatFlags()&incompatFlagSigned != 0 }

// Payload returns the message payload bytes (without header or CRC).
func (f *Frame) Payload() []byte {
	n := int(f.Len())
	return f.raw[10 : 10+n]
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{origin=%s sys=%d comp=%d msg=%d seq=%d len=%d signed=%t}",
		f.origin, f.SystemID(), f.ComponentID(), f.MessageID(), f.Sequence(), f.Len(), f.Signed())
}

// frameLength returns the total wire length implied by a v2 header whose
// LEN and incompat-flags bytes are already known, without looking at the
// payload itself. It is used both by the reader (to know how many bytes
// to wait for) and by the encoder.
func frameLength(payloadLen uint8, incompatFlags uint8) int {
	n := 10 + int(payloadLen) + 2
	if incompatFlags&incompatFlagSigned != 0 {
		n += signatureLen
	}
	return n
}

// FrameLength exports frameLength for callers outside the package that
// need to size a buffer from a partially-read header (the tlog reader,
// which must know how many more bytes to pull from the file before it
// has a complete record).
func FrameLength(payloadLen uint8, incompatFlags uint8) int {
	return frameLength(payloadLen, incompatFlags)
}
