package mavlink

import (
	"bytes"

	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// FrameReader tokenizes a byte stream accumulated from one transport
// into complete MAVLink v2 frames, resyncing on the STX magic after
// garbage and preserving a trailing partial frame for the next call.
type FrameReader struct {
	origin                 string
	discardInvalidChecksum bool
}

// NewFrameReader creates a reader for one driver instance's input
// stream. discardInvalidChecksum selects the CRC policy: true drops
// frames whose CRC does not validate; false still delivers them,
// byte-identical to the input.
func NewFrameReader(origin string, discardInvalidChecksum bool) *FrameReader {
	return &FrameReader{origin: origin, discardInvalidChecksum: discardInvalidChecksum}
}

// ReadAll extracts every complete frame currently available in buf,
// invoking onFrame for each in arrival order, and leaves any trailing
// partial frame in buf untouched. nowUs is the ingest timestamp stamped
// onto every Frame produced from this call.
//
// A non-nil error from onFrame does not stop the scan; a failing
// callback only drops that one frame.
func (r *FrameReader) ReadAll(buf *bytes.Buffer, nowUs int64, onFrame func(*Frame) error) error {
	for {
		data := buf.Bytes()
		if len(data) < 2 {
			return nil
		}

		i := bytes.IndexByte(data, StartV2)
		if i < 0 {
			// No STX anywhere in the tail: drop all of it, nothing to resync to.
			buf.Reset()
			metrics.IncError(metrics.ErrFrameParse)
			return nil
		}
		if i > 0 {
			buf.Next(i)
			data = buf.Bytes()
			metrics.IncError(metrics.ErrFrameParse)
		}

		if len(data) < 3 {
			// Not enough to know the payload length yet; wait for more.
			return nil
		}
		payloadLen := data[1]
		incompat := data[2]
		total := frameLength(payloadLen, incompat)
		if len(data) < total {
			// Incomplete tail: preserve it for the next call.
			return nil
		}

		frameBytes := make([]byte, total)
		copy(frameBytes, data[:total])
		buf.Next(total)
		r.compactIfIdle(buf)

		crc := uint16(frameBytes[total-2]) | uint16(frameBytes[total-1])<<8
		want := checksum(frameBytes)
		if crc != want {
			if r.discardInvalidChecksum {
				metrics.IncFramesDroppedCRC(r.origin)
				logging.L().Debug("frame_crc_drop", "origin", r.origin, "got", crc, "want", want)
				continue
			}
			// Permissive policy: still deliver, byte-identical to input.
		}

		fr := NewFrame(r.origin, nowUs, frameBytes)
		_ = onFrame(fr)
	}
}

// largeBufferReclaimThreshold is the capacity above which a fully
// drained accumulation buffer is discarded and reallocated:
// comfortably larger than a typical burst, small enough to free memory
// after one.
const largeBufferReclaimThreshold = 16 * 1024

// compactIfIdle reclaims a large backing array once the buffer has been
// fully drained, so a burst of traffic doesn't permanently pin a large
// allocation.
func (r *FrameReader) compactIfIdle(buf *bytes.Buffer) {
	if buf.Len() == 0 && buf.Cap() > largeBufferReclaimThreshold {
		*buf = bytes.Buffer{}
	}
}
