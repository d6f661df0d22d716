package driver

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// TlogReader is the tlogreader:// (alias tlogr) driver: a one-shot
// driver that replays a tlog file onto the hub, optionally pacing
// playback by the gap between consecutive stored timestamps, and
// returns at EOF (the hub does not restart it).
type TlogReader struct {
	Path     string
	Realtime bool
	OnInput  *callbacks.Set

	inAcc hub.Accumulator
}

// NewTlogReaderFromURL builds a TlogReader driver from a tlogreader://
// (or tlogr://) URL. ?realtime=true enables inter-frame pacing.
func NewTlogReaderFromURL(u *url.URL) (*TlogReader, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("tlogreader: missing file path in %q", u.String())
	}
	realtime := u.Query().Get("realtime") == "true"
	return &TlogReader{Path: path, Realtime: realtime}, nil
}

func (r *TlogReader) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "tlogreader",
		ValidSchemes: []string{"tlogreader", "tlogr"},
		CLIExamples:  []string{"tlogreader:///tmp/potato.tlog"},
	}
}

func (r *TlogReader) Stats() hub.AccumulatedDriverStats {
	in := r.inAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in}
}

func (r *TlogReader) ResetStats() { r.inAcc.Reset() }

// Run replays the file's records onto the hub and returns at EOF.
func (r *TlogReader) Run(ctx context.Context, sender *hub.Sender) error {
	f, err := os.Open(r.Path)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("tlogreader: open %s: %w", r.Path, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var prevTsUs int64
	first := true
	var tsBuf [8]byte
	var hdrBuf [3]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := io.ReadFull(br, tsBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			metrics.IncError(metrics.ErrTransportRead)
			return err
		}
		tsUs := int64(binary.BigEndian.Uint64(tsBuf[:]))

		if _, err := io.ReadFull(br, hdrBuf[:]); err != nil {
			metrics.IncError(metrics.ErrTransportRead)
			return fmt.Errorf("tlogreader: truncated record: %w", err)
		}
		total := mavlink.FrameLength(hdrBuf[1], hdrBuf[2])
		raw := make([]byte, total)
		copy(raw, hdrBuf[:])
		if _, err := io.ReadFull(br, raw[3:]); err != nil {
			metrics.IncError(metrics.ErrTransportRead)
			return fmt.Errorf("tlogreader: truncated record: %w", err)
		}

		if r.Realtime && !first {
			if gap := time.Duration(tsUs-prevTsUs) * time.Microsecond; gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		first = false
		prevTsUs = tsUs

		frame := mavlink.NewFrame(r.Path, tsUs, raw)
		if r.OnInput != nil {
			if cerr := r.OnInput.CallAll(ctx, frame); cerr != nil {
				metrics.IncCallbackDrop("input")
				continue
			}
		}
		sender.Publish(frame)
		r.inAcc.Observe(len(raw), 0, tsUs)
	}
}
