package driver

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ampio/mavlink-router/internal/broadcast"
	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

const tlogWriterBufSize = 1024

// TlogWriter is the tlogwriter:// (alias tlogw) driver: it subscribes
// to the hub and appends every frame it sees to a tlog file as
// 8-byte-big-endian-microsecond-timestamp + raw-frame records.
type TlogWriter struct {
	Path     string
	OnOutput *callbacks.Set

	outAcc hub.Accumulator
}

// NewTlogWriterFromURL builds a TlogWriter driver from a tlogwriter://
// (or tlogw://) URL.
func NewTlogWriterFromURL(u *url.URL) (*TlogWriter, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("tlogwriter: missing file path in %q", u.String())
	}
	return &TlogWriter{Path: path}, nil
}

func (w *TlogWriter) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "tlogwriter",
		ValidSchemes: []string{"tlogwriter", "tlogw"},
		CLIExamples:  []string{"tlogwriter:///tmp/potato.tlog"},
	}
}

func (w *TlogWriter) Stats() hub.AccumulatedDriverStats {
	out := w.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Output: &out}
}

func (w *TlogWriter) ResetStats() { w.outAcc.Reset() }

// Run creates the file (truncating any existing contents) and appends
// every frame seen on the bus until ctx is cancelled or the bus closes.
func (w *TlogWriter) Run(ctx context.Context, sender *hub.Sender) error {
	f, err := os.Create(w.Path)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("tlogwriter: create %s: %w", w.Path, err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, tlogWriterBufSize)

	recv := sender.Subscribe()
	var tsBuf [8]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := recv.Recv(ctx)
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				metrics.IncHubLagged()
				logging.L().Warn("subscriber_lagged", "origin", w.Path, "skipped", lag.N)
				continue
			}
			return err
		}
		if w.OnOutput != nil {
			if cerr := w.OnOutput.CallAll(ctx, frame); cerr != nil {
				metrics.IncCallbackDrop("output")
				continue
			}
		}
		now := time.Now().UnixMicro()
		binary.BigEndian.PutUint64(tsBuf[:], uint64(now))
		if _, err := bw.Write(tsBuf[:]); err != nil {
			metrics.IncError(metrics.ErrTransportWrite)
			return err
		}
		if _, err := bw.Write(frame.Raw()); err != nil {
			metrics.IncError(metrics.ErrTransportWrite)
			return err
		}
		if err := bw.Flush(); err != nil {
			metrics.IncError(metrics.ErrTransportWrite)
			return err
		}
		w.outAcc.Observe(len(frame.Raw()), now-frame.TimestampUs(), now)
	}
}
