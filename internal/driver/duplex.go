package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/ampio/mavlink-router/internal/broadcast"
	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// scratchBufSize is the chunk size the receive loop reads transport
// bytes into before handing them to the frame reader.
const scratchBufSize = 1024

// bufFromRaw wraps a freshly encoded frame's bytes for a one-shot pass
// through a FrameReader, so synthetic sources exercise the same parse
// path a real transport's bytes would.
func bufFromRaw(raw []byte) *bytes.Buffer {
	return bytes.NewBuffer(raw)
}

// endpoint is implemented by the concrete stream transports (serial
// port, accepted TCP socket, connected TCP client) so runStreamDuplex
// can race their receive and send halves uniformly.
type endpoint struct {
	reader io.Reader
	writer io.Writer
	closer io.Closer
}

// runStreamDuplex is the common run-loop shape shared by the
// byte-stream transports: it races a receive task (reads bytes, feeds
// the frame reader, publishes) against a send task (subscribes,
// suppresses loopback, writes), returning when either exits. The
// endpoint is closed as soon as the first task exits so the other is
// unblocked from a pending Read or Write.
func runStreamDuplex(ctx context.Context, ep endpoint, sender *hub.Sender, origin string, discardInvalidChecksum bool, onInput, onOutput *callbacks.Set, inAcc, outAcc *hub.Accumulator) error {
	errCh := make(chan error, 2)
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { errCh <- receiveLoop(rctx, ep.reader, sender, origin, discardInvalidChecksum, onInput, inAcc) }()
	go func() { errCh <- sendLoop(rctx, sender, origin, ep.writer, onOutput, outAcc) }()

	err := <-errCh
	cancel()
	if ep.closer != nil {
		_ = ep.closer.Close()
	}
	<-errCh
	return err
}

func receiveLoop(ctx context.Context, r io.Reader, sender *hub.Sender, origin string, discardInvalidChecksum bool, onInput *callbacks.Set, acc *hub.Accumulator) error {
	reader := mavlink.NewFrameReader(origin, discardInvalidChecksum)
	buf := make([]byte, scratchBufSize)
	var rxBuf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			rxBuf.Write(buf[:n])
			nowUs := time.Now().UnixMicro()
			ferr := reader.ReadAll(&rxBuf, nowUs, func(f *mavlink.Frame) error {
				if onInput != nil {
					if cerr := onInput.CallAll(ctx, f); cerr != nil {
						metrics.IncCallbackDrop("input")
						return nil
					}
				}
				sender.Publish(f)
				acc.Observe(len(f.Raw()), 0, nowUs)
				metrics.IncFramesDecoded(origin)
				return nil
			})
			if ferr != nil {
				logging.L().Warn("frame_decode_error", "origin", origin, "error", ferr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrTransportClosed
			}
			metrics.IncError(metrics.ErrTransportRead)
			return err
		}
	}
}

func sendLoop(ctx context.Context, sender *hub.Sender, selfOrigin string, w io.Writer, onOutput *callbacks.Set, acc *hub.Accumulator) error {
	recv := sender.Subscribe()
	for {
		f, err := recv.Recv(ctx)
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				metrics.IncHubLagged()
				logging.L().Warn("subscriber_lagged", "origin", selfOrigin, "skipped", lag.N)
				continue
			}
			if errors.Is(err, broadcast.ErrClosed) {
				metrics.IncError(metrics.ErrChannelClosed)
				return broadcast.ErrClosed
			}
			return err
		}
		if f.Origin() == selfOrigin {
			continue // loopback suppression
		}
		if onOutput != nil {
			if cerr := onOutput.CallAll(ctx, f); cerr != nil {
				metrics.IncCallbackDrop("output")
				continue
			}
		}
		if _, err := w.Write(f.Raw()); err != nil {
			metrics.IncError(metrics.ErrTransportWrite)
			return err
		}
		now := time.Now().UnixMicro()
		acc.Observe(len(f.Raw()), now-f.TimestampUs(), now)
	}
}
