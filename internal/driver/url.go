package driver

import (
	"fmt"
	"net/url"

	"github.com/ampio/mavlink-router/internal/hub"
)

// FromURL dispatches a driver endpoint URL to the matching concrete
// driver constructor by scheme.
func FromURL(raw string) (hub.Driver, hub.Kind, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("driver: parse url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "serial":
		d, err := NewSerialFromURL(u)
		if err != nil {
			return nil, hub.KindSerial, err
		}
		return d, hub.KindSerial, nil
	case "tcpserver":
		d, err := NewTCPServerFromURL(u)
		if err != nil {
			return nil, hub.KindTcpServer, err
		}
		return d, hub.KindTcpServer, nil
	case "tcpclient":
		d, err := NewTCPClientFromURL(u)
		if err != nil {
			return nil, hub.KindTcpClient, err
		}
		return d, hub.KindTcpClient, nil
	case "udpserver":
		d, err := NewUDPServerFromURL(u)
		if err != nil {
			return nil, hub.KindUdpServer, err
		}
		return d, hub.KindUdpServer, nil
	case "udpclient":
		d, err := NewUDPClientFromURL(u)
		if err != nil {
			return nil, hub.KindUdpClient, err
		}
		return d, hub.KindUdpClient, nil
	case "tlogwriter", "tlogw":
		d, err := NewTlogWriterFromURL(u)
		if err != nil {
			return nil, hub.KindTlogWriter, err
		}
		return d, hub.KindTlogWriter, nil
	case "tlogreader", "tlogr":
		d, err := NewTlogReaderFromURL(u)
		if err != nil {
			return nil, hub.KindTlogReader, err
		}
		return d, hub.KindTlogReader, nil
	case "fakesource", "fakeserver", "fakesrc", "fakes":
		d, err := NewFakeSourceFromURL(u)
		if err != nil {
			return nil, hub.KindFakeSource, err
		}
		return d, hub.KindFakeSource, nil
	case "fakesink", "fakeclient", "fakec":
		d, err := NewFakeSinkFromURL(u)
		if err != nil {
			return nil, hub.KindFakeSink, err
		}
		return d, hub.KindFakeSink, nil
	default:
		return nil, "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
}
