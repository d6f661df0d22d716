package main

import (
	"context"
	"sync"
	"time"

	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
)

// heartbeatPeriod is how often the process stamps its own identity
// onto the bus.
const heartbeatPeriod = time.Second

// startHeartbeat periodically publishes a HEARTBEAT from our own
// system/component id directly onto h, bypassing any driver, via
// Hub.SendFrame.
func startHeartbeat(ctx context.Context, h *hub.Hub, systemID, componentID uint8, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		var seq uint8
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				payload := mavlink.HeartbeatPayload(0, 6, 8, 0x80, 4, 3) // MAV_TYPE_GCS, autopilot=invalid
				raw := mavlink.EncodeV2(seq, systemID, componentID, mavlink.HeartbeatMessageID, payload)
				seq++
				h.SendFrame(mavlink.NewFrame("mavlink-router", time.Now().UnixMicro(), raw))
			}
		}
	}()
}
