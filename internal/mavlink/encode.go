package mavlink

// EncodeV2 builds a complete, checksummed MAVLink v2 frame from header
// fields and a message payload. It does not sign the frame. Used by
// locally-originated traffic (the fake source, and the router process's
// own heartbeat sent through Hub.SendFrame) that has no upstream
// transport to read bytes from.
func EncodeV2(seq, systemID, componentID uint8, msgID uint32, payload []byte) []byte {
	total := frameLength(uint8(len(payload)), 0)
	raw := make([]byte, total)
	raw[0] = StartV2
	raw[1] = uint8(len(payload))
	raw[2] = 0 // incompat flags: unsigned
	raw[3] = 0 // compat flags
	raw[4] = seq
	raw[5] = systemID
	raw[6] = componentID
	raw[7] = byte(msgID)
	raw[8] = byte(msgID >> 8)
	raw[9] = byte(msgID >> 16)
	copy(raw[10:], payload)

	crc := checksum(raw)
	raw[total-2] = byte(crc)
	raw[total-1] = byte(crc >> 8)
	return raw
}

// HeartbeatPayload encodes a HEARTBEAT message body (message id 0):
// custom_mode(u32) + type(u8) + autopilot(u8) + base_mode(u8) +
// system_status(u8) + mavlink_version(u8).
func HeartbeatPayload(customMode uint32, mavType, autopilot, baseMode, systemStatus, mavlinkVersion uint8) []byte {
	return []byte{
		byte(customMode), byte(customMode >> 8), byte(customMode >> 16), byte(customMode >> 24),
		mavType, autopilot, baseMode, systemStatus, mavlinkVersion,
	}
}

// HeartbeatMessageID is the well-known MAVLink message id for HEARTBEAT.
const HeartbeatMessageID = 0
