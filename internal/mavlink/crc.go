package mavlink

// CRC-16/MCRF4XX ("X.25") as used by the MAVLink wire format. The CRC
// covers the header fields (excluding STX) and the payload, then is
// "accumulated" one final time with the message's CRC_EXTRA byte — a
// per-message constant derived from the dialect's field layout that
// guards against decoding a payload against the wrong message
// definition.

func crcInit() uint16 { return 0xFFFF }

func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func crcAccumulateBytes(data []byte, crc uint16) uint16 {
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}

// crcExtraTable holds the CRC_EXTRA byte, by message id, for the
// frequently seen messages of the common dialect. It is not a full
// dialect — the router never decodes payload fields — just the
// published constants needed to CRC-validate the traffic a typical
// flight stack produces.
var crcExtraTable = map[uint32]byte{
	0:   50,  // HEARTBEAT
	1:   124, // SYS_STATUS
	2:   137, // SYSTEM_TIME
	4:   237, // PING
	20:  214, // PARAM_REQUEST_READ
	21:  159, // PARAM_REQUEST_LIST
	22:  220, // PARAM_VALUE
	23:  168, // PARAM_SET
	24:  24,  // GPS_RAW_INT
	27:  144, // RAW_IMU
	29:  115, // SCALED_PRESSURE
	30:  39,  // ATTITUDE
	31:  246, // ATTITUDE_QUATERNION
	32:  185, // LOCAL_POSITION_NED
	33:  104, // GLOBAL_POSITION_INT
	35:  244, // RC_CHANNELS_RAW
	36:  222, // SERVO_OUTPUT_RAW
	39:  254, // MISSION_ITEM
	42:  28,  // MISSION_CURRENT
	62:  183, // NAV_CONTROLLER_OUTPUT
	65:  118, // RC_CHANNELS
	66:  148, // REQUEST_DATA_STREAM
	70:  124, // RC_CHANNELS_OVERRIDE
	73:  38,  // MISSION_ITEM_INT
	74:  20,  // VFR_HUD
	76:  152, // COMMAND_LONG
	77:  143, // COMMAND_ACK
	87:  150, // POSITION_TARGET_GLOBAL_INT
	105: 93,  // HIGHRES_IMU
	111: 34,  // TIMESYNC
	141: 47,  // ALTITUDE
	147: 154, // BATTERY_STATUS
	148: 178, // AUTOPILOT_VERSION
	230: 163, // ESTIMATOR_STATUS
	241: 90,  // VIBRATION
	242: 104, // HOME_POSITION
	245: 130, // EXTENDED_SYS_STATE
	253: 83,  // STATUSTEXT
}

// crcExtraFor returns the CRC_EXTRA byte for a message id and whether it
// is known. Unknown ids fall back to 0 so the frame still goes through
// the normal CRC-policy codepath instead of requiring special-casing —
// it will simply (almost always) fail the CRC check, exactly like a
// frame corrupted in transit, and the discardInvalidChecksum policy
// applies uniformly.
func crcExtraFor(msgID uint32) (byte, bool) {
	extra, ok := crcExtraTable[msgID]
	return extra, ok
}

// checksum computes the CRC-16/MCRF4XX over a v2 frame's header (bytes
// after STX) plus payload, keyed with the message's CRC_EXTRA.
func checksum(raw []byte) uint16 {
	payloadLen := int(raw[1])
	crc := crcInit()
	crc = crcAccumulateBytes(raw[1:10+payloadLen], crc)
	extra, _ := crcExtraFor(uint32(raw[7])|uint32(raw[8])<<8|uint32(raw[9])<<16)
	crc = crcAccumulate(extra, crc)
	return crc
}
