// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package dot

// Movella DOT measurement service. The control characteristic accepts
// 3-byte commands {type, action, payload mode}; the medium payload
// characteristic notifies one measurement packet per sample.
const (
	ControlCharacteristicUUID       = "15172001-4947-11e9-8646-d663bd873d93"
	MediumPayloadCharacteristicUUID = "15172003-4947-11e9-8646-d663bd873d93"
)

// NamePrefix is the advertised local name prefix of Movella DOT sensors.
const NamePrefix = "Movella"

// Control commands for the measurement service.
var (
	// CmdStopMeasurement stops any ongoing measurement. Written before
	// selecting a payload mode to clear stale firmware state, and again
	// on session teardown.
	CmdStopMeasurement = []byte{0x01, 0x00, 0x00}

	// CmdExtendedQuaternion starts measurement in Extended Quaternion
	// mode (payload mode 0x02, 40-byte packets).
	CmdExtendedQuaternion = []byte{0x01, 0x01, 0x02}
)
