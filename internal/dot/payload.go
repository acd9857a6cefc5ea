package dot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ExtendedQuaternionLength is the exact size of an Extended Quaternion
// notification packet.
const ExtendedQuaternionLength = 40

// ErrPayloadLength is returned when a notification buffer is not exactly
// 40 bytes. The packet is dropped; no partial decode is attempted.
var ErrPayloadLength = errors.New("dot: unexpected payload length")

// ParseExtendedQuaternion decodes one Extended Quaternion packet.
//
// Layout (little-endian, fixed offsets):
//
//	[0,4)   uint32  timestamp
//	[4,20)  4×float32 quaternion w, x, y, z
//	[20,32) 3×float32 free acceleration x, y, z
//	[32,34) uint16  status
//	[34]    uint8   accelerometer clipping count
//	[35]    uint8   gyroscope clipping count
//	[36,40) padding
//
// Pure function: deterministic and safe to call from any notification
// context without synchronization.
func ParseExtendedQuaternion(buf []byte) (QuaternionSample, error) {
	if len(buf) != ExtendedQuaternionLength {
		return QuaternionSample{}, fmt.Errorf("%w: got %d bytes, want %d",
			ErrPayloadLength, len(buf), ExtendedQuaternionLength)
	}

	var s QuaternionSample
	s.Timestamp = binary.LittleEndian.Uint32(buf[0:4])
	for i := range s.Quat {
		s.Quat[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	for i := range s.FreeAcc {
		s.FreeAcc[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[20+4*i:]))
	}
	s.Status = binary.LittleEndian.Uint16(buf[32:34])
	s.ClipAcc = buf[34]
	s.ClipGyro = buf[35]
	return s, nil
}

// AppendExtendedQuaternion encodes s into the 40-byte wire layout and
// appends it to dst. Counterpart of ParseExtendedQuaternion, used by
// tests and the mock transport.
func AppendExtendedQuaternion(dst []byte, s QuaternionSample) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, s.Timestamp)
	for _, q := range s.Quat {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(q))
	}
	for _, a := range s.FreeAcc {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(a))
	}
	dst = binary.LittleEndian.AppendUint16(dst, s.Status)
	dst = append(dst, s.ClipAcc, s.ClipGyro)
	dst = append(dst, 0, 0, 0, 0)
	return dst
}
