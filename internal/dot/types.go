package dot

import "math"

// QuaternionSample is one decoded Extended Quaternion notification.
// Values are reported by the sensor's onboard fusion; FreeAcc has
// gravity compensated out.
type QuaternionSample struct {
	Timestamp uint32     `json:"timestamp"`         // device clock, microseconds
	Quat      [4]float32 `json:"quaternion"`        // w, x, y, z
	FreeAcc   [3]float32 `json:"free_acceleration"` // x, y, z in m/s²

	Status   uint16 `json:"status,omitempty"`
	ClipAcc  uint8  `json:"clip_acc,omitempty"`
	ClipGyro uint8  `json:"clip_gyro,omitempty"`
}

// Norm returns w²+x²+y²+z² of the orientation quaternion.
func (s QuaternionSample) Norm() float64 {
	var n float64
	for _, q := range s.Quat {
		n += float64(q) * float64(q)
	}
	return n
}

// IsNormalized reports whether the quaternion is unit-norm within the
// given tolerance. The firmware occasionally emits slightly off-norm
// quaternions right after mode changes.
func (s QuaternionSample) IsNormalized(tolerance float64) bool {
	return math.Abs(s.Norm()-1.0) <= tolerance
}
