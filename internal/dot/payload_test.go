package dot

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtendedQuaternionKnownVector(t *testing.T) {
	buf := make([]byte, 0, ExtendedQuaternionLength)
	buf = binary.LittleEndian.AppendUint32(buf, 1000)
	for _, f := range []float32{1.0, 0.0, 0.0, 0.0, 0.0, 0.0, 9.81} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	buf = append(buf, make([]byte, 8)...)
	require.Len(t, buf, ExtendedQuaternionLength)

	s, err := ParseExtendedQuaternion(buf)
	require.NoError(t, err)

	assert.Equal(t, uint32(1000), s.Timestamp)
	assert.Equal(t, [4]float32{1, 0, 0, 0}, s.Quat)
	assert.Equal(t, [3]float32{0, 0, 9.81}, s.FreeAcc)
	assert.Equal(t, uint16(0), s.Status)
}

func TestParseExtendedQuaternionDeterministic(t *testing.T) {
	buf := AppendExtendedQuaternion(nil, QuaternionSample{
		Timestamp: 123456,
		Quat:      [4]float32{0.7071, 0, 0.7071, 0},
		FreeAcc:   [3]float32{-0.2, 1.5, 9.7},
		Status:    0x0004,
	})

	first, err := ParseExtendedQuaternion(buf)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := ParseExtendedQuaternion(buf)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestParseExtendedQuaternionLength(t *testing.T) {
	for _, n := range []int{0, 1, 20, 39, 41, 44, 64} {
		s, err := ParseExtendedQuaternion(make([]byte, n))
		assert.ErrorIs(t, err, ErrPayloadLength, "length %d", n)
		assert.Equal(t, QuaternionSample{}, s, "length %d must not partially decode", n)
	}
}

func TestExtendedQuaternionRoundTrip(t *testing.T) {
	samples := []QuaternionSample{
		{},
		{Timestamp: 1, Quat: [4]float32{1, 0, 0, 0}},
		{
			Timestamp: 4294967295,
			Quat:      [4]float32{0.5, -0.5, 0.5, -0.5},
			FreeAcc:   [3]float32{math.MaxFloat32, -math.SmallestNonzeroFloat32, 0},
			Status:    0xffff,
			ClipAcc:   3,
			ClipGyro:  255,
		},
		{
			Timestamp: 987654,
			Quat:      [4]float32{0.9689, 0.0064, -0.2444, -0.0394},
			FreeAcc:   [3]float32{0.01, -0.03, 0.12},
		},
	}

	for _, want := range samples {
		buf := AppendExtendedQuaternion(nil, want)
		require.Len(t, buf, ExtendedQuaternionLength)

		got, err := ParseExtendedQuaternion(buf)
		require.NoError(t, err)
		// Bit-exact round trip, no lossy conversion anywhere.
		assert.Equal(t, want, got)
	}
}

func TestParseExtendedQuaternionStatusAndClipping(t *testing.T) {
	buf := AppendExtendedQuaternion(nil, QuaternionSample{
		Quat:     [4]float32{1, 0, 0, 0},
		Status:   0x0102,
		ClipAcc:  7,
		ClipGyro: 2,
	})

	s, err := ParseExtendedQuaternion(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), s.Status)
	assert.Equal(t, uint8(7), s.ClipAcc)
	assert.Equal(t, uint8(2), s.ClipGyro)
}

func TestQuaternionNorm(t *testing.T) {
	unit := QuaternionSample{Quat: [4]float32{0.5, 0.5, 0.5, 0.5}}
	assert.InDelta(t, 1.0, unit.Norm(), 1e-6)
	assert.True(t, unit.IsNormalized(0.1))

	off := QuaternionSample{Quat: [4]float32{1.2, 0, 0, 0}}
	assert.False(t, off.IsNormalized(0.1))

	zero := QuaternionSample{}
	assert.False(t, zero.IsNormalized(0.1))
}
