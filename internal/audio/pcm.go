package audio

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 clamps v to [-1,1] and scales negatives by 0x8000 and the rest
// by 0x7FFF, rounding half up.
func FloatToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		v *= 0x8000
	} else {
		v *= 0x7FFF
	}
	return int16(math.Floor(v + 0.5))
}

// Int16ToFloat inverts FloatToInt16 up to one quantization step.
func Int16ToFloat(s int16) float64 {
	if s < 0 {
		return float64(s) / 0x8000
	}
	return float64(s) / 0x7FFF
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
