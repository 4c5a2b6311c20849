package animation

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/anima-caf/engine/math"
)

// The three components kept by the small tree encodings lie in
// [-1/sqrt(2), 1/sqrt(2)] once the largest one is dropped.
const smallTreeRange = math.K_SQRT_ONE_OVER_TWO

type smallTreeLayout struct {
	bits  [3]uint
	shift [3]uint
	// position of the 2-bit dropped component index
	indexShift uint
}

var (
	layout48 = smallTreeLayout{
		bits:       [3]uint{15, 15, 15},
		shift:      [3]uint{0, 15, 30},
		indexShift: 45,
	}
	layout64 = smallTreeLayout{
		bits:       [3]uint{20, 20, 20},
		shift:      [3]uint{0, 20, 40},
		indexShift: 60,
	}
	layout64Ext = smallTreeLayout{
		bits:       [3]uint{21, 21, 20},
		shift:      [3]uint{0, 21, 42},
		indexShift: 62,
	}
)

func quatComponents(q math.Quaternion) [4]float32 {
	return [4]float32{q.X, q.Y, q.Z, q.W}
}

func quantize(c float32, bits uint) uint64 {
	maxValue := float64(uint64(1)<<bits - 1)
	v := m.Round((float64(c) + float64(smallTreeRange)) / (2 * float64(smallTreeRange)) * maxValue)
	if v < 0 {
		v = 0
	} else if v > maxValue {
		v = maxValue
	}
	return uint64(v)
}

func dequantize(v uint64, bits uint) float32 {
	maxValue := float32(uint64(1)<<bits - 1)
	return float32(v)/maxValue*2*smallTreeRange - smallTreeRange
}

func (l smallTreeLayout) encode(q math.Quaternion) uint64 {
	q = q.Normalize()
	c := quatComponents(q)

	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(c[i]) > math.Abs(c[largest]) {
			largest = i
		}
	}
	if c[largest] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}

	packed := uint64(largest) << l.indexShift
	slot := 0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		packed |= quantize(c[i], l.bits[slot]) << l.shift[slot]
		slot++
	}
	return packed
}

func (l smallTreeLayout) decode(packed uint64) math.Quaternion {
	largest := int(packed>>l.indexShift) & 3

	var c [4]float32
	sum := float32(0)
	slot := 0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		mask := uint64(1)<<l.bits[slot] - 1
		c[i] = dequantize((packed>>l.shift[slot])&mask, l.bits[slot])
		sum += c[i] * c[i]
		slot++
	}
	c[largest] = math.Sqrt(max(0, 1-sum))
	return math.Quaternion{X: c[0], Y: c[1], Z: c[2], W: c[3]}
}

func put48(dst []byte, packed uint64) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(packed))
	binary.LittleEndian.PutUint16(dst[4:], uint16(packed>>32))
}

func get48(src []byte) uint64 {
	return uint64(binary.LittleEndian.Uint32(src[0:])) | uint64(binary.LittleEndian.Uint16(src[4:]))<<32
}

// shotInt3 stores x, y and z as signed 16 bit fractions with w >= 0.
func encodeShotInt3(dst []byte, q math.Quaternion) {
	q = q.Normalize()
	if q.W < 0 {
		q = q.Neg()
	}
	for i, c := range [3]float32{q.X, q.Y, q.Z} {
		v := m.Round(float64(c) * m.MaxInt16)
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(v)))
	}
}

func decodeShotInt3(src []byte) math.Quaternion {
	x := float32(int16(binary.LittleEndian.Uint16(src[0:]))) / m.MaxInt16
	y := float32(int16(binary.LittleEndian.Uint16(src[2:]))) / m.MaxInt16
	z := float32(int16(binary.LittleEndian.Uint16(src[4:]))) / m.MaxInt16
	return math.Quaternion{X: x, Y: y, Z: z, W: math.Sqrt(max(0, 1-x*x-y*y-z*z))}
}
