package animation

// Byte wide lookup tables used by the bitset key times. Index 0 of the
// low/high tables is never consulted.
var (
	bitCount [256]uint8
	lowBit   [256]uint8
	highBit  [256]uint8
)

func init() {
	for i := 1; i < 256; i++ {
		bitCount[i] = bitCount[i>>1] + uint8(i&1)

		for b := uint8(0); b < 8; b++ {
			if i&(1<<b) != 0 {
				lowBit[i] = b
				break
			}
		}
		for b := int8(7); b >= 0; b-- {
			if i&(1<<uint8(b)) != 0 {
				highBit[i] = uint8(b)
				break
			}
		}
	}
}

func popCount16(w uint16) int {
	return int(bitCount[w&0xff]) + int(bitCount[w>>8])
}

// lowestBit16 returns the position of the lowest set bit of w, or -1.
func lowestBit16(w uint16) int {
	if lo := w & 0xff; lo != 0 {
		return int(lowBit[lo])
	}
	if hi := w >> 8; hi != 0 {
		return int(lowBit[hi]) + 8
	}
	return -1
}

// highestBit16 returns the position of the highest set bit of w, or -1.
func highestBit16(w uint16) int {
	if hi := w >> 8; hi != 0 {
		return int(highBit[hi]) + 8
	}
	if lo := w & 0xff; lo != 0 {
		return int(highBit[lo])
	}
	return -1
}
