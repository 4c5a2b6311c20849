package animation

import (
	"encoding/binary"
	m "math"
	"sync"

	"github.com/pkg/errors"
)

const bitsetHeaderBytes = 6

func bitsetWords(start, stop uint16) int {
	return int(stop-start)/16 + 1
}

/**
 * @brief Maps key indices to key times for one track and finds the pair of
 * keys bracketing a time. Lookups keep no state, so a store may be sampled
 * from several goroutines at once.
 *
 * Constant stores are shared between tracks and clips with identical timing
 * and refuse AssignKeyTime. Dynamic stores reference their bytes through
 * the controller heap.
 */
type KeyTimes struct {
	format   KeyTimesFormat
	numKeys  int
	constant bool
	// decoded bounds for the start/stop and bitset formats
	start float32
	stop  float32
	data  dataRef
}

func (k *KeyTimes) Format() KeyTimesFormat {
	return k.format
}

func (k *KeyTimes) NumKeys() int {
	return k.numKeys
}

func (k *KeyTimes) IsConstant() bool {
	return k.constant
}

// RawSize returns the number of bytes backing the store.
func (k *KeyTimes) RawSize() int {
	return int(k.data.size)
}

/**
 * @brief Copies raw into a buffer owned by the store. numKeys is the key
 * count the owning track declares.
 */
func (k *KeyTimes) AssignKeyTime(raw []byte, numKeys int) error {
	if k.constant {
		return ErrConstantKeyTimes
	}
	size, err := KeyTimesDataSize(k.format, numKeys, raw)
	if err != nil {
		return err
	}
	if len(raw) < size {
		return errors.Wrapf(ErrShortBuffer, "%s key times: have %d bytes, need %d", k.format, len(raw), size)
	}
	owned := make([]byte, size)
	copy(owned, raw)
	return k.assign(ownedRef(owned), numKeys)
}

func (k *KeyTimes) assign(ref dataRef, numKeys int) error {
	raw := ref.Bytes()
	switch k.format {
	case KeyTimesF32StartStop, KeyTimesUINT16StartStop, KeyTimesByteStartStop:
		if len(raw) < 2*keyTimeElementSize(k.format) {
			return errors.Wrapf(ErrShortBuffer, "%s key times", k.format)
		}
		k.start, k.stop = decodeStartStop(k.format, raw)
		if k.stop < k.start {
			return errors.Wrapf(ErrUnsortedKeyTimes, "%s stop %v before start %v", k.format, k.stop, k.start)
		}
		n := int(k.stop-k.start) + 1
		if numKeys != n {
			return errors.Wrapf(ErrKeyCountMismatch, "%s declares %d keys, range holds %d", k.format, numKeys, n)
		}
	case KeyTimesBitset:
		size, err := KeyTimesDataSize(k.format, numKeys, raw)
		if err != nil {
			return err
		}
		if len(raw) < size {
			return errors.Wrapf(ErrShortBuffer, "bitset key times: have %d bytes, need %d", len(raw), size)
		}
		start := binary.LittleEndian.Uint16(raw[0:])
		stop := binary.LittleEndian.Uint16(raw[2:])
		count := int(binary.LittleEndian.Uint16(raw[4:]))
		if count != numKeys {
			return errors.Wrapf(ErrKeyCountMismatch, "bitset declares %d keys, track has %d", count, numKeys)
		}
		bits := 0
		for w := 0; w < bitsetWords(start, stop); w++ {
			bits += popCount16(binary.LittleEndian.Uint16(raw[bitsetHeaderBytes+2*w:]))
		}
		if bits != count {
			return errors.Wrapf(ErrCorruptChunk, "bitset holds %d set bits for %d keys", bits, count)
		}
		last := int(stop - start)
		first := binary.LittleEndian.Uint16(raw[bitsetHeaderBytes:])
		lastWord := binary.LittleEndian.Uint16(raw[bitsetHeaderBytes+2*(last/16):])
		if first&1 == 0 || lastWord&(1<<(last%16)) == 0 {
			return errors.Wrap(ErrCorruptChunk, "bitset start or stop is not a key")
		}
		k.start, k.stop = float32(start), float32(stop)
	default:
		if len(raw) < keyTimeElementSize(k.format)*numKeys {
			return errors.Wrapf(ErrShortBuffer, "%s key times: have %d bytes for %d keys", k.format, len(raw), numKeys)
		}
		for i := 1; i < numKeys; i++ {
			if keyAt(k.format, raw, i) < keyAt(k.format, raw, i-1) {
				return errors.Wrapf(ErrUnsortedKeyTimes, "%s key %d", k.format, i)
			}
		}
	}
	k.data = ref
	k.numKeys = numKeys
	return nil
}

func decodeStartStop(format KeyTimesFormat, raw []byte) (float32, float32) {
	switch format {
	case KeyTimesF32StartStop:
		return m.Float32frombits(binary.LittleEndian.Uint32(raw[0:])),
			m.Float32frombits(binary.LittleEndian.Uint32(raw[4:]))
	case KeyTimesUINT16StartStop:
		return float32(binary.LittleEndian.Uint16(raw[0:])), float32(binary.LittleEndian.Uint16(raw[2:]))
	default:
		return float32(raw[0]), float32(raw[1])
	}
}

// KeyValueFloat returns the time of key i. Indices are clamped to the valid range.
func (k *KeyTimes) KeyValueFloat(i int) float32 {
	if k.numKeys == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	} else if i >= k.numKeys {
		i = k.numKeys - 1
	}
	switch k.format {
	case KeyTimesF32StartStop, KeyTimesUINT16StartStop, KeyTimesByteStartStop:
		return k.start + float32(i)
	case KeyTimesBitset:
		return k.bitsetKeyValue(k.data.Bytes(), i)
	}
	return keyAt(k.format, k.data.Bytes(), i)
}

func keyAt(format KeyTimesFormat, raw []byte, i int) float32 {
	switch format {
	case KeyTimesF32:
		if len(raw) < 4*i+4 {
			return 0
		}
		return m.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	case KeyTimesUINT16:
		if len(raw) < 2*i+2 {
			return 0
		}
		return float32(binary.LittleEndian.Uint16(raw[2*i:]))
	case KeyTimesByte:
		if len(raw) < i+1 {
			return 0
		}
		return float32(raw[i])
	}
	return 0
}

func (k *KeyTimes) bitsetKeyValue(raw []byte, i int) float32 {
	if len(raw) < bitsetHeaderBytes {
		return 0
	}
	words := bitsetWords(uint16(k.start), uint16(k.stop))
	count := 0
	for w := 0; w < words; w++ {
		word := binary.LittleEndian.Uint16(raw[bitsetHeaderBytes+2*w:])
		if n := popCount16(word); count+n <= i {
			count += n
			continue
		}
		for j := 0; j < 16; j++ {
			if word&(1<<j) == 0 {
				continue
			}
			if count == i {
				return k.start + float32(w*16+j)
			}
			count++
		}
	}
	return k.stop
}

/**
 * @brief Finds the key bracketing t.
 *
 * @return key 0 with fraction 0 when t is at or before the first key,
 * NumKeys() with fraction 0 when t is at or after the last key. Otherwise
 * key lies in [1, NumKeys()-1], KeyValueFloat(key-1) <= t < KeyValueFloat(key)
 * and fraction is the normalized position of t between the two.
 */
func (k *KeyTimes) GetKey(t float32) (int, float32) {
	n := k.numKeys
	if n == 0 {
		return 0, 0
	}
	switch k.format {
	case KeyTimesF32StartStop, KeyTimesUINT16StartStop, KeyTimesByteStartStop:
		if t <= k.start {
			return 0, 0
		}
		if t >= k.stop {
			return n, 0
		}
		rel := t - k.start
		whole := float32(m.Floor(float64(rel)))
		return int(whole) + 1, rel - whole
	case KeyTimesBitset:
		return k.bitsetGetKey(k.data.Bytes(), t)
	}

	raw := k.data.Bytes()
	at := func(i int) float32 { return keyAt(k.format, raw, i) }
	return searchKeys(n, t, at)
}

func searchKeys(n int, t float32, at func(int) float32) (int, float32) {
	if t <= at(0) {
		return 0, 0
	}
	if t >= at(n-1) {
		return n, 0
	}

	// binary search gets close, linear probing settles runs of equal times
	pos := n >> 1
	for step := n >> 2; step > 0; step >>= 1 {
		v := at(pos)
		if t < v {
			pos -= step
		} else if t > v {
			pos += step
		} else {
			break
		}
	}
	if pos < 1 {
		pos = 1
	} else if pos > n-1 {
		pos = n - 1
	}
	for t >= at(pos) {
		pos++
	}
	for t < at(pos-1) {
		pos--
	}

	k0, k1 := at(pos-1), at(pos)
	if k1 == k0 {
		return pos, 0
	}
	return pos, (t - k0) / (k1 - k0)
}

func (k *KeyTimes) bitsetGetKey(raw []byte, t float32) (int, float32) {
	n := k.numKeys
	if t <= k.start {
		return 0, 0
	}
	if t >= k.stop {
		return n, 0
	}
	if len(raw) < bitsetHeaderBytes {
		return 0, 0
	}
	word := func(w int) uint16 {
		return binary.LittleEndian.Uint16(raw[bitsetHeaderBytes+2*w:])
	}

	rel := int(t - k.start)
	w, b := rel/16, rel%16

	// keys at or before t: full words below w plus bits 0..b of word w
	key := 0
	for i := 0; i < w; i++ {
		key += popCount16(word(i))
	}
	below := word(w) & uint16((uint32(1)<<(b+1))-1)
	key += popCount16(below)

	// previous key time is the highest set bit at or below (w, b)
	prev := -1
	for i, bits := w, below; i >= 0; i-- {
		if p := highestBit16(bits); p >= 0 {
			prev = i*16 + p
			break
		}
		if i > 0 {
			bits = word(i - 1)
		}
	}
	// next key time is the lowest set bit above (w, b)
	next := -1
	words := bitsetWords(uint16(k.start), uint16(k.stop))
	above := word(w) &^ uint16((uint32(1)<<(b+1))-1)
	for i, bits := w, above; i < words; i++ {
		if p := lowestBit16(bits); p >= 0 {
			next = i*16 + p
			break
		}
		if i+1 < words {
			bits = word(i + 1)
		}
	}
	if prev < 0 || next < 0 {
		return 0, 0
	}

	t0 := k.start + float32(prev)
	t1 := k.start + float32(next)
	return key, (t - t0) / (t1 - t0)
}

// sharedKey identifies constant start/stop key times with identical timing.
type sharedKey struct {
	format      KeyTimesFormat
	start, stop float32
}

var (
	sharedKeyTimes      = map[sharedKey]*KeyTimes{}
	sharedKeyTimesMutex sync.Mutex
)

/**
 * @brief Returns the process wide constant store for start/stop key times
 * covering the integer times start..stop.
 */
func SharedKeyTimes(format KeyTimesFormat, start, stop float32) (*KeyTimes, error) {
	if !format.IsStartStop() {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s cannot be shared", format)
	}
	if stop < start {
		return nil, errors.Wrapf(ErrUnsortedKeyTimes, "%s stop %v before start %v", format, stop, start)
	}
	key := sharedKey{format: format, start: start, stop: stop}

	sharedKeyTimesMutex.Lock()
	defer sharedKeyTimesMutex.Unlock()
	if kt, ok := sharedKeyTimes[key]; ok {
		return kt, nil
	}
	raw, err := EncodeKeyTimes(format, []float32{start, stop})
	if err != nil {
		return nil, err
	}
	kt := &KeyTimes{format: format}
	if err := kt.assign(ownedRef(raw), int(stop-start)+1); err != nil {
		return nil, err
	}
	kt.constant = true
	sharedKeyTimes[key] = kt
	return kt, nil
}

// SharedKeyTimesCount returns the number of cached constant stores.
func SharedKeyTimesCount() int {
	sharedKeyTimesMutex.Lock()
	defer sharedKeyTimesMutex.Unlock()
	return len(sharedKeyTimes)
}

/**
 * @brief Encodes times in format. Start/stop formats take the first and
 * last entry of a run of consecutive integer times. The bitset format
 * takes integer times of at most 16 bit range.
 */
func EncodeKeyTimes(format KeyTimesFormat, times []float32) ([]byte, error) {
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return nil, ErrUnsortedKeyTimes
		}
	}
	switch format {
	case KeyTimesF32:
		out := make([]byte, 4*len(times))
		for i, t := range times {
			binary.LittleEndian.PutUint32(out[4*i:], m.Float32bits(t))
		}
		return out, nil
	case KeyTimesUINT16:
		out := make([]byte, 2*len(times))
		for i, t := range times {
			if t < 0 || t > m.MaxUint16 || t != float32(int(t)) {
				return nil, errors.Wrapf(ErrUnsupportedFormat, "time %v does not fit UINT16", t)
			}
			binary.LittleEndian.PutUint16(out[2*i:], uint16(t))
		}
		return out, nil
	case KeyTimesByte:
		out := make([]byte, len(times))
		for i, t := range times {
			if t < 0 || t > m.MaxUint8 || t != float32(int(t)) {
				return nil, errors.Wrapf(ErrUnsupportedFormat, "time %v does not fit Byte", t)
			}
			out[i] = uint8(t)
		}
		return out, nil
	case KeyTimesF32StartStop, KeyTimesUINT16StartStop, KeyTimesByteStartStop:
		if len(times) == 0 {
			return nil, errors.Wrap(ErrKeyCountMismatch, "start/stop key times need at least one key")
		}
		start, stop := times[0], times[len(times)-1]
		if len(times) > 2 {
			for i, t := range times {
				if t != start+float32(i) {
					return nil, errors.Wrapf(ErrUnsupportedFormat, "%s needs consecutive integer times", format)
				}
			}
		}
		switch format {
		case KeyTimesF32StartStop:
			out := make([]byte, 8)
			binary.LittleEndian.PutUint32(out[0:], m.Float32bits(start))
			binary.LittleEndian.PutUint32(out[4:], m.Float32bits(stop))
			return out, nil
		case KeyTimesUINT16StartStop:
			return EncodeKeyTimes(KeyTimesUINT16, []float32{start, stop})
		default:
			return EncodeKeyTimes(KeyTimesByte, []float32{start, stop})
		}
	case KeyTimesBitset:
		if len(times) == 0 || len(times) > m.MaxUint16 {
			return nil, errors.Wrap(ErrKeyCountMismatch, "bitset key times need 1..65535 keys")
		}
		start, stop := times[0], times[len(times)-1]
		if start < 0 || stop > m.MaxUint16 {
			return nil, errors.Wrapf(ErrUnsupportedFormat, "bitset range %v..%v", start, stop)
		}
		words := bitsetWords(uint16(start), uint16(stop))
		out := make([]byte, bitsetHeaderBytes+2*words)
		binary.LittleEndian.PutUint16(out[0:], uint16(start))
		binary.LittleEndian.PutUint16(out[2:], uint16(stop))
		binary.LittleEndian.PutUint16(out[4:], uint16(len(times)))
		for i, t := range times {
			if t != float32(int(t)) || (i > 0 && t == times[i-1]) {
				return nil, errors.Wrapf(ErrUnsupportedFormat, "bitset needs distinct integer times, got %v", t)
			}
			rel := int(t - start)
			off := bitsetHeaderBytes + 2*(rel/16)
			w := binary.LittleEndian.Uint16(out[off:])
			binary.LittleEndian.PutUint16(out[off:], w|1<<(rel%16))
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedFormat, "key times format %d", format)
}
