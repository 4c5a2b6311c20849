package animation

import (
	"encoding/binary"
	m "math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
	"github.com/spaghettifunk/anima-caf/engine/memory"
)

/**
 * @brief A view on track bytes. Heap backed views keep the handle and
 * resolve it on every access, so they follow the block when the heap
 * compacts.
 */
type dataRef struct {
	heap   *memory.DefragHeap
	handle memory.Handle
	offset uint64
	size   uint64
	owned  []byte
}

func ownedRef(b []byte) dataRef {
	return dataRef{owned: b, size: uint64(len(b))}
}

func heapRef(heap *memory.DefragHeap, handle memory.Handle, offset, size uint64) dataRef {
	return dataRef{heap: heap, handle: handle, offset: offset, size: size}
}

// Bytes returns nil once the backing block has been freed.
func (r dataRef) Bytes() []byte {
	if r.heap == nil {
		return r.owned
	}
	block, err := r.heap.WeakPin(r.handle)
	if err != nil || uint64(len(block)) < r.offset+r.size {
		return nil
	}
	return block[r.offset : r.offset+r.size : r.offset+r.size]
}

func readVec3(src []byte) math.Vec3 {
	return math.Vec3{
		X: m.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		Y: m.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		Z: m.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}

func putVec3(dst []byte, v math.Vec3) {
	binary.LittleEndian.PutUint32(dst[0:], m.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:], m.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:], m.Float32bits(v.Z))
}

// RotationStorage decodes rotation keys on demand. Nothing is cached.
type RotationStorage struct {
	format CompressionFormat
	count  int
	data   dataRef
}

func (s *RotationStorage) Format() CompressionFormat {
	return s.format
}

func (s *RotationStorage) Len() int {
	return s.count
}

func (s *RotationStorage) RawSize() int {
	return int(s.data.size)
}

// AssignData copies count encoded keys from raw.
func (s *RotationStorage) AssignData(raw []byte, count int) error {
	size, _ := RotationKeySize(s.format)
	if len(raw) < size*count {
		return errors.Wrapf(ErrShortBuffer, "%s rotations: have %d bytes for %d keys", s.format, len(raw), count)
	}
	owned := make([]byte, size*count)
	copy(owned, raw)
	s.assign(ownedRef(owned), count)
	return nil
}

func (s *RotationStorage) assign(ref dataRef, count int) {
	s.data = ref
	s.count = count
}

// Value decodes key. Identity is returned when the backing data is gone.
func (s *RotationStorage) Value(key int) math.Quaternion {
	size, _ := RotationKeySize(s.format)
	raw := s.data.Bytes()
	off := key * size
	if key < 0 || off+size > len(raw) {
		return math.NewQuatIdentity()
	}
	src := raw[off : off+size]

	switch s.format {
	case NoCompress, NoCompressQuat:
		return math.Quaternion{
			X: m.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
			Y: m.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
			Z: m.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
			W: m.Float32frombits(binary.LittleEndian.Uint32(src[12:])),
		}
	case NoCompressVec3:
		v := readVec3(src)
		return math.Quaternion{X: v.X, Y: v.Y, Z: v.Z, W: math.Sqrt(max(0, 1-v.LengthSquared()))}
	case ShotInt3Quat:
		return decodeShotInt3(src)
	case SmallTree48BitQuat:
		return layout48.decode(get48(src))
	case SmallTree64BitQuat:
		return layout64.decode(binary.LittleEndian.Uint64(src))
	case SmallTree64BitExtQuat:
		return layout64Ext.decode(binary.LittleEndian.Uint64(src))
	}
	return math.NewQuatIdentity()
}

// EncodeRotations packs rotations in format.
func EncodeRotations(format CompressionFormat, rotations []math.Quaternion) ([]byte, error) {
	size, err := RotationKeySize(format)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size*len(rotations))
	for i, q := range rotations {
		dst := out[i*size : (i+1)*size]
		switch format {
		case NoCompress, NoCompressQuat:
			binary.LittleEndian.PutUint32(dst[0:], m.Float32bits(q.X))
			binary.LittleEndian.PutUint32(dst[4:], m.Float32bits(q.Y))
			binary.LittleEndian.PutUint32(dst[8:], m.Float32bits(q.Z))
			binary.LittleEndian.PutUint32(dst[12:], m.Float32bits(q.W))
		case NoCompressVec3:
			q = q.Normalize()
			if q.W < 0 {
				q = q.Neg()
			}
			putVec3(dst, math.Vec3{X: q.X, Y: q.Y, Z: q.Z})
		case ShotInt3Quat:
			encodeShotInt3(dst, q)
		case SmallTree48BitQuat:
			put48(dst, layout48.encode(q))
		case SmallTree64BitQuat:
			binary.LittleEndian.PutUint64(dst, layout64.encode(q))
		case SmallTree64BitExtQuat:
			binary.LittleEndian.PutUint64(dst, layout64Ext.encode(q))
		}
	}
	return out, nil
}

// PositionStorage decodes position or scale keys on demand.
type PositionStorage struct {
	format CompressionFormat
	count  int
	data   dataRef
}

func (s *PositionStorage) Format() CompressionFormat {
	return s.format
}

func (s *PositionStorage) Len() int {
	return s.count
}

func (s *PositionStorage) RawSize() int {
	return int(s.data.size)
}

// AssignData copies count encoded keys from raw.
func (s *PositionStorage) AssignData(raw []byte, count int) error {
	size, _ := PositionKeySize(s.format)
	if len(raw) < size*count {
		return errors.Wrapf(ErrShortBuffer, "%s positions: have %d bytes for %d keys", s.format, len(raw), count)
	}
	owned := make([]byte, size*count)
	copy(owned, raw)
	s.assign(ownedRef(owned), count)
	return nil
}

func (s *PositionStorage) assign(ref dataRef, count int) {
	s.data = ref
	s.count = count
}

// Value decodes key. The zero vector is returned when the backing data is gone.
func (s *PositionStorage) Value(key int) math.Vec3 {
	raw := s.data.Bytes()
	off := key * 12
	if key < 0 || off+12 > len(raw) {
		return math.Vec3{}
	}
	return readVec3(raw[off:])
}

// EncodePositions packs positions or scales in format.
func EncodePositions(format CompressionFormat, values []math.Vec3) ([]byte, error) {
	size, err := PositionKeySize(format)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size*len(values))
	for i, v := range values {
		putVec3(out[i*size:], v)
	}
	return out, nil
}
