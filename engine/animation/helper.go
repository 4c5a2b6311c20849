package animation

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// KeyTimesFormat selects the encoding of a track's key times. The ids are
// stored in chunk files as a single byte.
type KeyTimesFormat uint8

const (
	KeyTimesF32 KeyTimesFormat = iota
	KeyTimesUINT16
	KeyTimesByte
	KeyTimesF32StartStop
	KeyTimesUINT16StartStop
	KeyTimesByteStartStop
	KeyTimesBitset
	numKeyTimesFormats
)

var keyTimesFormatNames = [numKeyTimesFormats]string{
	"F32", "UINT16", "Byte", "F32StartStop", "UINT16StartStop", "ByteStartStop", "Bitset",
}

func (f KeyTimesFormat) String() string {
	if f < numKeyTimesFormats {
		return keyTimesFormatNames[f]
	}
	return fmt.Sprintf("KeyTimesFormat(%d)", uint8(f))
}

// IsStartStop reports whether the format only stores the first and last key.
func (f KeyTimesFormat) IsStartStop() bool {
	return f == KeyTimesF32StartStop || f == KeyTimesUINT16StartStop || f == KeyTimesByteStartStop
}

// CompressionFormat selects the encoding of rotation, position and scale values.
type CompressionFormat uint8

const (
	NoCompress            CompressionFormat = 0
	NoCompressQuat        CompressionFormat = 1
	NoCompressVec3        CompressionFormat = 2
	ShotInt3Quat          CompressionFormat = 3
	SmallTree48BitQuat    CompressionFormat = 5
	SmallTree64BitQuat    CompressionFormat = 6
	SmallTree64BitExtQuat CompressionFormat = 8
)

func (f CompressionFormat) String() string {
	switch f {
	case NoCompress:
		return "NoCompress"
	case NoCompressQuat:
		return "NoCompressQuat"
	case NoCompressVec3:
		return "NoCompressVec3"
	case ShotInt3Quat:
		return "ShotInt3Quat"
	case SmallTree48BitQuat:
		return "SmallTree48BitQuat"
	case SmallTree64BitQuat:
		return "SmallTree64BitQuat"
	case SmallTree64BitExtQuat:
		return "SmallTree64BitExtQuat"
	}
	return fmt.Sprintf("CompressionFormat(%d)", uint8(f))
}

// NewKeyTimes creates an empty dynamic key time store for format.
func NewKeyTimes(format KeyTimesFormat) (*KeyTimes, error) {
	if format >= numKeyTimesFormats {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "key times format %d", format)
	}
	return &KeyTimes{format: format}, nil
}

// keyTimeElementSize is the byte width of one stored time value.
func keyTimeElementSize(format KeyTimesFormat) int {
	switch format {
	case KeyTimesF32, KeyTimesF32StartStop:
		return 4
	case KeyTimesUINT16, KeyTimesUINT16StartStop, KeyTimesBitset:
		return 2
	case KeyTimesByte, KeyTimesByteStartStop:
		return 1
	}
	return 0
}

/**
 * @brief Returns the number of bytes numKeys key times occupy in format.
 * The bitset size depends on its header, so raw must hold at least the
 * first two words for that format.
 */
func KeyTimesDataSize(format KeyTimesFormat, numKeys int, raw []byte) (int, error) {
	switch format {
	case KeyTimesF32, KeyTimesUINT16, KeyTimesByte:
		return keyTimeElementSize(format) * numKeys, nil
	case KeyTimesF32StartStop, KeyTimesUINT16StartStop, KeyTimesByteStartStop:
		return keyTimeElementSize(format) * 2, nil
	case KeyTimesBitset:
		if len(raw) < 6 {
			return 0, errors.Wrap(ErrShortBuffer, "bitset key times header")
		}
		start := binary.LittleEndian.Uint16(raw[0:])
		stop := binary.LittleEndian.Uint16(raw[2:])
		if stop < start {
			return 0, errors.Wrapf(ErrCorruptChunk, "bitset key times stop %d before start %d", stop, start)
		}
		return bitsetWords(start, stop)*2 + bitsetHeaderBytes, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "key times format %d", format)
}

// NewRotationStorage creates an empty rotation track storage for format.
func NewRotationStorage(format CompressionFormat) (*RotationStorage, error) {
	if _, err := RotationKeySize(format); err != nil {
		return nil, err
	}
	return &RotationStorage{format: format}, nil
}

// NewPositionStorage creates an empty position or scale track storage for format.
func NewPositionStorage(format CompressionFormat) (*PositionStorage, error) {
	if _, err := PositionKeySize(format); err != nil {
		return nil, err
	}
	return &PositionStorage{format: format}, nil
}

// RotationKeySize returns the encoded size of one rotation key.
func RotationKeySize(format CompressionFormat) (int, error) {
	switch format {
	case NoCompress, NoCompressQuat:
		return 16, nil
	case NoCompressVec3:
		return 12, nil
	case ShotInt3Quat, SmallTree48BitQuat:
		return 6, nil
	case SmallTree64BitQuat, SmallTree64BitExtQuat:
		return 8, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "rotation format %d", format)
}

// PositionKeySize returns the encoded size of one position or scale key.
func PositionKeySize(format CompressionFormat) (int, error) {
	switch format {
	case NoCompress, NoCompressVec3:
		return 12, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "position format %d", format)
}

// FormatName returns a readable name for a track description, used by the inspector.
func FormatName(values CompressionFormat, times KeyTimesFormat) string {
	return values.String() + "/" + times.String()
}
