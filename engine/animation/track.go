package animation

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

// Interpolator blends two adjacent key values.
type Interpolator[T any] func(a, b T, t float32) T

// Vec3Lerp blends positions and scales linearly.
func Vec3Lerp(a, b math.Vec3, t float32) math.Vec3 {
	return math.Vec3Lerp(a, b, t)
}

// QuatLerp blends rotations with a normalized lerp along the shortest arc.
func QuatLerp(a, b math.Quaternion, t float32) math.Quaternion {
	return a.Nlerp(b, t)
}

type trackStorage[T any] interface {
	Value(key int) T
	Len() int
	RawSize() int
}

/**
 * @brief Samples one channel of a joint. The key times may be shared with
 * other tracks; the storage belongs to this track.
 */
type TrackInformation[T any] struct {
	keys    *KeyTimes
	storage trackStorage[T]
	blend   Interpolator[T]
}

func newTrack[T any](keys *KeyTimes, storage trackStorage[T], blend Interpolator[T]) (*TrackInformation[T], error) {
	if keys == nil || storage == nil {
		return nil, errors.New("track needs key times and storage")
	}
	if keys.NumKeys() != storage.Len() {
		return nil, errors.Wrapf(ErrKeyCountMismatch, "%d key times for %d values", keys.NumKeys(), storage.Len())
	}
	return &TrackInformation[T]{keys: keys, storage: storage, blend: blend}, nil
}

// NewRotationTrack pairs key times with rotation storage, blended with QuatLerp.
func NewRotationTrack(keys *KeyTimes, storage *RotationStorage) (*TrackInformation[math.Quaternion], error) {
	return newTrack[math.Quaternion](keys, storage, QuatLerp)
}

// NewPositionTrack pairs key times with position or scale storage, blended with Vec3Lerp.
func NewPositionTrack(keys *KeyTimes, storage *PositionStorage) (*TrackInformation[math.Vec3], error) {
	return newTrack[math.Vec3](keys, storage, Vec3Lerp)
}

/**
 * @brief Samples the track at key time t. Times at or before the first key
 * return key 0 and times at or after the last key return the last key,
 * both decoded without blending.
 */
func (tr *TrackInformation[T]) GetValue(t float32) T {
	key, frac := tr.keys.GetKey(t)
	n := tr.keys.NumKeys()

	if key == 0 {
		return tr.storage.Value(0)
	}
	if key >= n {
		return tr.storage.Value(n - 1)
	}
	return tr.blend(tr.storage.Value(key-1), tr.storage.Value(key), frac)
}

func (tr *TrackInformation[T]) NumKeys() int {
	return tr.keys.NumKeys()
}

func (tr *TrackInformation[T]) KeyTimes() *KeyTimes {
	return tr.keys
}

// KeyTimeRange returns the first and last key time.
func (tr *TrackInformation[T]) KeyTimeRange() (float32, float32) {
	return tr.keys.KeyValueFloat(0), tr.keys.KeyValueFloat(tr.keys.NumKeys() - 1)
}

// RawSize is the size of the track values plus unshared key times.
func (tr *TrackInformation[T]) RawSize() int {
	size := tr.storage.RawSize()
	if !tr.keys.IsConstant() {
		size += tr.keys.RawSize()
	}
	return size
}
