package animation

import (
	"unsafe"

	"github.com/spaghettifunk/anima-caf/engine/math"
)

// JointState reports which channels a sampling call wrote.
type JointState uint8

const (
	Orientation JointState = 1 << iota
	Position
	Scale
)

func (s JointState) Has(channel JointState) bool {
	return s&channel != 0
}

/**
 * @brief One joint's animated transform for one clip. Times are key times.
 * A channel the controller does not animate leaves its out parameter
 * untouched and its bit unset; callers fall back to the bind pose.
 */
type Controller interface {
	ID() uint32
	GetOPS(t float32, rot *math.Quaternion, pos *math.Vec3, scale *math.Vec3) JointState
	GetOP(t float32, rot *math.Quaternion, pos *math.Vec3) JointState
	GetO(t float32, rot *math.Quaternion) JointState
	GetP(t float32, pos *math.Vec3) JointState
	GetS(t float32, scale *math.Vec3) JointState
	// SizeOfController is the size of the controller object graph.
	SizeOfController() int
	// ApproximateSizeOfThis adds the key data the controller references.
	ApproximateSizeOfThis() int
	RotationKeysNum() int
	PositionKeysNum() int
}

/**
 * @brief Controller of the compressed formats, made of up to three
 * independent tracks.
 */
type CompressedController struct {
	id       uint32
	rotation *TrackInformation[math.Quaternion]
	position *TrackInformation[math.Vec3]
	scale    *TrackInformation[math.Vec3]
}

// NewCompressedController builds a controller; any track may be nil.
func NewCompressedController(id uint32, rotation *TrackInformation[math.Quaternion], position, scale *TrackInformation[math.Vec3]) *CompressedController {
	return &CompressedController{id: id, rotation: rotation, position: position, scale: scale}
}

func (c *CompressedController) ID() uint32 {
	return c.id
}

func (c *CompressedController) GetOPS(t float32, rot *math.Quaternion, pos *math.Vec3, scale *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos) | c.GetS(t, scale)
}

func (c *CompressedController) GetOP(t float32, rot *math.Quaternion, pos *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos)
}

func (c *CompressedController) GetO(t float32, rot *math.Quaternion) JointState {
	if c.rotation == nil {
		return 0
	}
	*rot = c.rotation.GetValue(t)
	return Orientation
}

func (c *CompressedController) GetP(t float32, pos *math.Vec3) JointState {
	if c.position == nil {
		return 0
	}
	*pos = c.position.GetValue(t)
	return Position
}

func (c *CompressedController) GetS(t float32, scale *math.Vec3) JointState {
	if c.scale == nil {
		return 0
	}
	*scale = c.scale.GetValue(t)
	return Scale
}

func (c *CompressedController) SizeOfController() int {
	size := int(unsafe.Sizeof(*c))
	if c.rotation != nil {
		size += int(unsafe.Sizeof(*c.rotation)) + int(unsafe.Sizeof(RotationStorage{}))
	}
	if c.position != nil {
		size += int(unsafe.Sizeof(*c.position)) + int(unsafe.Sizeof(PositionStorage{}))
	}
	if c.scale != nil {
		size += int(unsafe.Sizeof(*c.scale)) + int(unsafe.Sizeof(PositionStorage{}))
	}
	return size
}

func (c *CompressedController) ApproximateSizeOfThis() int {
	size := c.SizeOfController()
	if c.rotation != nil {
		size += c.rotation.RawSize()
	}
	if c.position != nil {
		size += c.position.RawSize()
	}
	if c.scale != nil {
		size += c.scale.RawSize()
	}
	return size
}

func (c *CompressedController) RotationKeysNum() int {
	if c.rotation == nil {
		return 0
	}
	return c.rotation.NumKeys()
}

func (c *CompressedController) PositionKeysNum() int {
	if c.position == nil {
		return 0
	}
	return c.position.NumKeys()
}

func (c *CompressedController) ScaleKeysNum() int {
	if c.scale == nil {
		return 0
	}
	return c.scale.NumKeys()
}

// keyTimeRange reports the first and last key time over all tracks.
func (c *CompressedController) keyTimeRange() (float32, float32, bool) {
	var lo, hi float32
	found := false
	merge := func(a, b float32) {
		if !found || a < lo {
			lo = a
		}
		if !found || b > hi {
			hi = b
		}
		found = true
	}
	if c.rotation != nil && c.rotation.NumKeys() > 0 {
		merge(c.rotation.KeyTimeRange())
	}
	if c.position != nil && c.position.NumKeys() > 0 {
		merge(c.position.KeyTimeRange())
	}
	if c.scale != nil && c.scale.NumKeys() > 0 {
		merge(c.scale.KeyTimeRange())
	}
	return lo, hi, found
}
