package animation

import (
	"sort"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

/**
 * @brief Legacy controller storing logarithmic rotations, positions and
 * optional scales in parallel arrays keyed by integer tick times.
 */
type ControllerPQLog struct {
	id            uint32
	ticksPerFrame float32
	times         []int32
	rotLog        []math.Vec3
	pos           []math.Vec3
	scale         []math.Vec3
}

// NewControllerPQLog validates the arrays; scale may be nil.
func NewControllerPQLog(id uint32, times []int32, rotLog, pos, scale []math.Vec3, ticksPerFrame float32) (*ControllerPQLog, error) {
	if len(rotLog) != len(times) || len(pos) != len(times) || (scale != nil && len(scale) != len(times)) {
		return nil, errors.Wrapf(ErrKeyCountMismatch, "pqlog controller %#08x", id)
	}
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return nil, errors.Wrapf(ErrUnsortedKeyTimes, "pqlog controller %#08x key %d", id, i)
		}
	}
	if ticksPerFrame <= 0 {
		ticksPerFrame = 1
	}
	return &ControllerPQLog{
		id:            id,
		ticksPerFrame: ticksPerFrame,
		times:         times,
		rotLog:        rotLog,
		pos:           pos,
		scale:         scale,
	}, nil
}

/**
 * @brief Resolves the double cover of logarithmic rotations. When next lies
 * more than half pi away from prev it is replaced by the equivalent log
 * vector, next scaled by 1 +/- pi/|next|, closest to prev. Both describe
 * the same rotation, so the result can be blended linearly with prev.
 */
func AdjustLogRotations(prev, next math.Vec3) math.Vec3 {
	if next.Sub(prev).Length() <= math.K_HALF_PI {
		return next
	}
	for i := 0; i < 4; i++ {
		length := next.Length()
		if length < math.K_FLOAT_EPSILON {
			return next
		}
		shift := math.K_PI / length
		best := next
		bestDist := next.Sub(prev).LengthSquared()
		for _, candidate := range [2]math.Vec3{next.MulScalar(1 + shift), next.MulScalar(1 - shift)} {
			if d := candidate.Sub(prev).LengthSquared(); d < bestDist {
				best, bestDist = candidate, d
			}
		}
		if best == next {
			break
		}
		next = best
	}
	return next
}

// locate returns the bracketing keys for key time t.
func (c *ControllerPQLog) locate(t float32) (int, int, float32) {
	n := len(c.times)
	tick := t * c.ticksPerFrame
	if tick <= float32(c.times[0]) {
		return 0, 0, 0
	}
	if tick >= float32(c.times[n-1]) {
		return n - 1, n - 1, 0
	}
	i := sort.Search(n, func(i int) bool { return float32(c.times[i]) > tick })
	t0, t1 := float32(c.times[i-1]), float32(c.times[i])
	return i - 1, i, (tick - t0) / (t1 - t0)
}

func (c *ControllerPQLog) ID() uint32 {
	return c.id
}

func (c *ControllerPQLog) GetOPS(t float32, rot *math.Quaternion, pos *math.Vec3, scale *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos) | c.GetS(t, scale)
}

func (c *ControllerPQLog) GetOP(t float32, rot *math.Quaternion, pos *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos)
}

func (c *ControllerPQLog) GetO(t float32, rot *math.Quaternion) JointState {
	if len(c.times) == 0 {
		return 0
	}
	i0, i1, frac := c.locate(t)
	p0 := c.rotLog[i0]
	if i0 == i1 {
		*rot = math.QuatExp(p0)
		return Orientation
	}
	p1 := AdjustLogRotations(p0, c.rotLog[i1])
	*rot = math.QuatExp(math.Vec3Lerp(p0, p1, frac))
	return Orientation
}

func (c *ControllerPQLog) GetP(t float32, pos *math.Vec3) JointState {
	if len(c.times) == 0 {
		return 0
	}
	i0, i1, frac := c.locate(t)
	*pos = math.Vec3Lerp(c.pos[i0], c.pos[i1], frac)
	return Position
}

func (c *ControllerPQLog) GetS(t float32, scale *math.Vec3) JointState {
	if len(c.times) == 0 || c.scale == nil {
		return 0
	}
	i0, i1, frac := c.locate(t)
	*scale = math.Vec3Lerp(c.scale[i0], c.scale[i1], frac)
	return Scale
}

func (c *ControllerPQLog) SizeOfController() int {
	return int(unsafe.Sizeof(*c))
}

func (c *ControllerPQLog) ApproximateSizeOfThis() int {
	vec := int(unsafe.Sizeof(math.Vec3{}))
	return c.SizeOfController() + 4*len(c.times) + vec*(len(c.rotLog)+len(c.pos)+len(c.scale))
}

func (c *ControllerPQLog) RotationKeysNum() int {
	return len(c.rotLog)
}

func (c *ControllerPQLog) PositionKeysNum() int {
	return len(c.pos)
}

func (c *ControllerPQLog) keyTimeRange() (float32, float32, bool) {
	if len(c.times) == 0 {
		return 0, 0, false
	}
	return float32(c.times[0]) / c.ticksPerFrame, float32(c.times[len(c.times)-1]) / c.ticksPerFrame, true
}
