package animation

import (
	"sort"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

// Legacy TCB positions were authored in centimeters.
const tcbPositionScale float32 = 1.0 / 100.0

// TCBKey3 is a Kochanek-Bartels key of a position or scale spline.
type TCBKey3 struct {
	Time       float32
	Value      math.Vec3
	Tension    float32
	Continuity float32
	Bias       float32
	EaseIn     float32
	EaseOut    float32
}

// TCBKeyQ is a rotation key relative to the previous key, as angle and axis.
type TCBKeyQ struct {
	Time       float32
	Axis       math.Vec3
	Angle      float32
	Tension    float32
	Continuity float32
	Bias       float32
	EaseIn     float32
	EaseOut    float32
}

// ease remaps u so the curve slows down near keys with ease values.
func ease(u, from, to float32) float32 {
	s := from + to
	if u <= 0 || u >= 1 || s == 0 {
		return u
	}
	if s > 1 {
		from /= s
		to /= s
	}
	k := 1 / (2 - from - to)
	if u < from {
		return (k / from) * u * u
	}
	if u < 1-to {
		return k * (2*u - from)
	}
	u = 1 - u
	return 1 - (k/to)*u*u
}

func tcbWeights(tension, continuity, bias float32) (float32, float32, float32, float32) {
	t := 1 - tension
	outA := t * (1 - continuity) * (1 + bias) / 2
	outB := t * (1 + continuity) * (1 - bias) / 2
	inA := t * (1 + continuity) * (1 + bias) / 2
	inB := t * (1 - continuity) * (1 - bias) / 2
	return outA, outB, inA, inB
}

func segment(n int, at func(int) float32, t float32) (int, float32) {
	if t <= at(0) {
		return 0, 0
	}
	if t >= at(n-1) {
		return n - 1, 0
	}
	i := sort.Search(n, func(i int) bool { return at(i) > t }) - 1
	t0, t1 := at(i), at(i+1)
	if t1 == t0 {
		return i, 0
	}
	return i, (t - t0) / (t1 - t0)
}

type tcbSpline3 struct {
	keys []TCBKey3
	// outgoing and incoming tangents per key
	out []math.Vec3
	in  []math.Vec3
}

func newTCBSpline3(keys []TCBKey3) *tcbSpline3 {
	n := len(keys)
	s := &tcbSpline3{keys: keys, out: make([]math.Vec3, n), in: make([]math.Vec3, n)}
	if n < 2 {
		return s
	}
	for i := range keys {
		k := keys[i]
		switch i {
		case 0:
			d := keys[1].Value.Sub(k.Value).MulScalar(1 - k.Tension)
			s.out[i], s.in[i] = d, d
		case n - 1:
			d := k.Value.Sub(keys[i-1].Value).MulScalar(1 - k.Tension)
			s.out[i], s.in[i] = d, d
		default:
			a := k.Value.Sub(keys[i-1].Value)
			b := keys[i+1].Value.Sub(k.Value)
			dt0 := k.Time - keys[i-1].Time
			dt1 := keys[i+1].Time - k.Time
			adjIn, adjOut := float32(1), float32(1)
			if dt0+dt1 > 0 {
				adjIn = 2 * dt0 / (dt0 + dt1)
				adjOut = 2 * dt1 / (dt0 + dt1)
			}
			outA, outB, inA, inB := tcbWeights(k.Tension, k.Continuity, k.Bias)
			s.out[i] = a.MulScalar(outA).Add(b.MulScalar(outB)).MulScalar(adjOut)
			s.in[i] = a.MulScalar(inA).Add(b.MulScalar(inB)).MulScalar(adjIn)
		}
	}
	return s
}

func (s *tcbSpline3) value(t float32) math.Vec3 {
	n := len(s.keys)
	i, u := segment(n, func(i int) float32 { return s.keys[i].Time }, t)
	if u == 0 || i >= n-1 {
		return s.keys[i].Value
	}
	u = ease(u, s.keys[i].EaseOut, s.keys[i+1].EaseIn)
	u2 := u * u
	u3 := u2 * u
	h00 := 2*u3 - 3*u2 + 1
	h01 := -2*u3 + 3*u2
	h10 := u3 - 2*u2 + u
	h11 := u3 - u2
	return s.keys[i].Value.MulScalar(h00).
		Add(s.keys[i+1].Value.MulScalar(h01)).
		Add(s.out[i].MulScalar(h10)).
		Add(s.in[i+1].MulScalar(h11))
}

type tcbSplineQ struct {
	keys []TCBKeyQ
	// absolute rotation per key and the squad control points around it
	q []math.Quaternion
	a []math.Quaternion
	b []math.Quaternion
}

func newTCBSplineQ(keys []TCBKeyQ) *tcbSplineQ {
	n := len(keys)
	s := &tcbSplineQ{
		keys: keys,
		q:    make([]math.Quaternion, n),
		a:    make([]math.Quaternion, n),
		b:    make([]math.Quaternion, n),
	}
	acc := math.NewQuatIdentity()
	for i, k := range keys {
		rel := math.NewQuatIdentity()
		if axis := k.Axis.Normalize(); axis.LengthSquared() > 0 {
			rel = math.NewQuatFromAxisAngle(axis, k.Angle, true)
		}
		next := acc.Mul(rel).Normalize()
		if i > 0 && next.Dot(s.q[i-1]) < 0 {
			next = next.Neg()
		}
		s.q[i] = next
		acc = next
	}
	for i := range keys {
		s.a[i], s.b[i] = s.q[i], s.q[i]
		if i == 0 || i == n-1 {
			continue
		}
		k := keys[i]
		inv := s.q[i].Conjugate()
		lPrev := inv.Mul(s.q[i-1]).Log()
		lNext := inv.Mul(s.q[i+1]).Log()
		outA, outB, inA, inB := tcbWeights(k.Tension, k.Continuity, k.Bias)
		tOut := lPrev.MulScalar(-outA).Add(lNext.MulScalar(outB))
		tIn := lPrev.MulScalar(-inA).Add(lNext.MulScalar(inB))
		s.a[i] = s.q[i].Mul(math.QuatExp(tOut.Sub(lNext).MulScalar(0.5)))
		s.b[i] = s.q[i].Mul(math.QuatExp(tIn.Add(lPrev).MulScalar(-0.5)))
	}
	return s
}

func (s *tcbSplineQ) value(t float32) math.Quaternion {
	n := len(s.keys)
	i, u := segment(n, func(i int) float32 { return s.keys[i].Time }, t)
	if u == 0 || i >= n-1 {
		return s.q[i]
	}
	u = ease(u, s.keys[i].EaseOut, s.keys[i+1].EaseIn)
	p := s.q[i].Slerp(s.q[i+1], u)
	c := s.a[i].Slerp(s.b[i+1], u)
	return p.Slerp(c, 2*u*(1-u))
}

/**
 * @brief Legacy controller evaluating TCB splines. Positions are converted
 * from centimeters to meters on sampling.
 */
type ControllerTCB struct {
	id            uint32
	ticksPerFrame float32
	pos           *tcbSpline3
	rot           *tcbSplineQ
	scale         *tcbSpline3
}

// NewControllerTCB builds the splines. Empty key lists disable a channel.
func NewControllerTCB(id uint32, pos []TCBKey3, rot []TCBKeyQ, scale []TCBKey3, ticksPerFrame float32) (*ControllerTCB, error) {
	if ticksPerFrame <= 0 {
		ticksPerFrame = 1
	}
	c := &ControllerTCB{id: id, ticksPerFrame: ticksPerFrame}
	sorted := func(n int, at func(int) float32) bool {
		for i := 1; i < n; i++ {
			if at(i) < at(i-1) {
				return false
			}
		}
		return true
	}
	if len(pos) > 0 {
		if !sorted(len(pos), func(i int) float32 { return pos[i].Time }) {
			return nil, errors.Wrapf(ErrUnsortedKeyTimes, "tcb controller %#08x positions", id)
		}
		c.pos = newTCBSpline3(pos)
	}
	if len(rot) > 0 {
		if !sorted(len(rot), func(i int) float32 { return rot[i].Time }) {
			return nil, errors.Wrapf(ErrUnsortedKeyTimes, "tcb controller %#08x rotations", id)
		}
		c.rot = newTCBSplineQ(rot)
	}
	if len(scale) > 0 {
		if !sorted(len(scale), func(i int) float32 { return scale[i].Time }) {
			return nil, errors.Wrapf(ErrUnsortedKeyTimes, "tcb controller %#08x scales", id)
		}
		c.scale = newTCBSpline3(scale)
	}
	return c, nil
}

func (c *ControllerTCB) ID() uint32 {
	return c.id
}

func (c *ControllerTCB) GetOPS(t float32, rot *math.Quaternion, pos *math.Vec3, scale *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos) | c.GetS(t, scale)
}

func (c *ControllerTCB) GetOP(t float32, rot *math.Quaternion, pos *math.Vec3) JointState {
	return c.GetO(t, rot) | c.GetP(t, pos)
}

func (c *ControllerTCB) GetO(t float32, rot *math.Quaternion) JointState {
	if c.rot == nil {
		return 0
	}
	*rot = c.rot.value(t * c.ticksPerFrame)
	return Orientation
}

func (c *ControllerTCB) GetP(t float32, pos *math.Vec3) JointState {
	if c.pos == nil {
		return 0
	}
	*pos = c.pos.value(t * c.ticksPerFrame).MulScalar(tcbPositionScale)
	return Position
}

func (c *ControllerTCB) GetS(t float32, scale *math.Vec3) JointState {
	if c.scale == nil {
		return 0
	}
	*scale = c.scale.value(t * c.ticksPerFrame)
	return Scale
}

func (c *ControllerTCB) SizeOfController() int {
	return int(unsafe.Sizeof(*c))
}

func (c *ControllerTCB) ApproximateSizeOfThis() int {
	size := c.SizeOfController()
	vec := int(unsafe.Sizeof(math.Vec3{}))
	quat := int(unsafe.Sizeof(math.Quaternion{}))
	if c.pos != nil {
		size += len(c.pos.keys) * (int(unsafe.Sizeof(TCBKey3{})) + 2*vec)
	}
	if c.rot != nil {
		size += len(c.rot.keys) * (int(unsafe.Sizeof(TCBKeyQ{})) + 3*quat)
	}
	if c.scale != nil {
		size += len(c.scale.keys) * (int(unsafe.Sizeof(TCBKey3{})) + 2*vec)
	}
	return size
}

func (c *ControllerTCB) RotationKeysNum() int {
	if c.rot == nil {
		return 0
	}
	return len(c.rot.keys)
}

func (c *ControllerTCB) PositionKeysNum() int {
	if c.pos == nil {
		return 0
	}
	return len(c.pos.keys)
}

func (c *ControllerTCB) keyTimeRange() (float32, float32, bool) {
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
	if c.pos != nil {
		merge(c.pos.keys[0].Time, c.pos.keys[len(c.pos.keys)-1].Time)
	}
	if c.rot != nil {
		merge(c.rot.keys[0].Time, c.rot.keys[len(c.rot.keys)-1].Time)
	}
	if c.scale != nil {
		merge(c.scale.keys[0].Time, c.scale.keys[len(c.scale.keys)-1].Time)
	}
	return lo / c.ticksPerFrame, hi / c.ticksPerFrame, found
}
