package animation

import (
	"hash/crc32"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

// JointCRC32 hashes a joint name the way controller ids are generated.
// Joint names are case sensitive.
func JointCRC32(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// Joint is one bone of a skeleton with its bind pose.
type Joint struct {
	Name        string
	CRC32       uint32
	Parent      int
	DefaultPose math.QuatT
}

type Skeleton struct {
	Joints []Joint
}

// NewSkeleton hashes the joint names.
func NewSkeleton(joints []Joint) *Skeleton {
	sk := &Skeleton{Joints: make([]Joint, len(joints))}
	for i, j := range joints {
		j.CRC32 = JointCRC32(j.Name)
		sk.Joints[i] = j
	}
	return sk
}

// JointPose is the sampled local transform of one joint.
type JointPose struct {
	Rotation math.Quaternion
	Position math.Vec3
	Scale    math.Vec3
	// Animated holds the channels written by a controller
	Animated JointState
}

/**
 * @brief Samples every joint of skeleton at normalized time ntime. Joints
 * without a controller, and channels a controller does not animate, keep
 * the bind pose. All joints read the same controller set.
 */
func SamplePose(h *GlobalAnimationHeaderCAF, ntime float32, skeleton *Skeleton, out []JointPose) error {
	if len(out) < len(skeleton.Joints) {
		return errors.Errorf("pose buffer holds %d joints, skeleton has %d", len(out), len(skeleton.Joints))
	}
	set := h.content.Load()
	kt := set.ntime2KTime(math.Clamp(ntime, 0, 1))
	for i, j := range skeleton.Joints {
		pose := JointPose{
			Rotation: j.DefaultPose.Q,
			Position: j.DefaultPose.T,
			Scale:    math.NewVec3One(),
		}
		if c := set.find(j.CRC32); c != nil {
			pose.Animated = c.GetOPS(kt, &pose.Rotation, &pose.Position, &pose.Scale)
		}
		out[i] = pose
	}
	return nil
}
