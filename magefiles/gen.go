//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

type Gen mg.Namespace

const fixtureDir = "assets/animations"

const fixtureList = `animations:
  - name: idle
    file: idle.caf
  - name: walk
    file: walk.caf
    on_demand: true
  - name: sway
    file: sway_legacy.caf
`

// one second of motion at 30 frames per second
var fixtureMotion = animation.MotionParams{
	TicksPerFrame: 160,
	SecsPerTick:   1.0 / 4800,
	Start:         0,
	End:           4800,
}

// Writes the sample clips and animation list the testbed plays.
func (Gen) Fixtures() error {
	if err := os.MkdirAll(fixtureDir, 0o755); err != nil {
		return err
	}
	clips := map[string]func() ([]byte, error){
		"idle.caf":        idleClip,
		"walk.caf":        walkClip,
		"sway_legacy.caf": swayClip,
	}
	for name, build := range clips {
		data, err := build()
		if err != nil {
			return fmt.Errorf("failed to build %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(fixtureDir, name), data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", name, len(data))
	}
	return os.WriteFile(filepath.Join(fixtureDir, "animations.yaml"), []byte(fixtureList), 0o644)
}

func turn(radians float32) math.Quaternion {
	return math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), radians, false)
}

func idleClip() ([]byte, error) {
	w := animation.NewChunkWriter()
	motion := fixtureMotion
	motion.AssetFlags = animation.MotionCycle
	if err := w.AddMotionParameters(&motion); err != nil {
		return nil, err
	}
	err := w.AddCompressedController(animation.CompressedControllerDesc{
		ID:            animation.JointCRC32("Bip01 Spine"),
		RotFormat:     animation.SmallTree64BitExtQuat,
		RotTimeFormat: animation.KeyTimesUINT16,
		RotTimes:      []float32{0, 15, 30},
		Rotations:     []math.Quaternion{turn(-0.05), turn(0.05), turn(-0.05)},
		PosFormat:     animation.NoCompressVec3,
		PosTimeFormat: animation.KeyTimesByte,
		PosTimes:      []float32{0, 30},
		Positions:     []math.Vec3{{Z: 0.1}, {Z: 0.1}},
		Aligned:       true,
	})
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func walkClip() ([]byte, error) {
	w := animation.NewChunkWriter()
	motion := fixtureMotion
	motion.AssetFlags = animation.MotionCycle
	motion.MoveSpeed = 1.4
	motion.Distance = 1.4
	motion.Segments = []float32{0.5}
	if err := w.AddMotionParameters(&motion); err != nil {
		return nil, err
	}
	err := w.AddCompressedController(animation.CompressedControllerDesc{
		ID:            animation.JointCRC32("Bip01 Pelvis"),
		RotFormat:     animation.SmallTree48BitQuat,
		RotTimeFormat: animation.KeyTimesByte,
		RotTimes:      []float32{0, 30},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), math.NewQuatIdentity()},
		PosFormat:     animation.NoCompressVec3,
		PosTimeFormat: animation.KeyTimesByte,
		PosTimes:      []float32{0, 15, 30},
		Positions:     []math.Vec3{{}, {Y: 0.7, Z: 0.05}, {Y: 1.4}},
		Aligned:       true,
	})
	if err != nil {
		return nil, err
	}
	for i, name := range []string{"Bip01 L Thigh", "Bip01 R Thigh"} {
		phase := float32(1 - 2*i)
		err := w.AddCompressedController(animation.CompressedControllerDesc{
			ID:            animation.JointCRC32(name),
			RotFormat:     animation.SmallTree64BitExtQuat,
			RotTimeFormat: animation.KeyTimesUINT16,
			RotTimes:      []float32{0, 15, 30},
			Rotations:     []math.Quaternion{turn(0.4 * phase), turn(-0.4 * phase), turn(0.4 * phase)},
			Aligned:       true,
		})
		if err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func swayClip() ([]byte, error) {
	w := animation.NewChunkWriter()
	if err := w.AddMotionParameters(&fixtureMotion); err != nil {
		return nil, err
	}
	// rotations are stored as half-angle logarithms
	quarter := math.K_PI / 4
	err := w.AddPQLogController(animation.JointCRC32("Bip01 Spine"),
		[]int32{0, 2400, 4800},
		[]math.Vec3{{}, {Z: quarter / 2}, {}},
		[]math.Vec3{{}, {X: 0.1}, {}},
		false)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
