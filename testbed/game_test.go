package testbed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-caf/engine"
	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/config"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

func writeLiftClip(t *testing.T, path string) {
	t.Helper()
	w := animation.NewChunkWriter()
	if err := w.AddMotionParameters(&animation.MotionParams{
		AssetFlags:    animation.MotionCycle,
		TicksPerFrame: 160,
		SecsPerTick:   1.0 / 4800,
		End:           4800,
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddCompressedController(animation.CompressedControllerDesc{
		ID:            animation.JointCRC32("Bip01 Pelvis"),
		RotFormat:     animation.SmallTree64BitExtQuat,
		RotTimeFormat: animation.KeyTimesUINT16,
		RotTimes:      []float32{0, 30},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), math.NewQuatIdentity()},
		PosFormat:     animation.NoCompressVec3,
		PosTimeFormat: animation.KeyTimesByte,
		PosTimes:      []float32{0, 30},
		Positions:     []math.Vec3{{Z: 1}, {Z: 1}},
		Aligned:       true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, w.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTestbedSamplesConfiguredSet(t *testing.T) {
	dir := t.TempDir()
	writeLiftClip(t, filepath.Join(dir, "idle.caf"))
	list := "animations:\n  - {name: idle, file: idle.caf}\n  - {name: lost, file: lost.caf, on_demand: true}\n"
	if err := os.WriteFile(filepath.Join(dir, "animations.yaml"), []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.FrameRate = 1000
	cfg.Heap.Size = 1 << 16
	cfg.Animation.Directory = dir

	tg, err := NewTestGame(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var e *engine.Engine
	update := tg.FnUpdate
	frames := 0
	tg.FnUpdate = func(deltaTime float64) error {
		if err := update(deltaTime); err != nil {
			return err
		}
		frames++
		if tg.Sampled() > 0 || frames > 5000 {
			e.Stop()
		}
		return nil
	}

	e, err = engine.New(tg.Game)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if tg.Sampled() == 0 {
		t.Fatalf("no pose sampled in %d frames", frames)
	}
	if tg.Current() != "idle" {
		t.Errorf("playing %q", tg.Current())
	}
	pelvis := tg.Pose()[1]
	if !pelvis.Animated.Has(animation.Position) || math.Abs(pelvis.Position.Z-1) > 1e-6 {
		t.Errorf("pelvis=%+v", pelvis)
	}
	if root := tg.Pose()[0]; root.Animated != 0 || root.Position != (math.Vec3{}) {
		t.Errorf("root without controller moved: %+v", root)
	}
}

func TestNewTestGameRequiresConfig(t *testing.T) {
	if _, err := NewTestGame(nil); err == nil {
		t.Error("nil configuration accepted")
	}
}
