package systems

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

const pelvis = "Bip01 Pelvis"

var quarterTurn = math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.K_HALF_PI, false)

// clip builds a one second clip whose pelvis turns to rot and moves up by lift.
func clip(t *testing.T, rot math.Quaternion, lift float32) []byte {
	t.Helper()
	w := animation.NewChunkWriter()
	err := w.AddMotionParameters(&animation.MotionParams{
		TicksPerFrame: 160,
		SecsPerTick:   1.0 / 4800,
		Start:         0,
		End:           4800,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = w.AddCompressedController(animation.CompressedControllerDesc{
		ID:            animation.JointCRC32(pelvis),
		RotFormat:     animation.SmallTree64BitExtQuat,
		RotTimeFormat: animation.KeyTimesUINT16,
		RotTimes:      []float32{0, 30},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), rot},
		PosFormat:     animation.NoCompressVec3,
		PosTimeFormat: animation.KeyTimesByte,
		PosTimes:      []float32{0, 30},
		Positions:     []math.Vec3{{}, {Z: lift}},
		Aligned:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return w.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newAssetManager(t *testing.T) *assets.AssetManager {
	t.Helper()
	am, err := assets.NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = am.Shutdown() })
	return am
}

func newJobSystem(t *testing.T, workers int) *JobSystem {
	t.Helper()
	js, err := NewJobSystem(workers, 8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = js.Shutdown() })
	return js
}

func testConfig() AnimationSystemConfig {
	return AnimationSystemConfig{
		MaxAnimationCount:       16,
		HeapSize:                1 << 16,
		MinInPlaceCAFStreamSize: 64,
		StreamCAF:               true,
		LoadUncompressedChunks:  true,
	}
}

func newAnimationSystem(t *testing.T, config AnimationSystemConfig) (*AnimationSystem, *assets.AssetManager) {
	t.Helper()
	am := newAssetManager(t)
	se, err := NewStreamEngine(StreamEngineConfig{CompletionQueueSize: 4}, newJobSystem(t, 2), am)
	if err != nil {
		t.Fatal(err)
	}
	as, err := NewAnimationSystem(config, am, se)
	if err != nil {
		t.Fatal(err)
	}
	if err := as.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = as.Shutdown() })
	return as, am
}

// pump updates the system until done holds or a second has passed.
func pump(t *testing.T, as *AnimationSystem, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the animation system")
		}
		if err := as.Update(1.0 / 60); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
}

type firedEvent struct {
	code core.SystemEventCode
	data core.EventContext
}

type eventRecorder struct {
	mutex  sync.Mutex
	events []firedEvent
}

// recordEvents listens to codes for the duration of the test.
func recordEvents(t *testing.T, codes ...core.SystemEventCode) *eventRecorder {
	t.Helper()
	core.EventInitialize()
	r := &eventRecorder{}
	for _, code := range codes {
		if !core.EventRegister(code, r, r.onEvent) {
			t.Fatalf("failed to register for event %d", code)
		}
	}
	t.Cleanup(func() {
		for _, code := range codes {
			core.EventUnregister(code, r)
		}
	})
	return r
}

func (r *eventRecorder) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, firedEvent{code: code, data: data})
	return false
}

func (r *eventRecorder) count(code core.SystemEventCode) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, e := range r.events {
		if e.code == code {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(code core.SystemEventCode) (core.EventContext, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].code == code {
			return r.events[i].data, true
		}
	}
	return core.EventContext{}, false
}

// endRotation samples the pelvis rotation at the end of the clip.
func endRotation(t *testing.T, h *animation.GlobalAnimationHeaderCAF) math.Quaternion {
	t.Helper()
	c := h.GetControllerByJointCRC32(animation.JointCRC32(pelvis))
	if c == nil {
		t.Fatalf("%s has no pelvis controller (state %s)", h.FilePath, h.State())
	}
	var rot math.Quaternion
	if !c.GetO(h.NTime2KTime(1), &rot).Has(animation.Orientation) {
		t.Fatal("pelvis rotation not animated")
	}
	return rot
}
