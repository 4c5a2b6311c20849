package animation

import (
	"errors"
	"sync"
	"testing"

	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/math"
	"github.com/spaghettifunk/anima-caf/engine/memory"
)

const pelvis = "Bip01 Pelvis"

var quarterTurn = math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.K_HALF_PI, false)

// oneSecondMotion spans key times 0..30 with 160 ticks per frame.
func oneSecondMotion() *MotionParams {
	return &MotionParams{
		AssetFlags:    MotionCycle,
		TicksPerFrame: 160,
		SecsPerTick:   1.0 / 4800,
		Start:         0,
		End:           4800,
	}
}

func pelvisClip(t *testing.T, aligned bool) []byte {
	t.Helper()
	w := NewChunkWriter()
	if err := w.AddMotionParameters(oneSecondMotion()); err != nil {
		t.Fatal(err)
	}
	err := w.AddCompressedController(CompressedControllerDesc{
		ID:            JointCRC32(pelvis),
		RotFormat:     NoCompressQuat,
		RotTimeFormat: KeyTimesF32,
		RotTimes:      []float32{0, 30},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), quarterTurn},
		PosFormat:     NoCompressVec3,
		PosTimeFormat: KeyTimesByte,
		PosTimes:      []float32{0, 15, 30},
		Positions:     []math.Vec3{{}, {Y: 1}, {Y: 4}},
		Aligned:       aligned,
	})
	if err != nil {
		t.Fatal(err)
	}
	return w.Bytes()
}

func newHeap(t *testing.T) *memory.DefragHeap {
	t.Helper()
	heap, err := memory.NewDefragHeap(1 << 16)
	if err != nil {
		t.Fatal(err)
	}
	return heap
}

func TestLoadCAFSamplesWithNlerp(t *testing.T) {
	for _, aligned := range []bool{false, true} {
		h := NewGlobalAnimationHeaderCAF("Animations/Walk.caf", newHeap(t), LoadOptions{})
		if err := h.LoadCAF(pelvisClip(t, aligned)); err != nil {
			t.Fatal(err)
		}
		if !h.IsAssetCreated() || !h.IsCycle() || h.IsAdditive() {
			t.Errorf("state=%s flags=%b", h.State(), h.Flags())
		}
		if d := h.DurationSec(); math.Abs(d-1) > 1e-5 {
			t.Errorf("DurationSec=%v", d)
		}

		c := h.GetControllerByJointCRC32(JointCRC32(pelvis))
		if c == nil {
			t.Fatal("pelvis controller missing")
		}
		var rot math.Quaternion
		var pos math.Vec3
		kt := h.NTime2KTime(0.25)
		if state := c.GetOP(kt, &rot, &pos); state != Orientation|Position {
			t.Errorf("GetOP state=%b", state)
		}
		if math.Abs(rot.Z-0.18737) > 1e-4 {
			t.Errorf("rotation at a quarter=%v; expected nlerp z 0.18737", rot)
		}
		if !pos.Compare(math.Vec3{Y: 0.5}, 1e-4) {
			t.Errorf("position at a quarter=%v", pos)
		}

		if got := h.GetControllerByJointCRC32(JointCRC32("bip01 pelvis")); got != nil {
			t.Errorf("joint lookup is case insensitive")
		}
	}
}

func TestPathCRCIsCaseInsensitive(t *testing.T) {
	a := NewGlobalAnimationHeaderCAF("Animations/Walk.caf", nil, LoadOptions{})
	if a.FilePathCRC32 != PathCRC32("animations/walk.CAF") {
		t.Errorf("path crc depends on case")
	}
}

func TestLoadCAFErrors(t *testing.T) {
	big := NewChunkWriter()
	big.AddRaw(ChunkTypeController, ControllerVersionCompressed, true, make([]byte, 16))

	unknown := NewChunkWriter()
	unknown.AddRaw(ChunkTypeController, 0x0830, false, make([]byte, 16))

	mixed := NewChunkWriter()
	_ = mixed.AddCompressedController(CompressedControllerDesc{
		ID: 1, RotFormat: NoCompressQuat, RotTimeFormat: KeyTimesByte,
		RotTimes: []float32{0}, Rotations: []math.Quaternion{math.NewQuatIdentity()},
	})
	_ = mixed.AddPQLogController(2, []int32{0}, []math.Vec3{{}}, []math.Vec3{{}}, false)

	legacy := NewChunkWriter()
	_ = legacy.AddPQLogController(2, []int32{0}, []math.Vec3{{}}, []math.Vec3{{}}, false)

	truncated := pelvisClip(t, false)
	truncated = truncated[:len(truncated)-8]

	tests := []struct {
		name  string
		data  []byte
		want  error
		fatal bool
	}{
		{"garbage", []byte("not a chunk file at all"), ErrNotChunkFile, true},
		{"foreign endian", big.Bytes(), ErrForeignEndian, true},
		{"unknown version", unknown.Bytes(), ErrUnknownChunkVersion, true},
		{"mixed", mixed.Bytes(), ErrMixedControllers, true},
		{"legacy disabled", legacy.Bytes(), ErrLegacyDisabled, false},
		{"truncated", truncated, ErrCorruptChunk, true},
	}
	for _, test := range tests {
		heap := newHeap(t)
		h := NewGlobalAnimationHeaderCAF(test.name+".caf", heap, LoadOptions{})
		err := h.LoadCAF(test.data)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: LoadCAF returned %v; expected %v", test.name, err, test.want)
		}
		if IsFatal(err) != test.fatal {
			t.Errorf("%s: IsFatal=%v", test.name, IsFatal(err))
		}
		if !h.IsAssetNotFound() || h.ControllersCount() != 0 {
			t.Errorf("%s: state=%s controllers=%d", test.name, h.State(), h.ControllersCount())
		}
		if used := heap.Stats().Used; used != 0 {
			t.Errorf("%s: %d heap bytes leaked", test.name, used)
		}
	}
}

func TestLoadCAFWithoutControllers(t *testing.T) {
	w := NewChunkWriter()
	_ = w.AddMotionParameters(&MotionParams{TicksPerFrame: 1, SecsPerTick: 1.0 / 30, End: 60, Segments: []float32{0.5, 1}})
	h := NewGlobalAnimationHeaderCAF("empty.caf", nil, LoadOptions{})
	if err := h.LoadCAF(w.Bytes()); err != nil {
		t.Fatalf("LoadCAF: %v", err)
	}
	if !h.IsAssetCreated() || h.ControllersCount() != 0 {
		t.Errorf("state=%s controllers=%d", h.State(), h.ControllersCount())
	}
	if h.GetControllerByJointCRC32(JointCRC32(pelvis)) != nil {
		t.Errorf("empty clip returned a controller")
	}
	if n := h.SegmentCount(); n != 2 {
		t.Errorf("SegmentCount=%d", n)
	}
	if lo, hi := h.GetSegmentNTime(1); lo != 0.5 || hi != 1 {
		t.Errorf("GetSegmentNTime(1)=(%v, %v)", lo, hi)
	}
	if math.Abs(h.EndSec()-2) > 1e-5 {
		t.Errorf("EndSec=%v", h.EndSec())
	}
}

func TestLegacyControllers(t *testing.T) {
	for _, bigEndian := range []bool{false, true} {
		w := NewChunkWriter()
		_ = w.AddPQLogController(JointCRC32("Bip01 Spine"), []int32{0, 10},
			[]math.Vec3{{}, {Z: math.K_PI / 4}}, []math.Vec3{{}, {X: 2}}, bigEndian)
		_ = w.AddTCBController(JointCRC32("Bip01 Head"),
			[]TCBKey3{{Time: 0, Value: math.NewVec3(100, 200, 300)}}, nil, nil, bigEndian)

		h := NewGlobalAnimationHeaderCAF("legacy.caf", newHeap(t), LoadOptions{LoadUncompressed: true})
		if err := h.LoadCAF(w.Bytes()); err != nil {
			t.Fatalf("big endian %v: %v", bigEndian, err)
		}
		if h.ControllersCount() != 2 {
			t.Fatalf("controllers=%d", h.ControllersCount())
		}
		// no motion chunk: the range follows the keys, 10 ticks at one tick per frame
		if math.Abs(h.EndSec()-10.0/30) > 1e-6 {
			t.Errorf("EndSec=%v", h.EndSec())
		}

		var rot math.Quaternion
		var pos math.Vec3
		h.GetControllerByJointCRC32(JointCRC32("Bip01 Spine")).GetOP(5, &rot, &pos)
		want := math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.K_PI/4, false)
		if !rot.Compare(want, 1e-5) || !pos.Compare(math.Vec3{X: 1}, 1e-6) {
			t.Errorf("pqlog sample rot=%v pos=%v", rot, pos)
		}
		h.GetControllerByJointCRC32(JointCRC32("Bip01 Head")).GetP(0, &pos)
		if !pos.Compare(math.NewVec3(1, 2, 3), 1e-6) {
			t.Errorf("tcb position=%v", pos)
		}
	}
}

func TestCompressedFormatsThroughChunks(t *testing.T) {
	rotations := randomRotations(3, 6)
	w := NewChunkWriter()
	err := w.AddCompressedController(CompressedControllerDesc{
		ID:                 42,
		RotFormat:          SmallTree48BitQuat,
		RotTimeFormat:      KeyTimesUINT16StartStop,
		RotTimes:           []float32{10, 11, 12, 13, 14, 15},
		Rotations:          rotations,
		PosFormat:          NoCompress,
		Positions:          []math.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}, {X: 5}},
		SharePositionTimes: true,
		ScaleFormat:        NoCompressVec3,
		ScaleTimeFormat:    KeyTimesBitset,
		ScaleTimes:         []float32{10, 12, 15},
		Scales:             []math.Vec3{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 5, Y: 5, Z: 5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	before := SharedKeyTimesCount()
	h := NewGlobalAnimationHeaderCAF("formats.caf", newHeap(t), LoadOptions{})
	if err := h.LoadCAF(w.Bytes()); err != nil {
		t.Fatal(err)
	}
	c := h.GetControllerByJointCRC32(42).(*CompressedController)
	if c.RotationKeysNum() != 6 || c.PositionKeysNum() != 6 || c.ScaleKeysNum() != 3 {
		t.Fatalf("key counts %d/%d/%d", c.RotationKeysNum(), c.PositionKeysNum(), c.ScaleKeysNum())
	}
	if c.position.KeyTimes() != c.rotation.KeyTimes() || !c.rotation.KeyTimes().IsConstant() {
		t.Errorf("positions do not share the constant rotation times")
	}
	if SharedKeyTimesCount() < before {
		t.Errorf("shared key times cache shrank")
	}

	for i, q := range rotations {
		var rot math.Quaternion
		c.GetO(float32(10+i), &rot)
		if e := maxComponentError(q, rot); e > 5e-4 {
			t.Errorf("rotation %d error %v", i, e)
		}
	}
	var p, s math.Vec3
	state := c.GetOPS(13.5, &math.Quaternion{}, &p, &s)
	if state != Orientation|Position|Scale {
		t.Errorf("GetOPS state=%b", state)
	}
	if !p.Compare(math.Vec3{X: 3.5}, 1e-5) || !s.Compare(math.NewVec3(3.5, 3.5, 3.5), 1e-5) {
		t.Errorf("position=%v scale=%v", p, s)
	}
}

func TestDuplicateControllerKeepsFirst(t *testing.T) {
	w := NewChunkWriter()
	for _, y := range []float32{1, 2} {
		_ = w.AddCompressedController(CompressedControllerDesc{
			ID: 9, PosFormat: NoCompress, PosTimeFormat: KeyTimesByte,
			PosTimes: []float32{0}, Positions: []math.Vec3{{Y: y}},
		})
	}
	h := NewGlobalAnimationHeaderCAF("dup.caf", nil, LoadOptions{})
	if err := h.LoadCAF(w.Bytes()); err != nil {
		t.Fatal(err)
	}
	var p math.Vec3
	h.GetControllerByJointCRC32(9).GetP(0, &p)
	if h.ControllersCount() != 1 || p.Y != 1 {
		t.Errorf("controllers=%d position=%v", h.ControllersCount(), p)
	}
}

func TestControllersFollowCompaction(t *testing.T) {
	heap := newHeap(t)
	spacer, err := heap.AllocPinned(4096)
	if err != nil {
		t.Fatal(err)
	}
	h := NewGlobalAnimationHeaderCAF("walk.caf", heap, LoadOptions{})
	if err := h.LoadCAF(pelvisClip(t, true)); err != nil {
		t.Fatal(err)
	}
	c := h.GetControllerByJointCRC32(JointCRC32(pelvis))
	var before, after math.Quaternion
	c.GetO(10, &before)

	_ = heap.Free(spacer)
	if moved := heap.Compact(0); moved != 1 {
		t.Fatalf("Compact moved %d blocks", moved)
	}
	c.GetO(10, &after)
	if before != after {
		t.Errorf("sample changed after compaction: %v vs %v", before, after)
	}

	h.ClearControllers()
	if heap.Stats().Used != 0 {
		t.Errorf("clear left %d heap bytes", heap.Stats().Used)
	}
	// controllers of a cleared clip stay safe to call
	c.GetO(10, &after)
	if after != math.NewQuatIdentity() {
		t.Errorf("sample of freed data=%v", after)
	}
}

// fragmentedHeap holds a loaded clip above a free hole, with the rest of the
// arena split into 16 byte holes between pinned blocks.
func fragmentedHeap(t *testing.T) (*memory.DefragHeap, *GlobalAnimationHeaderCAF) {
	t.Helper()
	heap := newHeap(t)
	spacer, err := heap.AllocPinned(16)
	if err != nil {
		t.Fatal(err)
	}
	h := NewGlobalAnimationHeaderCAF("walk.caf", heap, LoadOptions{})
	if err := h.LoadCAF(pelvisClip(t, true)); err != nil {
		t.Fatal(err)
	}
	var fill []memory.Handle
	for {
		hd, err := heap.AllocPinned(16)
		if err != nil {
			break
		}
		fill = append(fill, hd)
	}
	_ = heap.Free(spacer)
	for i := 0; i < len(fill); i += 2 {
		_ = heap.Free(fill[i])
	}
	if st := heap.Stats(); st.LargestHole != 16 {
		t.Fatalf("heap not fragmented: %+v", st)
	}
	return heap, h
}

func TestWorkerAllocationsDoNotCompact(t *testing.T) {
	heap, h := fragmentedHeap(t)
	c := h.GetControllerByJointCRC32(JointCRC32(pelvis))
	var want math.Quaternion
	c.GetO(10, &want)
	moves := heap.Stats().Moves

	sink := &StreamContent{header: h}
	done := make(chan []byte, 1)
	go func() {
		done <- sink.OnNeedStorage(4096)
	}()
	var got math.Quaternion
	for sampling := true; sampling; {
		select {
		case buf := <-done:
			if buf != nil {
				t.Errorf("in-place block of %d bytes handed out on a fragmented heap", len(buf))
			}
			sampling = false
		default:
			c.GetO(10, &got)
			if got != want {
				t.Fatalf("sample changed during worker allocation: %v vs %v", got, want)
			}
		}
	}
	if sink.handle.IsValid() {
		t.Error("sink kept a heap block")
	}

	other := NewGlobalAnimationHeaderCAF("run.caf", heap, LoadOptions{})
	if err := other.LoadCAF(pelvisClip(t, true)); err != nil {
		t.Fatalf("load on fragmented heap: %v", err)
	}
	if st := heap.Stats(); st.Moves != moves {
		t.Errorf("worker side allocations moved %d blocks", st.Moves-moves)
	}
	other.GetControllerByJointCRC32(JointCRC32(pelvis)).GetO(10, &got)
	if got != want {
		t.Errorf("clip kept outside the heap samples %v; expected %v", got, want)
	}
	c.GetO(10, &got)
	if got != want {
		t.Errorf("resident clip samples %v after load; expected %v", got, want)
	}
}

func TestRejectedRangeIsNotShared(t *testing.T) {
	w := NewChunkWriter()
	// two keys written as a range that spans 901 key times
	if err := w.AddCompressedController(CompressedControllerDesc{
		ID:            7,
		RotFormat:     NoCompressQuat,
		RotTimeFormat: KeyTimesUINT16StartStop,
		RotTimes:      []float32{40000, 40900},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), quarterTurn},
	}); err != nil {
		t.Fatal(err)
	}
	before := SharedKeyTimesCount()
	h := NewGlobalAnimationHeaderCAF("corrupt.caf", newHeap(t), LoadOptions{})
	if err := h.LoadCAF(w.Bytes()); !errors.Is(err, ErrKeyCountMismatch) {
		t.Fatalf("LoadCAF=%v; expected a key count mismatch", err)
	}
	if n := SharedKeyTimesCount(); n != before {
		t.Errorf("rejected file left %d shared key time stores", n-before)
	}
	if !h.IsAssetNotFound() {
		t.Errorf("state=%s", h.State())
	}
}

func TestCommitContentIsAtomic(t *testing.T) {
	h := NewGlobalAnimationHeaderCAF("atomic.caf", nil, LoadOptions{})
	setA := []Controller{NewCompressedController(1, nil, nil, nil), NewCompressedController(2, nil, nil, nil)}
	setB := []Controller{NewCompressedController(5, nil, nil, nil), NewCompressedController(3, nil, nil, nil), NewCompressedController(4, nil, nil, nil)}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			cs := h.Controllers()
			switch len(cs) {
			case 0:
			case 2:
				if cs[0].ID() != 1 || cs[1].ID() != 2 {
					t.Errorf("torn set %v", cs)
					return
				}
			case 3:
				if cs[0].ID() != 3 || cs[1].ID() != 4 || cs[2].ID() != 5 {
					t.Errorf("torn or unsorted set %v", cs)
					return
				}
			default:
				t.Errorf("set of %d controllers", len(cs))
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			h.CommitContent(setA, nil)
		} else {
			h.CommitContent(setB, nil)
		}
	}
	close(stop)
	wg.Wait()
}

type testRequest struct {
	aborted bool
}

func (r *testRequest) Abort() {
	r.aborted = true
}

// testStreamer records requests; the test delivers them by hand.
type testStreamer struct {
	sinks    []StreamSink
	requests []*testRequest
}

func (s *testStreamer) StartStream(path string, sink StreamSink) (StreamRequest, error) {
	r := &testRequest{}
	s.sinks = append(s.sinks, sink)
	s.requests = append(s.requests, r)
	return r, nil
}

func deliver(sink StreamSink, data []byte) {
	buf := sink.OnNeedStorage(uint64(len(data)))
	if buf == nil {
		buf = make([]byte, len(data))
	}
	copy(buf, data)
	sink.OnAsyncComplete(buf, nil)
	sink.OnComplete(nil)
}

func TestStreamingInPlace(t *testing.T) {
	data := pelvisClip(t, true)
	for _, threshold := range []uint32{1, 1 << 20} {
		heap := newHeap(t)
		var loaded []error
		h := NewGlobalAnimationHeaderCAF("walk.caf", heap, LoadOptions{
			MinInPlaceSize: threshold,
			Listener:       func(_ *GlobalAnimationHeaderCAF, err error) { loaded = append(loaded, err) },
		})
		streamer := &testStreamer{}
		if err := h.StartStreamingCAF(streamer); !errors.Is(err, ErrNotOnDemand) {
			t.Errorf("streaming a resident clip returned %v", err)
		}
		h.SetOnDemand(true)
		if err := h.StartStreamingCAF(streamer); err != nil {
			t.Fatal(err)
		}
		if err := h.StartStreamingCAF(streamer); err != nil || len(streamer.sinks) != 1 {
			t.Errorf("second start issued another request: %v", err)
		}
		if !h.IsAssetRequested() {
			t.Errorf("state=%s", h.State())
		}

		deliver(streamer.sinks[0], data)
		if !h.IsAssetCreated() || len(loaded) != 1 || loaded[0] != nil {
			t.Fatalf("state=%s listener=%v", h.State(), loaded)
		}
		stats := heap.Stats()
		if stats.Blocks != 1 || stats.Pinned != 0 {
			t.Errorf("heap stats %+v", stats)
		}
		inPlace := threshold == 1
		if inPlace != (stats.Used >= uint64(len(data))) {
			t.Errorf("threshold %d: %d heap bytes for a %d byte file", threshold, stats.Used, len(data))
		}

		var rot math.Quaternion
		h.GetControllerByJointCRC32(JointCRC32(pelvis)).GetO(30, &rot)
		if !rot.Compare(quarterTurn, 1e-6) {
			t.Errorf("rotation at the end=%v", rot)
		}
	}
}

func TestClearDuringStream(t *testing.T) {
	heap := newHeap(t)
	h := NewGlobalAnimationHeaderCAF("walk.caf", heap, LoadOptions{MinInPlaceSize: 1})
	h.SetOnDemand(true)
	streamer := &testStreamer{}
	if err := h.StartStreamingCAF(streamer); err != nil {
		t.Fatal(err)
	}
	discarded := core.Counters.StreamsDiscarded.Load()
	generation := h.Generation()

	h.ClearControllers()
	if !streamer.requests[0].aborted {
		t.Errorf("request was not aborted")
	}
	if h.Generation() == generation {
		t.Errorf("generation was not bumped")
	}
	deliver(streamer.sinks[0], pelvisClip(t, false))

	if h.State() != StateNotCreated || h.ControllersCount() != 0 {
		t.Errorf("stale stream resurrected the header: state=%s controllers=%d", h.State(), h.ControllersCount())
	}
	if core.Counters.StreamsDiscarded.Load() != discarded+1 {
		t.Errorf("stale completion was not counted as discarded")
	}
	if used := heap.Stats().Used; used != 0 {
		t.Errorf("%d heap bytes leaked", used)
	}

	// a new request after the clear loads normally
	if err := h.StartStreamingCAF(streamer); err != nil {
		t.Fatal(err)
	}
	deliver(streamer.sinks[1], pelvisClip(t, false))
	if !h.IsAssetCreated() || h.ControllersCount() != 1 {
		t.Errorf("state=%s controllers=%d", h.State(), h.ControllersCount())
	}
}

func TestSamplePoseFallsBackToBindPose(t *testing.T) {
	h := NewGlobalAnimationHeaderCAF("walk.caf", nil, LoadOptions{})
	if err := h.LoadCAF(pelvisClip(t, false)); err != nil {
		t.Fatal(err)
	}
	bind := math.QuatT{Q: math.NewQuat(0, 1, 0, 0), T: math.NewVec3(0, 0, 9)}
	sk := NewSkeleton([]Joint{
		{Name: pelvis, Parent: -1, DefaultPose: math.NewQuatTIdentity()},
		{Name: "Bip01 Tail", Parent: 0, DefaultPose: bind},
	})
	out := make([]JointPose, 2)
	if err := SamplePose(h, 1, sk, out); err != nil {
		t.Fatal(err)
	}
	if !out[0].Rotation.Compare(quarterTurn, 1e-5) || !out[0].Position.Compare(math.Vec3{Y: 4}, 1e-5) {
		t.Errorf("pelvis pose %+v", out[0])
	}
	if out[0].Animated != Orientation|Position || out[0].Scale != math.NewVec3One() {
		t.Errorf("pelvis channels %b scale %v", out[0].Animated, out[0].Scale)
	}
	if out[1].Rotation != bind.Q || out[1].Position != bind.T || out[1].Animated != 0 {
		t.Errorf("unanimated joint pose %+v", out[1])
	}
	if err := SamplePose(h, 0, sk, out[:1]); err == nil {
		t.Errorf("short pose buffer accepted")
	}
}

func TestRefCount(t *testing.T) {
	h := NewGlobalAnimationHeaderCAF("ref.caf", nil, LoadOptions{})
	h.AddRef()
	h.AddRef()
	if n := h.Release(); n != 1 {
		t.Errorf("Release=%d", n)
	}
	h.Release()
	if n := h.Release(); n != 0 || h.RefCount() != 0 {
		t.Errorf("over release left %d", h.RefCount())
	}
}
