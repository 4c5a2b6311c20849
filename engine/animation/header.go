package animation

import (
	"hash/crc32"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/memory"
)

// HeaderState is the loading state of a header.
type HeaderState int32

const (
	StateNotCreated HeaderState = iota
	StateRequested
	StateLoading
	StateCreated
	StateNotFound
)

func (s HeaderState) String() string {
	switch s {
	case StateNotCreated:
		return "not-created"
	case StateRequested:
		return "requested"
	case StateLoading:
		return "loading"
	case StateCreated:
		return "created"
	case StateNotFound:
		return "not-found"
	}
	return "unknown"
}

// HeaderFlags describe the asset.
type HeaderFlags uint32

const (
	FlagOnDemand HeaderFlags = 1 << iota
	FlagAdditive
	FlagCycle
)

// PathCRC32 is the lookup key of an animation path, case insensitive.
func PathCRC32(path string) uint32 {
	return crc32.ChecksumIEEE([]byte(strings.ToLower(path)))
}

/**
 * @brief The global header of one CAF clip. Holds the path, the loading
 * state and the controller set. The controller set is replaced as a whole,
 * so readers on any goroutine see either the old or the new set.
 *
 * StartStreamingCAF, ClearControllers, LoadCAF and CommitContent belong
 * to the main thread.
 */
type GlobalAnimationHeaderCAF struct {
	FilePath      string
	FilePathCRC32 uint32

	refCount   atomic.Int32
	flags      atomic.Uint32
	state      atomic.Int32
	generation atomic.Uint64
	content    atomic.Pointer[controllerSet]

	heap    *memory.DefragHeap
	options LoadOptions

	mutex   sync.Mutex
	stream  *StreamContent
	request StreamRequest
}

/**
 * @brief Creates an empty header. heap may be nil, in which case track
 * data lives in ordinary buffers.
 */
func NewGlobalAnimationHeaderCAF(path string, heap *memory.DefragHeap, options LoadOptions) *GlobalAnimationHeaderCAF {
	h := &GlobalAnimationHeaderCAF{
		FilePath:      path,
		FilePathCRC32: PathCRC32(path),
		heap:          heap,
		options:       options,
	}
	h.content.Store(emptySet)
	return h
}

func (h *GlobalAnimationHeaderCAF) AddRef() int32 {
	return h.refCount.Add(1)
}

// Release drops a reference and returns how many are left.
func (h *GlobalAnimationHeaderCAF) Release() int32 {
	n := h.refCount.Add(-1)
	if n < 0 {
		h.refCount.Store(0)
		core.LogWarn("release of unreferenced animation %s", h.FilePath)
		return 0
	}
	return n
}

func (h *GlobalAnimationHeaderCAF) RefCount() int32 {
	return h.refCount.Load()
}

func (h *GlobalAnimationHeaderCAF) State() HeaderState {
	return HeaderState(h.state.Load())
}

func (h *GlobalAnimationHeaderCAF) Flags() HeaderFlags {
	return HeaderFlags(h.flags.Load())
}

func (h *GlobalAnimationHeaderCAF) setFlag(flag HeaderFlags, on bool) {
	for {
		old := h.flags.Load()
		next := old &^ uint32(flag)
		if on {
			next |= uint32(flag)
		}
		if h.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetOnDemand marks the clip as streamable on first use.
func (h *GlobalAnimationHeaderCAF) SetOnDemand(on bool) {
	h.setFlag(FlagOnDemand, on)
}

func (h *GlobalAnimationHeaderCAF) IsAssetOnDemand() bool {
	return h.Flags()&FlagOnDemand != 0
}

func (h *GlobalAnimationHeaderCAF) IsAssetCreated() bool {
	return h.State() == StateCreated
}

func (h *GlobalAnimationHeaderCAF) IsAssetRequested() bool {
	s := h.State()
	return s == StateRequested || s == StateLoading
}

func (h *GlobalAnimationHeaderCAF) IsAssetNotFound() bool {
	return h.State() == StateNotFound
}

func (h *GlobalAnimationHeaderCAF) IsAdditive() bool {
	return h.Flags()&FlagAdditive != 0
}

func (h *GlobalAnimationHeaderCAF) IsCycle() bool {
	return h.Flags()&FlagCycle != 0
}

// Generation is bumped by every ClearControllers.
func (h *GlobalAnimationHeaderCAF) Generation() uint64 {
	return h.generation.Load()
}

/**
 * @brief Returns the controller animating the joint whose name hashes to
 * crc, or nil. Safe to call from any goroutine.
 */
func (h *GlobalAnimationHeaderCAF) GetControllerByJointCRC32(crc uint32) Controller {
	return h.content.Load().find(crc)
}

func (h *GlobalAnimationHeaderCAF) ControllersCount() int {
	return len(h.content.Load().controllers)
}

// Controllers returns the committed controllers sorted by id.
func (h *GlobalAnimationHeaderCAF) Controllers() []Controller {
	return append([]Controller(nil), h.content.Load().controllers...)
}

// MotionParams returns the parsed motion chunk, nil when the clip had none.
func (h *GlobalAnimationHeaderCAF) MotionParams() *MotionParams {
	return h.content.Load().motion
}

func (h *GlobalAnimationHeaderCAF) StartSec() float32 {
	return h.content.Load().startSec
}

func (h *GlobalAnimationHeaderCAF) EndSec() float32 {
	return h.content.Load().endSec
}

func (h *GlobalAnimationHeaderCAF) DurationSec() float32 {
	s := h.content.Load()
	return s.endSec - s.startSec
}

// NTime2KTime maps normalized time in [0, 1] to key time.
func (h *GlobalAnimationHeaderCAF) NTime2KTime(ntime float32) float32 {
	return h.content.Load().ntime2KTime(ntime)
}

func (s *controllerSet) ntime2KTime(ntime float32) float32 {
	return (s.startSec + ntime*(s.endSec-s.startSec)) * KeyTimeRate
}

// SegmentCount is at least one; a clip without a segment table is one segment.
func (h *GlobalAnimationHeaderCAF) SegmentCount() int {
	if n := len(h.content.Load().segments); n > 0 {
		return n
	}
	return 1
}

/**
 * @brief Returns the normalized time range of segment. Segment values are
 * the normalized end points of consecutive segments.
 */
func (h *GlobalAnimationHeaderCAF) GetSegmentNTime(segment int) (float32, float32) {
	segments := h.content.Load().segments
	if len(segments) == 0 {
		return 0, 1
	}
	if segment < 0 {
		segment = 0
	} else if segment >= len(segments) {
		segment = len(segments) - 1
	}
	var start float32
	if segment > 0 {
		start = segments[segment-1]
	}
	return start, segments[segment]
}

// ApproximateSizeOfThis counts the header, its controllers and their key data.
func (h *GlobalAnimationHeaderCAF) ApproximateSizeOfThis() int {
	s := h.content.Load()
	size := int(unsafe.Sizeof(*h)) + len(h.FilePath) + 4*len(s.ids)
	for _, c := range s.controllers {
		size += c.ApproximateSizeOfThis()
	}
	return size
}

/**
 * @brief Publishes controllers built outside of the chunk loader, for
 * procedural clips and tools. motion may be nil, the time range then
 * follows the controllers' key times.
 */
func (h *GlobalAnimationHeaderCAF) CommitContent(controllers []Controller, motion *MotionParams) {
	set := &controllerSet{motion: motion}
	set.controllers = append(set.controllers, controllers...)
	sort.SliceStable(set.controllers, func(i, j int) bool {
		return set.controllers[i].ID() < set.controllers[j].ID()
	})
	set.ids = make([]uint32, len(set.controllers))
	for i, c := range set.controllers {
		set.ids[i] = c.ID()
	}
	set.clipRange()
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.commit(set)
}

// commit publishes set and frees the previous set's heap block.
func (h *GlobalAnimationHeaderCAF) commit(set *controllerSet) {
	h.setFlag(FlagAdditive, set.flags&MotionAdditive != 0)
	h.setFlag(FlagCycle, set.flags&MotionCycle != 0)
	if h.heap != nil && set.handle.IsValid() {
		path := h.FilePath
		_ = h.heap.ChangeContext(set.handle, func(dst, src uint64) {
			core.Counters.BlocksRelocated.Add(1)
			core.LogDebug("animation %s track data moved %#x -> %#x", path, src, dst)
		})
	}
	old := h.content.Swap(set)
	h.state.Store(int32(StateCreated))
	if h.heap != nil && old.handle.IsValid() && old.handle != set.handle {
		_ = h.heap.Free(old.handle)
	}
	if len(set.controllers) == 0 {
		core.LogWarn("animation %s has no controllers", h.FilePath)
	}
}

func (h *GlobalAnimationHeaderCAF) fail(err error) {
	h.state.Store(int32(StateNotFound))
	core.Counters.StreamsFailed.Add(1)
	if IsFatal(err) {
		core.LogError("animation %s is malformed: %v", h.FilePath, err)
	} else {
		core.LogWarn("failed to load animation %s: %v", h.FilePath, err)
	}
}

/**
 * @brief Synchronously decodes a clip already in memory, replacing the
 * current controllers. On failure the header is marked not found and the
 * previous controllers are dropped.
 */
func (h *GlobalAnimationHeaderCAF) LoadCAF(data []byte) error {
	err := h.load(data)
	h.notify(err)
	if err != nil {
		return errors.Wrap(err, h.FilePath)
	}
	return nil
}

// LoadFailed marks the clip not found when its file could not be read.
func (h *GlobalAnimationHeaderCAF) LoadFailed(err error) {
	h.mutex.Lock()
	h.abortLocked()
	h.clearLocked()
	h.fail(err)
	h.mutex.Unlock()
	h.notify(err)
}

func (h *GlobalAnimationHeaderCAF) load(data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.abortLocked()
	set, err := buildContent(data, h.heap, memory.InvalidHandle, h.options)
	if err != nil {
		h.clearLocked()
		h.fail(err)
		return err
	}
	h.commit(set)
	return nil
}

/**
 * @brief Starts streaming the clip. Does nothing when the clip is loaded
 * or a stream is already in flight.
 */
func (h *GlobalAnimationHeaderCAF) StartStreamingCAF(streamer Streamer) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	switch h.State() {
	case StateCreated, StateRequested, StateLoading:
		return nil
	}
	if !h.IsAssetOnDemand() {
		return errors.Wrap(ErrNotOnDemand, h.FilePath)
	}
	sc := &StreamContent{header: h, generation: h.generation.Load()}
	h.state.Store(int32(StateRequested))
	h.stream = sc
	request, err := streamer.StartStream(h.FilePath, sc)
	if err != nil {
		h.stream = nil
		h.fail(err)
		return errors.Wrapf(err, "stream %s", h.FilePath)
	}
	h.request = request
	core.Counters.StreamsStarted.Add(1)
	return nil
}

// completeStream runs when sc's OnComplete is delivered on the main thread.
func (h *GlobalAnimationHeaderCAF) completeStream(sc *StreamContent, err error) {
	if current, err := h.finishStream(sc, err); current {
		h.notify(err)
	}
}

// finishStream commits or drops the result of sc and reports whether the
// stream was still current.
func (h *GlobalAnimationHeaderCAF) finishStream(sc *StreamContent, err error) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if sc != h.stream || sc.generation != h.generation.Load() {
		h.freeResult(sc)
		core.Counters.StreamsDiscarded.Add(1)
		return false, nil
	}
	h.stream, h.request = nil, nil
	if err == nil && sc.result == nil {
		err = ErrStreamAborted
	}
	if err != nil {
		h.freeResult(sc)
		h.fail(err)
		return true, err
	}
	h.commit(sc.result)
	core.Counters.StreamsCompleted.Add(1)
	return true, nil
}

func (h *GlobalAnimationHeaderCAF) freeResult(sc *StreamContent) {
	if sc.result != nil && h.heap != nil && sc.result.handle.IsValid() {
		_ = h.heap.Free(sc.result.handle)
	}
	sc.result = nil
}

func (h *GlobalAnimationHeaderCAF) notify(err error) {
	if h.options.Listener != nil {
		h.options.Listener(h, err)
	}
}

func (h *GlobalAnimationHeaderCAF) abortLocked() {
	if h.request != nil {
		h.request.Abort()
	}
	h.stream, h.request = nil, nil
	h.generation.Add(1)
}

func (h *GlobalAnimationHeaderCAF) clearLocked() {
	old := h.content.Swap(emptySet)
	if h.heap != nil && old.handle.IsValid() {
		_ = h.heap.Free(old.handle)
	}
	h.setFlag(FlagAdditive, false)
	h.setFlag(FlagCycle, false)
}

/**
 * @brief Aborts any stream in flight, drops the controllers and frees
 * their heap block. A stream completing afterwards is discarded.
 */
func (h *GlobalAnimationHeaderCAF) ClearControllers() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.abortLocked()
	h.clearLocked()
	h.state.Store(int32(StateNotCreated))
}
