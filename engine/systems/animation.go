package systems

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/memory"
	"github.com/spaghettifunk/anima-caf/engine/resources"
)

var ErrAnimationLimit = errors.New("animation system cannot hold any more animations")

/** @brief The configuration for the animation system */
type AnimationSystemConfig struct {
	/** @brief The maximum number of clips registered at once. */
	MaxAnimationCount uint32
	/** @brief Capacity of the controller heap in bytes. */
	HeapSize uint64
	/** @brief Bytes the heap may move per Update. 0 compacts fully. */
	DefragBudget uint64
	/** @brief Streams at least this large decode straight into a heap block. */
	MinInPlaceCAFStreamSize uint32
	/** @brief Stream clips asynchronously instead of loading them on acquire. */
	StreamCAF bool
	/** @brief Accept PQLog and TCB controller chunks. */
	LoadUncompressedChunks bool
	/** @brief Log every acquire and release. */
	DebugAnimUsage bool
	/** @brief Reload clips when their files change. */
	HotReload bool
}

// AnimationInfo is a summary of one registered clip.
type AnimationInfo struct {
	ID          uint32  `json:"id"`
	Path        string  `json:"path"`
	PathCRC32   uint32  `json:"path_crc32"`
	State       string  `json:"state"`
	RefCount    int32   `json:"ref_count"`
	Controllers int     `json:"controllers"`
	StartSec    float32 `json:"start_sec"`
	EndSec      float32 `json:"end_sec"`
	Segments    int     `json:"segments"`
	Additive    bool    `json:"additive"`
	Cycle       bool    `json:"cycle"`
	OnDemand    bool    `json:"on_demand"`
	Size        int     `json:"size"`
}

type registeredAnimation struct {
	id     uint32
	header *animation.GlobalAnimationHeaderCAF
}

/**
 * @brief Owns every GlobalAnimationHeaderCAF of the process, keyed by the
 * CRC32 of the lower-cased path, together with the controller heap the
 * clips decode into. Acquire/Release count references; the last release
 * drops the controllers. Update must be called once a frame on the thread
 * that samples poses.
 */
type AnimationSystem struct {
	Config       AnimationSystemConfig
	heap         *memory.DefragHeap
	streamer     animation.Streamer
	drainer      interface{ Update() int }
	assetManager *assets.AssetManager

	mutex    sync.RWMutex
	registry map[uint32]*registeredAnimation
	byID     map[uint32]*registeredAnimation

	reloadMutex    sync.Mutex
	pendingReloads map[string]struct{}
}

func NewAnimationSystem(config AnimationSystemConfig, assetManager *assets.AssetManager, streamer *StreamEngine) (*AnimationSystem, error) {
	if config.MaxAnimationCount == 0 {
		err := fmt.Errorf("func NewAnimationSystem - config.MaxAnimationCount must be greater than 0")
		core.LogError(err.Error())
		return nil, err
	}
	heap, err := memory.NewDefragHeap(config.HeapSize)
	if err != nil {
		core.LogError("func NewAnimationSystem - failed to create the controller heap: %v", err)
		return nil, err
	}
	as := &AnimationSystem{
		Config:         config,
		heap:           heap,
		assetManager:   assetManager,
		registry:       make(map[uint32]*registeredAnimation),
		byID:           make(map[uint32]*registeredAnimation),
		pendingReloads: make(map[string]struct{}),
	}
	if streamer != nil {
		as.streamer = streamer
		as.drainer = streamer
	}
	return as, nil
}

// Initialize hooks the system up to the event bus.
func (as *AnimationSystem) Initialize() error {
	if as.Config.HotReload {
		if !core.EventRegister(core.EVENT_CODE_ANIMATION_FILE_CHANGED, as, as.onFileChanged) {
			return fmt.Errorf("animation system failed to listen for file changes")
		}
	}
	core.LogInfo("animation system initialized (heap=%d bytes, stream=%v, legacy=%v)",
		as.Config.HeapSize, as.Config.StreamCAF, as.Config.LoadUncompressedChunks)
	return nil
}

func (as *AnimationSystem) Heap() *memory.DefragHeap {
	return as.heap
}

func (as *AnimationSystem) loadOptions() animation.LoadOptions {
	return animation.LoadOptions{
		MinInPlaceSize:   as.Config.MinInPlaceCAFStreamSize,
		LoadUncompressed: as.Config.LoadUncompressedChunks,
		Listener:         as.onHeaderLoaded,
	}
}

// register returns the entry for path, creating it on first use, with one more reference.
func (as *AnimationSystem) register(path string, onDemand bool) (*registeredAnimation, bool, error) {
	crc := animation.PathCRC32(path)

	as.mutex.Lock()
	defer as.mutex.Unlock()

	if ra, ok := as.registry[crc]; ok {
		if ra.header.FilePath != path {
			core.LogWarn("animation path %s collides with %s (crc %#08x)", path, ra.header.FilePath, crc)
		}
		ra.header.AddRef()
		return ra, false, nil
	}
	if uint32(len(as.registry)) >= as.Config.MaxAnimationCount {
		core.LogError("animation system cannot hold anymore animations. Adjust configuration to allow more.")
		return nil, false, ErrAnimationLimit
	}

	h := animation.NewGlobalAnimationHeaderCAF(path, as.heap, as.loadOptions())
	h.SetOnDemand(onDemand)
	ra := &registeredAnimation{header: h}
	ra.id = core.IdentifierAquireNewID(h)
	h.AddRef()
	as.registry[crc] = ra
	as.byID[ra.id] = ra
	return ra, true, nil
}

/**
 * @brief Returns the header of the clip at path with one more reference.
 * A new clip starts streaming, or is loaded right away when streaming is
 * disabled. A clip that fails to load stays registered as not found until
 * its last reference is released.
 */
func (as *AnimationSystem) Acquire(path string) (*animation.GlobalAnimationHeaderCAF, uint32, error) {
	return as.acquire(assets.NormalizePath(path), as.Config.StreamCAF, true)
}

// AcquireOnDemand registers the clip without loading it. StartStreaming loads it later.
func (as *AnimationSystem) AcquireOnDemand(path string) (*animation.GlobalAnimationHeaderCAF, uint32, error) {
	return as.acquire(assets.NormalizePath(path), true, false)
}

func (as *AnimationSystem) acquire(path string, onDemand, load bool) (*animation.GlobalAnimationHeaderCAF, uint32, error) {
	ra, created, err := as.register(path, onDemand)
	if err != nil {
		return nil, 0, err
	}
	h := ra.header
	if as.Config.DebugAnimUsage {
		core.LogDebug("acquire animation %s (id=%d refs=%d)", path, ra.id, h.RefCount())
	}
	if !created || !load {
		return h, ra.id, nil
	}
	if onDemand {
		err = as.StartStreaming(h)
	} else {
		err = as.loadNow(h)
	}
	return h, ra.id, err
}

func (as *AnimationSystem) loadNow(h *animation.GlobalAnimationHeaderCAF) error {
	res, err := as.assetManager.LoadAsset(h.FilePath, resources.ResourceTypeAnimation, nil)
	if err != nil {
		h.LoadFailed(err)
		return err
	}
	return h.LoadCAF(res.Data.([]byte))
}

// StartStreaming requests the controllers of an on-demand clip.
func (as *AnimationSystem) StartStreaming(h *animation.GlobalAnimationHeaderCAF) error {
	if as.streamer == nil {
		return fmt.Errorf("animation system has no streamer: %w", core.ErrNotInitialized)
	}
	return h.StartStreamingCAF(as.streamer)
}

/**
 * @brief Drops one reference. The last one clears the controllers, frees
 * their heap block and unregisters the clip.
 */
func (as *AnimationSystem) Release(h *animation.GlobalAnimationHeaderCAF) {
	if h == nil {
		return
	}
	crc := h.FilePathCRC32

	as.mutex.Lock()
	ra, ok := as.registry[crc]
	if !ok || ra.header != h {
		as.mutex.Unlock()
		core.LogWarn("tried to release unregistered animation %s", h.FilePath)
		return
	}
	refs := h.Release()
	if as.Config.DebugAnimUsage {
		core.LogDebug("release animation %s (id=%d refs=%d)", h.FilePath, ra.id, refs)
	}
	if refs > 0 {
		as.mutex.Unlock()
		return
	}
	delete(as.registry, crc)
	delete(as.byID, ra.id)
	as.mutex.Unlock()

	h.ClearControllers()
	if err := core.IdentifierReleaseID(ra.id); err != nil {
		core.LogWarn("failed to release animation id %d: %v", ra.id, err)
	}

	var ctx core.EventContext
	ctx.Data.U32[0] = crc
	ctx.Data.C[0] = h.FilePath
	core.EventFire(core.EVENT_CODE_ANIMATION_UNLOADED, as, ctx)
}

// Get returns the registered header for path without taking a reference.
func (as *AnimationSystem) Get(path string) (*animation.GlobalAnimationHeaderCAF, bool) {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	ra, ok := as.registry[animation.PathCRC32(assets.NormalizePath(path))]
	if !ok {
		return nil, false
	}
	return ra.header, true
}

// GetByID returns the header registered under a global id.
func (as *AnimationSystem) GetByID(id uint32) (*animation.GlobalAnimationHeaderCAF, bool) {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	ra, ok := as.byID[id]
	if !ok {
		return nil, false
	}
	return ra.header, true
}

func (as *AnimationSystem) idOf(h *animation.GlobalAnimationHeaderCAF) uint32 {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	if ra, ok := as.registry[h.FilePathCRC32]; ok && ra.header == h {
		return ra.id
	}
	return core.InvalidID
}

func (as *AnimationSystem) Count() int {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	return len(as.registry)
}

func (ra *registeredAnimation) info() AnimationInfo {
	h := ra.header
	return AnimationInfo{
		ID:          ra.id,
		Path:        h.FilePath,
		PathCRC32:   h.FilePathCRC32,
		State:       h.State().String(),
		RefCount:    h.RefCount(),
		Controllers: h.ControllersCount(),
		StartSec:    h.StartSec(),
		EndSec:      h.EndSec(),
		Segments:    h.SegmentCount(),
		Additive:    h.IsAdditive(),
		Cycle:       h.IsCycle(),
		OnDemand:    h.IsAssetOnDemand(),
		Size:        h.ApproximateSizeOfThis(),
	}
}

// Info summarizes the clip registered under id.
func (as *AnimationSystem) Info(id uint32) (AnimationInfo, bool) {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	ra, ok := as.byID[id]
	if !ok {
		return AnimationInfo{}, false
	}
	return ra.info(), true
}

// Animations summarizes every registered clip, sorted by path.
func (as *AnimationSystem) Animations() []AnimationInfo {
	as.mutex.RLock()
	out := make([]AnimationInfo, 0, len(as.registry))
	for _, ra := range as.registry {
		out = append(out, ra.info())
	}
	as.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

/**
 * @brief Runs once a frame: delivers finished streams, applies pending hot
 * reloads and spends the defragmentation budget on the heap.
 */
func (as *AnimationSystem) Update(deltaTime float64) error {
	if as.drainer != nil {
		as.drainer.Update()
	}
	as.applyReloads()

	// each committed clip counts its own relocations in core.Counters
	if moved := as.heap.Compact(as.Config.DefragBudget); moved > 0 {
		stats := as.heap.Stats()
		var ctx core.EventContext
		ctx.Data.U64[0] = stats.MovedBytes
		ctx.Data.U32[0] = uint32(moved)
		core.EventFire(core.EVENT_CODE_HEAP_DEFRAGMENTED, as, ctx)
	}
	return nil
}

// Reload decodes the clip at path again, keeping the old controllers until the new ones are ready.
func (as *AnimationSystem) Reload(path string) error {
	h, ok := as.Get(path)
	if !ok {
		return nil
	}
	switch h.State() {
	case animation.StateNotCreated:
		// never requested, nothing to refresh
		return nil
	case animation.StateRequested, animation.StateLoading:
		h.ClearControllers()
		return as.StartStreaming(h)
	}
	core.LogInfo("reloading animation %s", h.FilePath)
	return as.loadNow(h)
}

func (as *AnimationSystem) onFileChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	// runs on the watcher goroutine; the reload happens in Update
	as.reloadMutex.Lock()
	as.pendingReloads[data.Data.C[0]] = struct{}{}
	as.reloadMutex.Unlock()
	return false
}

func (as *AnimationSystem) applyReloads() {
	as.reloadMutex.Lock()
	if len(as.pendingReloads) == 0 {
		as.reloadMutex.Unlock()
		return
	}
	paths := make([]string, 0, len(as.pendingReloads))
	for p := range as.pendingReloads {
		paths = append(paths, p)
	}
	as.pendingReloads = make(map[string]struct{})
	as.reloadMutex.Unlock()

	sort.Strings(paths)
	for _, p := range paths {
		if err := as.Reload(p); err != nil {
			core.LogWarn("hot reload of %s failed: %v", p, err)
		}
	}
}

// onHeaderLoaded is the listener of every header; it runs on the main thread.
func (as *AnimationSystem) onHeaderLoaded(h *animation.GlobalAnimationHeaderCAF, err error) {
	if err != nil {
		as.reportFailure(h, err)
		return
	}
	var ctx core.EventContext
	ctx.Data.U32[0] = h.FilePathCRC32
	ctx.Data.U32[1] = as.idOf(h)
	ctx.Data.U32[2] = uint32(h.ControllersCount())
	ctx.Data.C[0] = h.FilePath
	core.LogDebug("animation %s loaded with %d controllers", h.FilePath, h.ControllersCount())
	core.EventFire(core.EVENT_CODE_ANIMATION_LOADED, as, ctx)
}

func (as *AnimationSystem) reportFailure(h *animation.GlobalAnimationHeaderCAF, err error) {
	var ctx core.EventContext
	ctx.Data.U32[0] = h.FilePathCRC32
	ctx.Data.C[0] = h.FilePath
	ctx.Data.C[1] = err.Error()
	core.EventFire(core.EVENT_CODE_ANIMATION_LOAD_FAILED, as, ctx)
}

/**
 * @brief Clears every clip and frees the heap. Streams still in flight are
 * discarded when they complete.
 */
func (as *AnimationSystem) Shutdown() error {
	if as.Config.HotReload {
		core.EventUnregister(core.EVENT_CODE_ANIMATION_FILE_CHANGED, as)
	}

	as.mutex.Lock()
	registered := as.registry
	as.registry = make(map[uint32]*registeredAnimation)
	as.byID = make(map[uint32]*registeredAnimation)
	as.mutex.Unlock()

	for _, ra := range registered {
		ra.header.ClearControllers()
		_ = core.IdentifierReleaseID(ra.id)
	}
	core.LogInfo("animation system shut down, %d clips released", len(registered))
	return nil
}
