package animation

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/memory"
)

// KeyTimeRate is the number of key time units per second.
const KeyTimeRate float32 = 30

// placer decides where decoded track payloads live.
type placer struct {
	heap    *memory.DefragHeap
	handle  memory.Handle
	inPlace bool
	block   []byte
	cursor  uint64
}

// place returns a reference to src. fileOffset is the position of src in
// the file, used when the whole file already sits in the heap block.
func (p *placer) place(src []byte, fileOffset int) dataRef {
	switch {
	case p.heap == nil:
		owned := make([]byte, len(src))
		copy(owned, src)
		return ownedRef(owned)
	case p.inPlace:
		return heapRef(p.heap, p.handle, uint64(fileOffset), uint64(len(src)))
	}
	offset := p.cursor
	copy(p.block[offset:], src)
	p.cursor += uint64(align4(len(src)))
	return heapRef(p.heap, p.handle, offset, uint64(len(src)))
}

// controllerSet is everything a commit publishes at once. controllers and
// ids always have the same length and are sorted by id.
type controllerSet struct {
	controllers []Controller
	ids         []uint32
	handle      memory.Handle
	motion      *MotionParams
	startSec    float32
	endSec      float32
	segments    []float32
	flags       uint32
}

var emptySet = &controllerSet{}

func (s *controllerSet) find(id uint32) Controller {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return s.controllers[i]
	}
	return nil
}

// contentPlan is the result of checking the chunk table before decoding.
type contentPlan struct {
	file        *ChunkFile
	motion      *MotionParams
	controllers []ChunkDesc
	layouts     []*compressedLayout
	compressed  bool
	storage     uint64
}

/**
 * @brief Validates the chunk table and sizes the heap storage. Compressed
 * and uncompressed controllers must not be mixed.
 */
func planContent(data []byte, opts LoadOptions) (*contentPlan, error) {
	file, err := ReadChunkFile(data)
	if err != nil {
		return nil, err
	}
	plan := &contentPlan{file: file}
	legacy := 0
	for _, c := range file.Chunks {
		switch c.Type {
		case ChunkTypeMotionParameters:
			if plan.motion, err = decodeMotionParams(c, file.ChunkData(c)); err != nil {
				return nil, err
			}
		case ChunkTypeController:
			switch c.Version {
			case ControllerVersionCompressed, ControllerVersionCompressedScale:
				l, err := parseCompressedLayout(c, file.ChunkData(c))
				if err != nil {
					return nil, err
				}
				plan.layouts = append(plan.layouts, l)
				plan.storage += uint64(l.storageSize())
				plan.compressed = true
			case ControllerVersionPQLog, ControllerVersionTCB:
				legacy++
			default:
				return nil, errors.Wrapf(ErrUnknownChunkVersion, "controller chunk %d version %#x", c.ID, c.Version)
			}
			plan.controllers = append(plan.controllers, c)
		}
	}
	if plan.compressed && legacy > 0 {
		return nil, errors.Wrapf(ErrMixedControllers, "%d compressed, %d uncompressed", len(plan.layouts), legacy)
	}
	if legacy > 0 && !opts.LoadUncompressed {
		return nil, ErrLegacyDisabled
	}
	return plan, nil
}

func (p *contentPlan) ticksPerFrame() float32 {
	if p.motion == nil || p.motion.TicksPerFrame <= 0 {
		return 1
	}
	return float32(p.motion.TicksPerFrame)
}

/**
 * @brief Decodes every controller of data into a new set.
 *
 * inPlace, when valid, is a pinned heap block holding data itself; track
 * payloads then reference the file bytes directly. Otherwise compressed
 * payloads are copied into a fresh block of heap, or into owned buffers
 * when heap is nil or has no hole large enough. The heap is never
 * compacted here. The block is unpinned on success and freed on failure.
 */
func buildContent(data []byte, heap *memory.DefragHeap, inPlace memory.Handle, opts LoadOptions) (set *controllerSet, err error) {
	p := &placer{heap: heap, handle: inPlace, inPlace: inPlace.IsValid()}
	defer func() {
		if heap == nil || !p.handle.IsValid() {
			return
		}
		if err != nil {
			_ = heap.Free(p.handle)
			return
		}
		_ = heap.Unpin(p.handle)
	}()

	plan, err := planContent(data, opts)
	if err != nil {
		return nil, err
	}
	if heap != nil && !plan.compressed && p.inPlace {
		// legacy controllers keep decoded arrays, the file bytes are not referenced
		_ = heap.Free(p.handle)
		p.handle, p.inPlace = memory.InvalidHandle, false
	}
	if heap != nil && plan.compressed && !p.inPlace && plan.storage > 0 {
		p.handle, err = heap.TryAllocPinned(plan.storage)
		switch {
		case errors.Is(err, memory.ErrFragmented):
			// no hole until the next compaction, keep the tracks in owned buffers
			core.LogDebug("heap fragmented, %d bytes of track data kept outside the heap", plan.storage)
			p.heap, p.handle, err = nil, memory.InvalidHandle, nil
		case err != nil:
			return nil, errors.Wrapf(ErrHeapExhausted, "%d bytes of track data: %v", plan.storage, err)
		default:
			if p.block, err = heap.WeakPin(p.handle); err != nil {
				return nil, err
			}
		}
	}

	set = &controllerSet{motion: plan.motion, handle: p.handle}
	tpf := plan.ticksPerFrame()
	li := 0
	for _, c := range plan.controllers {
		var ctrl Controller
		switch c.Version {
		case ControllerVersionCompressed, ControllerVersionCompressedScale:
			ctrl, err = decodeCompressed(c, plan.file.ChunkData(c), plan.layouts[li], p)
			li++
		case ControllerVersionPQLog:
			ctrl, err = decodePQLog(c, plan.file.ChunkData(c), tpf)
		case ControllerVersionTCB:
			ctrl, err = decodeTCB(c, plan.file.ChunkData(c), tpf)
		}
		if err != nil {
			return nil, err
		}
		set.controllers = append(set.controllers, ctrl)
	}

	sort.SliceStable(set.controllers, func(i, j int) bool {
		return set.controllers[i].ID() < set.controllers[j].ID()
	})
	unique := set.controllers[:0]
	for _, ctrl := range set.controllers {
		if n := len(unique); n > 0 && unique[n-1].ID() == ctrl.ID() {
			core.LogWarn("duplicate controller %#08x, keeping the first", ctrl.ID())
			continue
		}
		unique = append(unique, ctrl)
	}
	set.controllers = unique
	set.ids = make([]uint32, len(unique))
	for i, ctrl := range unique {
		set.ids[i] = ctrl.ID()
	}
	set.clipRange()
	return set, nil
}

type keyTimeRanger interface {
	keyTimeRange() (float32, float32, bool)
}

// clipRange fills the time range, segments and flags.
func (s *controllerSet) clipRange() {
	if m := s.motion; m != nil {
		s.startSec = m.StartSec()
		s.endSec = m.EndSec()
		s.segments = append([]float32(nil), m.Segments...)
		s.flags = m.AssetFlags
		return
	}
	found := false
	for _, ctrl := range s.controllers {
		r, ok := ctrl.(keyTimeRanger)
		if !ok {
			continue
		}
		lo, hi, ok := r.keyTimeRange()
		if !ok {
			continue
		}
		if !found || lo/KeyTimeRate < s.startSec {
			s.startSec = lo / KeyTimeRate
		}
		if !found || hi/KeyTimeRate > s.endSec {
			s.endSec = hi / KeyTimeRate
		}
		found = true
	}
}
