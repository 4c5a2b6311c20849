package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Alignment of every block offset and size in the heap.
const BlockAlignment uint64 = 16

var (
	ErrOutOfMemory   = errors.New("controller heap: out of memory")
	ErrInvalidHandle = errors.New("controller heap: invalid or stale handle")
	ErrNotPinned     = errors.New("controller heap: block is not pinned")
	ErrZeroSize      = errors.New("controller heap: zero sized allocation")
	ErrFragmented    = errors.New("controller heap: no hole large enough without compaction")
)

/**
 * @brief A relocatable allocation ticket. The zero value is invalid.
 * The bytes behind a handle may move during Compact; resolve the handle
 * again after any allocation, unpin or compaction.
 */
type Handle struct {
	index      uint32
	generation uint32
}

/** @brief The handle returned when an allocation fails. */
var InvalidHandle = Handle{}

// IsValid reports whether the handle was ever returned by an allocation.
// It does not say whether the block is still alive.
func (h Handle) IsValid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	if !h.IsValid() {
		return "heap:invalid"
	}
	return fmt.Sprintf("heap:%d#%d", h.index, h.generation)
}

// RelocateFunc is notified with the new and old offsets of a moved block.
type RelocateFunc func(dst, src uint64)

type block struct {
	offset     uint64
	size       uint64
	pins       int32
	generation uint32
	live       bool
	onMove     RelocateFunc
}

// HeapStats describes the heap occupancy.
type HeapStats struct {
	Capacity    uint64 `json:"capacity"`
	Used        uint64 `json:"used"`
	Top         uint64 `json:"top"`
	LargestHole uint64 `json:"largest_hole"`
	Blocks      int    `json:"blocks"`
	Pinned      int    `json:"pinned"`
	Moves       uint64 `json:"moves"`
	MovedBytes  uint64 `json:"moved_bytes"`
}

/**
 * @brief A fixed capacity arena that owns the raw payload of every loaded
 * animation clip. Blocks are handed out pinned. Unpinned blocks may be slid
 * towards the start of the arena by Compact to merge holes; pinned blocks
 * never move.
 */
type DefragHeap struct {
	mutex sync.RWMutex

	arena  []byte
	blocks []block
	// free slots in blocks, reused before growing
	freeSlots []uint32
	// live block indices sorted by offset
	order []uint32
	top   uint64
	used  uint64

	moves      uint64
	movedBytes uint64
}

type relocation struct {
	fn       RelocateFunc
	dst, src uint64
}

func NewDefragHeap(capacity uint64) (*DefragHeap, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("func NewDefragHeap - capacity must be > 0")
	}
	capacity = alignUp(capacity)
	return &DefragHeap{
		arena: make([]byte, capacity),
	}, nil
}

func alignUp(v uint64) uint64 {
	return (v + BlockAlignment - 1) &^ (BlockAlignment - 1)
}

/**
 * @brief Allocates size bytes. The returned block is pinned and must be
 * unpinned before it can take part in compaction. A full compaction runs
 * when no hole fits, so only the thread that owns compaction may call it.
 *
 * @param size The number of bytes required.
 * @return The handle, or InvalidHandle and ErrOutOfMemory when the block
 * does not fit even after a full compaction.
 */
func (h *DefragHeap) AllocPinned(size uint64) (Handle, error) {
	return h.alloc(size, true)
}

/**
 * @brief Allocates size bytes like AllocPinned but never moves other
 * blocks. Safe to call while controllers are being sampled.
 *
 * @return ErrFragmented when enough bytes are free but no single hole fits,
 * ErrOutOfMemory when the free bytes are not enough.
 */
func (h *DefragHeap) TryAllocPinned(size uint64) (Handle, error) {
	return h.alloc(size, false)
}

func (h *DefragHeap) alloc(size uint64, allowCompact bool) (Handle, error) {
	if size == 0 {
		return InvalidHandle, ErrZeroSize
	}
	size = alignUp(size)

	h.mutex.Lock()
	offset, ok := h.findSpace(size)
	fits := h.capacity()-h.used >= size
	var moved []relocation
	if !ok && fits && allowCompact {
		moved = h.compact(0)
		offset, ok = h.findSpace(size)
	}
	if !ok {
		h.mutex.Unlock()
		notify(moved)
		if fits && !allowCompact {
			return InvalidHandle, ErrFragmented
		}
		return InvalidHandle, ErrOutOfMemory
	}

	handle := h.insert(offset, size)
	h.mutex.Unlock()
	notify(moved)
	return handle, nil
}

func (h *DefragHeap) capacity() uint64 {
	return uint64(len(h.arena))
}

// findSpace looks for the first hole that fits, then the space above top.
func (h *DefragHeap) findSpace(size uint64) (uint64, bool) {
	cursor := uint64(0)
	for _, idx := range h.order {
		b := &h.blocks[idx]
		if b.offset-cursor >= size {
			return cursor, true
		}
		cursor = b.offset + b.size
	}
	if h.capacity()-cursor >= size {
		return cursor, true
	}
	return 0, false
}

func (h *DefragHeap) insert(offset, size uint64) Handle {
	var idx uint32
	if n := len(h.freeSlots); n > 0 {
		idx = h.freeSlots[n-1]
		h.freeSlots = h.freeSlots[:n-1]
	} else {
		h.blocks = append(h.blocks, block{})
		idx = uint32(len(h.blocks) - 1)
	}
	b := &h.blocks[idx]
	b.generation++
	b.offset = offset
	b.size = size
	b.pins = 1
	b.live = true
	b.onMove = nil

	pos := sort.Search(len(h.order), func(i int) bool {
		return h.blocks[h.order[i]].offset >= offset
	})
	h.order = append(h.order, 0)
	copy(h.order[pos+1:], h.order[pos:])
	h.order[pos] = idx

	h.used += size
	if end := offset + size; end > h.top {
		h.top = end
	}
	clear(h.arena[offset : offset+size])
	return Handle{index: idx, generation: b.generation}
}

func (h *DefragHeap) lookup(handle Handle) (*block, error) {
	if !handle.IsValid() || int(handle.index) >= len(h.blocks) {
		return nil, ErrInvalidHandle
	}
	b := &h.blocks[handle.index]
	if !b.live || b.generation != handle.generation {
		return nil, ErrInvalidHandle
	}
	return b, nil
}

// Pin prevents the block from moving and returns its bytes.
func (h *DefragHeap) Pin(handle Handle) ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	b, err := h.lookup(handle)
	if err != nil {
		return nil, err
	}
	b.pins++
	return h.arena[b.offset : b.offset+b.size : b.offset+b.size], nil
}

/**
 * @brief Returns the current bytes of the block without pinning it. The
 * slice is only valid until the next Unpin, allocation or compaction.
 */
func (h *DefragHeap) WeakPin(handle Handle) ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, err := h.lookup(handle)
	if err != nil {
		return nil, err
	}
	return h.arena[b.offset : b.offset+b.size : b.offset+b.size], nil
}

// Unpin releases one pin. Blocks without pins can be moved by Compact.
func (h *DefragHeap) Unpin(handle Handle) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	b, err := h.lookup(handle)
	if err != nil {
		return err
	}
	if b.pins == 0 {
		return ErrNotPinned
	}
	b.pins--
	return nil
}

// IsPinned reports whether the block currently holds at least one pin.
func (h *DefragHeap) IsPinned(handle Handle) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, err := h.lookup(handle)
	return err == nil && b.pins > 0
}

// Free releases the block regardless of its pins. The handle becomes stale.
func (h *DefragHeap) Free(handle Handle) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	b, err := h.lookup(handle)
	if err != nil {
		return err
	}
	for i, idx := range h.order {
		if idx == handle.index {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.used -= b.size
	b.live = false
	b.pins = 0
	b.onMove = nil
	h.freeSlots = append(h.freeSlots, handle.index)

	h.top = 0
	if n := len(h.order); n > 0 {
		last := &h.blocks[h.order[n-1]]
		h.top = last.offset + last.size
	}
	return nil
}

// ChangeContext replaces the move listener of a block. A nil listener removes it.
// Handles stay valid across moves, so listeners only observe relocations.
func (h *DefragHeap) ChangeContext(handle Handle, onMove RelocateFunc) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	b, err := h.lookup(handle)
	if err != nil {
		return err
	}
	b.onMove = onMove
	return nil
}

// Offset returns the current arena offset of the block.
func (h *DefragHeap) Offset(handle Handle) (uint64, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, err := h.lookup(handle)
	if err != nil {
		return 0, err
	}
	return b.offset, nil
}

/**
 * @brief Slides unpinned blocks towards the start of the arena, in offset
 * order, until budget bytes have been moved. A budget of 0 compacts
 * everything. Each moved block's listener is called exactly once with the
 * new and old offsets, after the heap lock is released.
 *
 * @return The number of blocks moved.
 */
func (h *DefragHeap) Compact(budget uint64) int {
	h.mutex.Lock()
	moved := h.compact(budget)
	h.mutex.Unlock()
	notify(moved)
	return len(moved)
}

func (h *DefragHeap) compact(budget uint64) []relocation {
	var moved []relocation
	var movedBytes uint64
	cursor := uint64(0)
	for _, idx := range h.order {
		b := &h.blocks[idx]
		if b.pins > 0 || b.offset == cursor {
			cursor = b.offset + b.size
			continue
		}
		if budget > 0 && movedBytes+b.size > budget {
			break
		}
		src := b.offset
		copy(h.arena[cursor:cursor+b.size], h.arena[src:src+b.size])
		b.offset = cursor
		movedBytes += b.size
		h.moves++
		h.movedBytes += b.size
		moved = append(moved, relocation{fn: b.onMove, dst: cursor, src: src})
		cursor += b.size
	}
	// order stays sorted: every block only moved into the hole directly below it
	h.top = 0
	if n := len(h.order); n > 0 {
		last := &h.blocks[h.order[n-1]]
		h.top = last.offset + last.size
	}
	return moved
}

func notify(moved []relocation) {
	for _, m := range moved {
		if m.fn != nil {
			m.fn(m.dst, m.src)
		}
	}
}

func (h *DefragHeap) Stats() HeapStats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	stats := HeapStats{
		Capacity:   h.capacity(),
		Used:       h.used,
		Top:        h.top,
		Blocks:     len(h.order),
		Moves:      h.moves,
		MovedBytes: h.movedBytes,
	}
	cursor := uint64(0)
	for _, idx := range h.order {
		b := &h.blocks[idx]
		if b.pins > 0 {
			stats.Pinned++
		}
		if hole := b.offset - cursor; hole > stats.LargestHole {
			stats.LargestHole = hole
		}
		cursor = b.offset + b.size
	}
	if hole := h.capacity() - cursor; hole > stats.LargestHole {
		stats.LargestHole = hole
	}
	return stats
}
