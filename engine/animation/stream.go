package animation

import (
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/memory"
)

// LoadOptions are the loading tunables a header is created with.
type LoadOptions struct {
	// files at least this large are streamed straight into a heap block
	MinInPlaceSize uint32
	// allow PQLog and TCB controller chunks
	LoadUncompressed bool
	// called on the main thread when a load succeeds or fails
	Listener func(header *GlobalAnimationHeaderCAF, err error)
}

/**
 * @brief Receives the callbacks of one stream request. OnNeedStorage and
 * OnAsyncComplete run on a streaming worker, OnComplete on the thread
 * that drains completions.
 */
type StreamSink interface {
	// OnNeedStorage may return a buffer of size bytes to read into. A nil
	// buffer lets the transport allocate one.
	OnNeedStorage(size uint64) []byte
	OnAsyncComplete(data []byte, err error)
	OnComplete(err error)
}

// StreamRequest is an in flight read.
type StreamRequest interface {
	Abort()
}

// Streamer starts asynchronous file reads.
type Streamer interface {
	StartStream(path string, sink StreamSink) (StreamRequest, error)
}

/**
 * @brief The sink of one CAF stream. It remembers the header generation it
 * was started for; a result of an older generation is discarded.
 */
type StreamContent struct {
	header     *GlobalAnimationHeaderCAF
	generation uint64
	handle     memory.Handle
	result     *controllerSet
	err        error
}

func (s *StreamContent) OnNeedStorage(size uint64) []byte {
	h := s.header
	if h.heap == nil || size == 0 || size < uint64(h.options.MinInPlaceSize) {
		return nil
	}
	// runs on a worker, compaction belongs to the main loop
	handle, err := h.heap.TryAllocPinned(size)
	if err != nil {
		core.LogDebug("no in-place block for %s (%d bytes): %v", h.FilePath, size, err)
		return nil
	}
	block, err := h.heap.WeakPin(handle)
	if err != nil {
		_ = h.heap.Free(handle)
		return nil
	}
	s.handle = handle
	return block[:size]
}

func (s *StreamContent) OnAsyncComplete(data []byte, err error) {
	h := s.header
	inPlace := s.handle
	s.handle = memory.InvalidHandle

	if err == nil && s.generation != h.generation.Load() {
		err = ErrStreamAborted
	}
	if err != nil {
		if inPlace.IsValid() {
			_ = h.heap.Free(inPlace)
		}
		s.err = err
		return
	}
	h.state.CompareAndSwap(int32(StateRequested), int32(StateLoading))
	core.Counters.BytesStreamed.Add(int64(len(data)))
	s.result, s.err = buildContent(data, h.heap, inPlace, h.options)
}

func (s *StreamContent) OnComplete(err error) {
	if err == nil {
		err = s.err
	}
	s.header.completeStream(s, err)
}
