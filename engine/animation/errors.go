package animation

import (
	"errors"
)

var (
	ErrConstantKeyTimes  = errors.New("key times are constant and cannot be reassigned")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrKeyCountMismatch  = errors.New("key count does not match track data")
	ErrShortBuffer       = errors.New("buffer too small for declared keys")
	ErrUnsortedKeyTimes  = errors.New("key times are not monotonically non-decreasing")

	ErrNotChunkFile        = errors.New("not a chunk file")
	ErrUnknownChunkVersion = errors.New("unknown chunk version")
	ErrForeignEndian       = errors.New("compressed controller stored in foreign endianness")
	ErrMixedControllers    = errors.New("file mixes compressed and uncompressed controllers")
	ErrCorruptChunk        = errors.New("corrupt chunk")

	ErrLegacyDisabled  = errors.New("loading of uncompressed controller chunks is disabled")
	ErrHeapExhausted   = errors.New("controller heap exhausted")
	ErrNotOnDemand     = errors.New("animation is not streamable on demand")
	ErrStreamAborted   = errors.New("stream aborted")
	ErrHeaderNotLoaded = errors.New("animation header has no controllers")
)

var fatalErrors = []error{
	ErrUnsupportedFormat,
	ErrKeyCountMismatch,
	ErrShortBuffer,
	ErrUnsortedKeyTimes,
	ErrNotChunkFile,
	ErrUnknownChunkVersion,
	ErrForeignEndian,
	ErrMixedControllers,
	ErrCorruptChunk,
}

// IsFatal reports whether err means the binary contract of an asset was
// violated. Such assets are never retried automatically.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, f := range fatalErrors {
		if errors.Is(err, f) {
			return true
		}
	}
	return false
}
