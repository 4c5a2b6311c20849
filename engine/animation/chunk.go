package animation

import (
	"bytes"
	"encoding/binary"
	m "math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

const (
	ChunkFileSignature        = "CryTek\x00\x00"
	ChunkFileType      uint32 = 0xFFFF0001
	ChunkFileVersion   uint32 = 0x0746

	ChunkTypeController       uint16 = 0x100D
	ChunkTypeMotionParameters uint16 = 0x1024

	ControllerVersionTCB             uint16 = 0x0826
	ControllerVersionPQLog           uint16 = 0x0827
	ControllerVersionCompressed      uint16 = 0x0831
	ControllerVersionCompressedScale uint16 = 0x0832
	MotionParametersVersion          uint16 = 0x0925

	// set in a chunk's version when its payload is big-endian
	chunkBigEndianFlag uint16 = 0x8000

	chunkFileHeaderSize  = 20
	chunkTableEntrySize  = 16
	compressedHeaderSize = 16
	compressedScaleSize  = 20
	pqlogKeySize         = 28
	tcb3KeySize          = 36
	tcbqKeySize          = 40
	motionParamsSize     = 68

	// MaxSegments is the size of the segment table in motion parameters.
	MaxSegments = 5
)

// Motion asset flags.
const (
	MotionAdditive uint32 = 0x001
	MotionCycle    uint32 = 0x002
)

// ChunkDesc is one entry of the chunk table.
type ChunkDesc struct {
	Type      uint16
	Version   uint16
	BigEndian bool
	ID        uint32
	Size      uint32
	Offset    uint32
}

// ChunkFile is a parsed chunk table over the file bytes.
type ChunkFile struct {
	data   []byte
	Chunks []ChunkDesc
}

/**
 * @brief Parses the file header and chunk table. Chunk payloads are not
 * touched, only checked to lie inside data.
 */
func ReadChunkFile(data []byte) (*ChunkFile, error) {
	if len(data) < chunkFileHeaderSize || !bytes.Equal(data[:8], []byte(ChunkFileSignature)) {
		return nil, errors.Wrap(ErrNotChunkFile, "missing signature")
	}
	le := binary.LittleEndian
	if ft := le.Uint32(data[8:]); ft != ChunkFileType {
		return nil, errors.Wrapf(ErrNotChunkFile, "file type %#x", ft)
	}
	if v := le.Uint32(data[12:]); v != ChunkFileVersion {
		return nil, errors.Wrapf(ErrUnknownChunkVersion, "chunk file version %#x", v)
	}
	tableOffset := uint64(le.Uint32(data[16:]))
	if tableOffset+4 > uint64(len(data)) {
		return nil, errors.Wrapf(ErrCorruptChunk, "chunk table offset %d past end of file", tableOffset)
	}
	count := uint64(le.Uint32(data[tableOffset:]))
	if tableOffset+4+count*chunkTableEntrySize > uint64(len(data)) {
		return nil, errors.Wrapf(ErrCorruptChunk, "chunk table of %d entries past end of file", count)
	}

	file := &ChunkFile{data: data, Chunks: make([]ChunkDesc, 0, count)}
	for i := uint64(0); i < count; i++ {
		e := data[tableOffset+4+i*chunkTableEntrySize:]
		version := le.Uint16(e[2:])
		c := ChunkDesc{
			Type:      le.Uint16(e[0:]),
			Version:   version &^ chunkBigEndianFlag,
			BigEndian: version&chunkBigEndianFlag != 0,
			ID:        le.Uint32(e[4:]),
			Size:      le.Uint32(e[8:]),
			Offset:    le.Uint32(e[12:]),
		}
		if uint64(c.Offset)+uint64(c.Size) > uint64(len(data)) {
			return nil, errors.Wrapf(ErrCorruptChunk, "chunk %d (type %#x) past end of file", c.ID, c.Type)
		}
		file.Chunks = append(file.Chunks, c)
	}
	return file, nil
}

// ChunkData returns the payload bytes of c.
func (f *ChunkFile) ChunkData(c ChunkDesc) []byte {
	return f.data[c.Offset : c.Offset+c.Size]
}

// MotionParams are the clip wide timing and locomotion values.
type MotionParams struct {
	AssetFlags    uint32    `json:"asset_flags"`
	Compression   uint32    `json:"compression"`
	TicksPerFrame int32     `json:"ticks_per_frame"`
	SecsPerTick   float32   `json:"secs_per_tick"`
	Start         int32     `json:"start"`
	End           int32     `json:"end"`
	MoveSpeed     float32   `json:"move_speed"`
	TurnSpeed     float32   `json:"turn_speed"`
	AssetTurn     float32   `json:"asset_turn"`
	Distance      float32   `json:"distance"`
	Slope         float32   `json:"slope"`
	Segments      []float32 `json:"segments"`
}

// secsPerTick falls back to one tick per frame step when the exporter left it unset.
func (p *MotionParams) secsPerTick() float32 {
	if p.SecsPerTick > 0 {
		return p.SecsPerTick
	}
	tpf := float32(p.TicksPerFrame)
	if tpf <= 0 {
		tpf = 1
	}
	return 1 / (KeyTimeRate * tpf)
}

// StartSec and EndSec convert the tick range to seconds.
func (p *MotionParams) StartSec() float32 {
	return float32(p.Start) * p.secsPerTick()
}

func (p *MotionParams) EndSec() float32 {
	return float32(p.End) * p.secsPerTick()
}

func byteOrder(c ChunkDesc) binary.ByteOrder {
	if c.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func readF32(order binary.ByteOrder, b []byte) float32 {
	return m.Float32frombits(order.Uint32(b))
}

func readVec3Order(order binary.ByteOrder, b []byte) math.Vec3 {
	return math.Vec3{X: readF32(order, b[0:]), Y: readF32(order, b[4:]), Z: readF32(order, b[8:])}
}

func decodeMotionParams(c ChunkDesc, data []byte) (*MotionParams, error) {
	if c.Version != MotionParametersVersion {
		return nil, errors.Wrapf(ErrUnknownChunkVersion, "motion parameters version %#x", c.Version)
	}
	if len(data) < motionParamsSize {
		return nil, errors.Wrapf(ErrCorruptChunk, "motion parameters chunk of %d bytes", len(data))
	}
	o := byteOrder(c)
	p := &MotionParams{
		AssetFlags:    o.Uint32(data[0:]),
		Compression:   o.Uint32(data[4:]),
		TicksPerFrame: int32(o.Uint32(data[8:])),
		SecsPerTick:   readF32(o, data[12:]),
		Start:         int32(o.Uint32(data[16:])),
		End:           int32(o.Uint32(data[20:])),
		MoveSpeed:     readF32(o, data[24:]),
		TurnSpeed:     readF32(o, data[28:]),
		AssetTurn:     readF32(o, data[32:]),
		Distance:      readF32(o, data[36:]),
		Slope:         readF32(o, data[40:]),
	}
	segments := o.Uint32(data[44:])
	if segments > MaxSegments {
		return nil, errors.Wrapf(ErrCorruptChunk, "%d segments, at most %d supported", segments, MaxSegments)
	}
	for i := uint32(0); i < segments; i++ {
		p.Segments = append(p.Segments, readF32(o, data[48+4*i:]))
	}
	if p.End < p.Start {
		return nil, errors.Wrapf(ErrCorruptChunk, "motion end %d before start %d", p.End, p.Start)
	}
	return p, nil
}

// compressedHeader is the fixed part of a 0x0831 or 0x0832 controller chunk.
type compressedHeader struct {
	ControllerID    uint32
	Flags           uint16
	NumRotKeys      uint16
	NumPosKeys      uint16
	RotFormat       CompressionFormat
	RotTimeFormat   KeyTimesFormat
	PosFormat       CompressionFormat
	PosKeysInfo     uint8
	PosTimeFormat   KeyTimesFormat
	TracksAligned   uint8
	NumScaleKeys    uint16
	ScaleFormat     CompressionFormat
	ScaleTimeFormat KeyTimesFormat
}

// PosKeysInfo value meaning positions reuse the rotation key times.
const positionSharesRotationTimes uint8 = 1

type sectionKind uint8

const (
	sectionRotValues sectionKind = iota
	sectionRotTimes
	sectionPosValues
	sectionPosTimes
	sectionScaleValues
	sectionScaleTimes
	numSections
)

type section struct {
	present bool
	offset  int
	size    int
	// start/stop times resolve to a shared store and need no storage
	constant bool
}

type compressedLayout struct {
	header   compressedHeader
	sections [numSections]section
}

func align4(v int) int {
	return (v + 3) &^ 3
}

/**
 * @brief Reads a compressed controller header and locates its track
 * payloads inside the chunk.
 */
func parseCompressedLayout(c ChunkDesc, data []byte) (*compressedLayout, error) {
	if c.BigEndian {
		return nil, errors.Wrapf(ErrForeignEndian, "controller chunk %d", c.ID)
	}
	headerSize := compressedHeaderSize
	if c.Version == ControllerVersionCompressedScale {
		headerSize = compressedScaleSize
	}
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrCorruptChunk, "controller chunk %d of %d bytes", c.ID, len(data))
	}
	le := binary.LittleEndian
	l := &compressedLayout{header: compressedHeader{
		ControllerID:  le.Uint32(data[0:]),
		Flags:         le.Uint16(data[4:]),
		NumRotKeys:    le.Uint16(data[6:]),
		NumPosKeys:    le.Uint16(data[8:]),
		RotFormat:     CompressionFormat(data[10]),
		RotTimeFormat: KeyTimesFormat(data[11]),
		PosFormat:     CompressionFormat(data[12]),
		PosKeysInfo:   data[13],
		PosTimeFormat: KeyTimesFormat(data[14]),
		TracksAligned: data[15],
	}}
	h := &l.header
	if c.Version == ControllerVersionCompressedScale {
		h.NumScaleKeys = le.Uint16(data[16:])
		h.ScaleFormat = CompressionFormat(data[18])
		h.ScaleTimeFormat = KeyTimesFormat(data[19])
	}

	cursor := headerSize
	next := func(kind sectionKind, size int, constant bool) error {
		if cursor+size > len(data) {
			return errors.Wrapf(ErrCorruptChunk, "controller %#08x track data past end of chunk", h.ControllerID)
		}
		l.sections[kind] = section{present: true, offset: cursor, size: size, constant: constant}
		cursor += size
		if h.TracksAligned != 0 {
			cursor = align4(cursor)
		}
		return nil
	}
	values := func(kind sectionKind, format CompressionFormat, n int, keySize func(CompressionFormat) (int, error)) error {
		size, err := keySize(format)
		if err != nil {
			return errors.Wrapf(err, "controller %#08x", h.ControllerID)
		}
		return next(kind, size*n, false)
	}
	times := func(kind sectionKind, format KeyTimesFormat, n int) error {
		if cursor > len(data) {
			return errors.Wrapf(ErrCorruptChunk, "controller %#08x key times past end of chunk", h.ControllerID)
		}
		size, err := KeyTimesDataSize(format, n, data[cursor:])
		if err != nil {
			return errors.Wrapf(err, "controller %#08x", h.ControllerID)
		}
		return next(kind, size, format.IsStartStop())
	}

	if h.NumRotKeys > 0 {
		if err := values(sectionRotValues, h.RotFormat, int(h.NumRotKeys), RotationKeySize); err != nil {
			return nil, err
		}
		if err := times(sectionRotTimes, h.RotTimeFormat, int(h.NumRotKeys)); err != nil {
			return nil, err
		}
	}
	if h.NumPosKeys > 0 {
		if err := values(sectionPosValues, h.PosFormat, int(h.NumPosKeys), PositionKeySize); err != nil {
			return nil, err
		}
		if h.PosKeysInfo == positionSharesRotationTimes {
			if h.NumPosKeys != h.NumRotKeys {
				return nil, errors.Wrapf(ErrKeyCountMismatch, "controller %#08x shares %d rotation times with %d positions", h.ControllerID, h.NumRotKeys, h.NumPosKeys)
			}
		} else if err := times(sectionPosTimes, h.PosTimeFormat, int(h.NumPosKeys)); err != nil {
			return nil, err
		}
	}
	if h.NumScaleKeys > 0 {
		if err := values(sectionScaleValues, h.ScaleFormat, int(h.NumScaleKeys), PositionKeySize); err != nil {
			return nil, err
		}
		if err := times(sectionScaleTimes, h.ScaleTimeFormat, int(h.NumScaleKeys)); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// storageSize is the heap space the layout needs when its payload is copied.
func (l *compressedLayout) storageSize() int {
	size := 0
	for _, s := range l.sections {
		if s.present && !s.constant {
			size += align4(s.size)
		}
	}
	return size
}

func decodeCompressed(c ChunkDesc, data []byte, l *compressedLayout, p *placer) (*CompressedController, error) {
	h := &l.header
	raw := func(kind sectionKind) []byte {
		s := l.sections[kind]
		return data[s.offset : s.offset+s.size]
	}
	ref := func(kind sectionKind) dataRef {
		s := l.sections[kind]
		return p.place(data[s.offset:s.offset+s.size], int(c.Offset)+s.offset)
	}
	keyTimes := func(kind sectionKind, format KeyTimesFormat, n int) (*KeyTimes, error) {
		if format.IsStartStop() {
			start, stop := decodeStartStop(format, raw(kind))
			// checked before the shared cache sees a range from a rejected file
			if !(stop >= start) || int(stop-start)+1 != n {
				return nil, errors.Wrapf(ErrKeyCountMismatch, "%s range %v..%v does not hold %d keys", format, start, stop, n)
			}
			return SharedKeyTimes(format, start, stop)
		}
		kt, err := NewKeyTimes(format)
		if err != nil {
			return nil, err
		}
		if err := kt.assign(ref(kind), n); err != nil {
			return nil, err
		}
		return kt, nil
	}

	ctrl := &CompressedController{id: h.ControllerID}
	var rotTimes *KeyTimes
	if n := int(h.NumRotKeys); n > 0 {
		storage, err := NewRotationStorage(h.RotFormat)
		if err != nil {
			return nil, err
		}
		storage.assign(ref(sectionRotValues), n)
		if rotTimes, err = keyTimes(sectionRotTimes, h.RotTimeFormat, n); err != nil {
			return nil, errors.Wrapf(err, "controller %#08x rotation", h.ControllerID)
		}
		if ctrl.rotation, err = NewRotationTrack(rotTimes, storage); err != nil {
			return nil, err
		}
	} else {
		core.LogWarn("controller %#08x has no rotation keys", h.ControllerID)
	}

	if n := int(h.NumPosKeys); n > 0 {
		storage, err := NewPositionStorage(h.PosFormat)
		if err != nil {
			return nil, err
		}
		storage.assign(ref(sectionPosValues), n)
		times := rotTimes
		if h.PosKeysInfo != positionSharesRotationTimes {
			if times, err = keyTimes(sectionPosTimes, h.PosTimeFormat, n); err != nil {
				return nil, errors.Wrapf(err, "controller %#08x position", h.ControllerID)
			}
		}
		if ctrl.position, err = NewPositionTrack(times, storage); err != nil {
			return nil, err
		}
	} else {
		core.LogWarn("controller %#08x has no position keys", h.ControllerID)
	}

	if n := int(h.NumScaleKeys); n > 0 {
		storage, err := NewPositionStorage(h.ScaleFormat)
		if err != nil {
			return nil, err
		}
		storage.assign(ref(sectionScaleValues), n)
		times, err := keyTimes(sectionScaleTimes, h.ScaleTimeFormat, n)
		if err != nil {
			return nil, errors.Wrapf(err, "controller %#08x scale", h.ControllerID)
		}
		if ctrl.scale, err = NewPositionTrack(times, storage); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

func decodePQLog(c ChunkDesc, data []byte, ticksPerFrame float32) (*ControllerPQLog, error) {
	if len(data) < 8 {
		return nil, errors.Wrapf(ErrCorruptChunk, "pqlog chunk %d of %d bytes", c.ID, len(data))
	}
	o := byteOrder(c)
	id := o.Uint32(data[0:])
	n := int(o.Uint32(data[4:]))
	if n < 0 || 8+n*pqlogKeySize > len(data) {
		return nil, errors.Wrapf(ErrCorruptChunk, "pqlog controller %#08x declares %d keys", id, n)
	}
	times := make([]int32, n)
	pos := make([]math.Vec3, n)
	rotLog := make([]math.Vec3, n)
	for i := 0; i < n; i++ {
		k := data[8+i*pqlogKeySize:]
		times[i] = int32(o.Uint32(k[0:]))
		pos[i] = readVec3Order(o, k[4:])
		rotLog[i] = readVec3Order(o, k[16:])
	}
	return NewControllerPQLog(id, times, rotLog, pos, nil, ticksPerFrame)
}

func decodeTCB(c ChunkDesc, data []byte, ticksPerFrame float32) (*ControllerTCB, error) {
	if len(data) < 16 {
		return nil, errors.Wrapf(ErrCorruptChunk, "tcb chunk %d of %d bytes", c.ID, len(data))
	}
	o := byteOrder(c)
	id := o.Uint32(data[0:])
	numPos := int(o.Uint32(data[4:]))
	numRot := int(o.Uint32(data[8:]))
	numScl := int(o.Uint32(data[12:]))
	need := 16 + (numPos+numScl)*tcb3KeySize + numRot*tcbqKeySize
	if numPos < 0 || numRot < 0 || numScl < 0 || need > len(data) {
		return nil, errors.Wrapf(ErrCorruptChunk, "tcb controller %#08x declares %d/%d/%d keys", id, numPos, numRot, numScl)
	}

	cursor := 16
	read3 := func(n int) []TCBKey3 {
		keys := make([]TCBKey3, n)
		for i := range keys {
			k := data[cursor:]
			keys[i] = TCBKey3{
				Time:       float32(int32(o.Uint32(k[0:]))),
				Value:      readVec3Order(o, k[4:]),
				Tension:    readF32(o, k[16:]),
				Continuity: readF32(o, k[20:]),
				Bias:       readF32(o, k[24:]),
				EaseIn:     readF32(o, k[28:]),
				EaseOut:    readF32(o, k[32:]),
			}
			cursor += tcb3KeySize
		}
		return keys
	}
	pos := read3(numPos)
	rot := make([]TCBKeyQ, numRot)
	for i := range rot {
		k := data[cursor:]
		rot[i] = TCBKeyQ{
			Time:       float32(int32(o.Uint32(k[0:]))),
			Axis:       readVec3Order(o, k[4:]),
			Angle:      readF32(o, k[16:]),
			Tension:    readF32(o, k[20:]),
			Continuity: readF32(o, k[24:]),
			Bias:       readF32(o, k[28:]),
			EaseIn:     readF32(o, k[32:]),
			EaseOut:    readF32(o, k[36:]),
		}
		cursor += tcbqKeySize
	}
	scl := read3(numScl)
	return NewControllerTCB(id, pos, rot, scl, ticksPerFrame)
}
