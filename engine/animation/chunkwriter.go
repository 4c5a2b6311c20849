package animation

import (
	"encoding/binary"
	m "math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

/**
 * @brief Builds chunk files. Used by the fixture generator and by tests
 * to produce clips in every supported controller encoding.
 */
type ChunkWriter struct {
	chunks []writtenChunk
	nextID uint32
}

type writtenChunk struct {
	desc ChunkDesc
	data []byte
}

func NewChunkWriter() *ChunkWriter {
	return &ChunkWriter{nextID: 1}
}

// AddRaw appends a chunk with an arbitrary payload and returns its id.
func (w *ChunkWriter) AddRaw(chunkType, version uint16, bigEndian bool, payload []byte) uint32 {
	id := w.nextID
	w.nextID++
	w.chunks = append(w.chunks, writtenChunk{
		desc: ChunkDesc{Type: chunkType, Version: version, BigEndian: bigEndian, ID: id, Size: uint32(len(payload))},
		data: payload,
	})
	return id
}

func (w *ChunkWriter) AddMotionParameters(p *MotionParams) error {
	if len(p.Segments) > MaxSegments {
		return errors.Errorf("%d segments, at most %d supported", len(p.Segments), MaxSegments)
	}
	le := binary.LittleEndian
	out := make([]byte, motionParamsSize)
	le.PutUint32(out[0:], p.AssetFlags)
	le.PutUint32(out[4:], p.Compression)
	le.PutUint32(out[8:], uint32(p.TicksPerFrame))
	le.PutUint32(out[12:], m.Float32bits(p.SecsPerTick))
	le.PutUint32(out[16:], uint32(p.Start))
	le.PutUint32(out[20:], uint32(p.End))
	le.PutUint32(out[24:], m.Float32bits(p.MoveSpeed))
	le.PutUint32(out[28:], m.Float32bits(p.TurnSpeed))
	le.PutUint32(out[32:], m.Float32bits(p.AssetTurn))
	le.PutUint32(out[36:], m.Float32bits(p.Distance))
	le.PutUint32(out[40:], m.Float32bits(p.Slope))
	le.PutUint32(out[44:], uint32(len(p.Segments)))
	for i, s := range p.Segments {
		le.PutUint32(out[48+4*i:], m.Float32bits(s))
	}
	w.AddRaw(ChunkTypeMotionParameters, MotionParametersVersion, false, out)
	return nil
}

/**
 * @brief Describes one compressed controller. A channel with no values is
 * left out. Scale values select the 0x0832 chunk version.
 */
type CompressedControllerDesc struct {
	ID uint32

	RotFormat     CompressionFormat
	RotTimeFormat KeyTimesFormat
	RotTimes      []float32
	Rotations     []math.Quaternion

	PosFormat     CompressionFormat
	PosTimeFormat KeyTimesFormat
	PosTimes      []float32
	Positions     []math.Vec3
	// positions reuse RotTimes
	SharePositionTimes bool

	ScaleFormat     CompressionFormat
	ScaleTimeFormat KeyTimesFormat
	ScaleTimes      []float32
	Scales          []math.Vec3

	// pad every track block to four bytes
	Aligned bool
}

func (w *ChunkWriter) AddCompressedController(d CompressedControllerDesc) error {
	if len(d.Rotations) != len(d.RotTimes) {
		return errors.Wrapf(ErrKeyCountMismatch, "controller %#08x: %d rotations, %d times", d.ID, len(d.Rotations), len(d.RotTimes))
	}
	if d.SharePositionTimes {
		if len(d.Positions) != len(d.RotTimes) {
			return errors.Wrapf(ErrKeyCountMismatch, "controller %#08x: %d positions share %d rotation times", d.ID, len(d.Positions), len(d.RotTimes))
		}
	} else if len(d.Positions) != len(d.PosTimes) {
		return errors.Wrapf(ErrKeyCountMismatch, "controller %#08x: %d positions, %d times", d.ID, len(d.Positions), len(d.PosTimes))
	}
	if len(d.Scales) != len(d.ScaleTimes) {
		return errors.Wrapf(ErrKeyCountMismatch, "controller %#08x: %d scales, %d times", d.ID, len(d.Scales), len(d.ScaleTimes))
	}
	for _, n := range []int{len(d.Rotations), len(d.Positions), len(d.Scales)} {
		if n > m.MaxUint16 {
			return errors.Wrapf(ErrKeyCountMismatch, "controller %#08x: %d keys", d.ID, n)
		}
	}

	version := ControllerVersionCompressed
	headerSize := compressedHeaderSize
	if len(d.Scales) > 0 {
		version = ControllerVersionCompressedScale
		headerSize = compressedScaleSize
	}
	out := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(out[0:], d.ID)
	le.PutUint16(out[6:], uint16(len(d.Rotations)))
	le.PutUint16(out[8:], uint16(len(d.Positions)))
	out[10] = byte(d.RotFormat)
	out[11] = byte(d.RotTimeFormat)
	out[12] = byte(d.PosFormat)
	if d.SharePositionTimes {
		out[13] = positionSharesRotationTimes
	}
	out[14] = byte(d.PosTimeFormat)
	if d.Aligned {
		out[15] = 1
	}
	if version == ControllerVersionCompressedScale {
		le.PutUint16(out[16:], uint16(len(d.Scales)))
		out[18] = byte(d.ScaleFormat)
		out[19] = byte(d.ScaleTimeFormat)
	}

	appendBlock := func(b []byte) {
		out = append(out, b...)
		if d.Aligned {
			for len(out)%4 != 0 {
				out = append(out, 0)
			}
		}
	}
	if len(d.Rotations) > 0 {
		values, err := EncodeRotations(d.RotFormat, d.Rotations)
		if err != nil {
			return err
		}
		times, err := EncodeKeyTimes(d.RotTimeFormat, d.RotTimes)
		if err != nil {
			return errors.Wrapf(err, "controller %#08x rotation times", d.ID)
		}
		appendBlock(values)
		appendBlock(times)
	}
	if len(d.Positions) > 0 {
		values, err := EncodePositions(d.PosFormat, d.Positions)
		if err != nil {
			return err
		}
		appendBlock(values)
		if !d.SharePositionTimes {
			times, err := EncodeKeyTimes(d.PosTimeFormat, d.PosTimes)
			if err != nil {
				return errors.Wrapf(err, "controller %#08x position times", d.ID)
			}
			appendBlock(times)
		}
	}
	if len(d.Scales) > 0 {
		values, err := EncodePositions(d.ScaleFormat, d.Scales)
		if err != nil {
			return err
		}
		times, err := EncodeKeyTimes(d.ScaleTimeFormat, d.ScaleTimes)
		if err != nil {
			return errors.Wrapf(err, "controller %#08x scale times", d.ID)
		}
		appendBlock(values)
		appendBlock(times)
	}
	w.AddRaw(ChunkTypeController, version, false, out)
	return nil
}

func putF32(o binary.ByteOrder, dst []byte, v float32) {
	o.PutUint32(dst, m.Float32bits(v))
}

func putVec3Order(o binary.ByteOrder, dst []byte, v math.Vec3) {
	putF32(o, dst[0:], v.X)
	putF32(o, dst[4:], v.Y)
	putF32(o, dst[8:], v.Z)
}

func orderFor(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// AddPQLogController appends a legacy 0x0827 controller with tick times.
func (w *ChunkWriter) AddPQLogController(id uint32, times []int32, rotLog, pos []math.Vec3, bigEndian bool) error {
	if len(rotLog) != len(times) || len(pos) != len(times) {
		return errors.Wrapf(ErrKeyCountMismatch, "pqlog controller %#08x", id)
	}
	o := orderFor(bigEndian)
	out := make([]byte, 8+len(times)*pqlogKeySize)
	o.PutUint32(out[0:], id)
	o.PutUint32(out[4:], uint32(len(times)))
	for i := range times {
		k := out[8+i*pqlogKeySize:]
		o.PutUint32(k[0:], uint32(times[i]))
		putVec3Order(o, k[4:], pos[i])
		putVec3Order(o, k[16:], rotLog[i])
	}
	w.AddRaw(ChunkTypeController, ControllerVersionPQLog, bigEndian, out)
	return nil
}

// AddTCBController appends a legacy 0x0826 controller with tick times.
func (w *ChunkWriter) AddTCBController(id uint32, pos []TCBKey3, rot []TCBKeyQ, scale []TCBKey3, bigEndian bool) error {
	o := orderFor(bigEndian)
	out := make([]byte, 16, 16+(len(pos)+len(scale))*tcb3KeySize+len(rot)*tcbqKeySize)
	o.PutUint32(out[0:], id)
	o.PutUint32(out[4:], uint32(len(pos)))
	o.PutUint32(out[8:], uint32(len(rot)))
	o.PutUint32(out[12:], uint32(len(scale)))
	put3 := func(keys []TCBKey3) {
		for _, key := range keys {
			k := make([]byte, tcb3KeySize)
			o.PutUint32(k[0:], uint32(int32(key.Time)))
			putVec3Order(o, k[4:], key.Value)
			putF32(o, k[16:], key.Tension)
			putF32(o, k[20:], key.Continuity)
			putF32(o, k[24:], key.Bias)
			putF32(o, k[28:], key.EaseIn)
			putF32(o, k[32:], key.EaseOut)
			out = append(out, k...)
		}
	}
	put3(pos)
	for _, key := range rot {
		k := make([]byte, tcbqKeySize)
		o.PutUint32(k[0:], uint32(int32(key.Time)))
		putVec3Order(o, k[4:], key.Axis)
		putF32(o, k[16:], key.Angle)
		putF32(o, k[20:], key.Tension)
		putF32(o, k[24:], key.Continuity)
		putF32(o, k[28:], key.Bias)
		putF32(o, k[32:], key.EaseIn)
		putF32(o, k[36:], key.EaseOut)
		out = append(out, k...)
	}
	put3(scale)
	w.AddRaw(ChunkTypeController, ControllerVersionTCB, bigEndian, out)
	return nil
}

// Bytes lays out the file: header, 4 byte aligned payloads, chunk table.
func (w *ChunkWriter) Bytes() []byte {
	le := binary.LittleEndian
	out := make([]byte, chunkFileHeaderSize)
	copy(out, ChunkFileSignature)
	le.PutUint32(out[8:], ChunkFileType)
	le.PutUint32(out[12:], ChunkFileVersion)

	descs := make([]ChunkDesc, len(w.chunks))
	for i, c := range w.chunks {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		descs[i] = c.desc
		descs[i].Offset = uint32(len(out))
		out = append(out, c.data...)
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	le.PutUint32(out[16:], uint32(len(out)))

	table := make([]byte, 4+len(descs)*chunkTableEntrySize)
	le.PutUint32(table[0:], uint32(len(descs)))
	for i, d := range descs {
		e := table[4+i*chunkTableEntrySize:]
		version := d.Version
		if d.BigEndian {
			version |= chunkBigEndianFlag
		}
		le.PutUint16(e[0:], d.Type)
		le.PutUint16(e[2:], version)
		le.PutUint32(e[4:], d.ID)
		le.PutUint32(e[8:], d.Size)
		le.PutUint32(e[12:], d.Offset)
	}
	return append(out, table...)
}
