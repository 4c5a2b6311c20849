package animation

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-caf/engine/math"
)

func randomRotations(seed int64, n int) []math.Quaternion {
	r := rand.New(rand.NewSource(seed))
	out := make([]math.Quaternion, 0, n)
	for len(out) < n {
		axis := mgl32.Vec3{r.Float32()*2 - 1, r.Float32()*2 - 1, r.Float32()*2 - 1}
		if axis.Len() < 0.1 {
			continue
		}
		q := mgl32.QuatRotate(r.Float32()*2*math.K_PI-math.K_PI, axis.Normalize())
		out = append(out, math.Quaternion{X: q.V[0], Y: q.V[1], Z: q.V[2], W: q.W})
	}
	return out
}

func maxComponentError(a, b math.Quaternion) float32 {
	if a.Dot(b) < 0 {
		b = b.Neg()
	}
	return max(math.Abs(a.X-b.X), math.Abs(a.Y-b.Y), math.Abs(a.Z-b.Z), math.Abs(a.W-b.W))
}

func TestRotationStorageErrorBounds(t *testing.T) {
	tests := []struct {
		format CompressionFormat
		bound  float32
	}{
		{NoCompressQuat, 1e-7},
		{NoCompressVec3, 1e-3},
		{SmallTree48BitQuat, 5e-4},
		{SmallTree64BitQuat, 2e-5},
		{SmallTree64BitExtQuat, 1e-5},
	}
	rotations := randomRotations(7, 500)
	for _, test := range tests {
		raw, err := EncodeRotations(test.format, rotations)
		if err != nil {
			t.Fatalf("EncodeRotations(%s): %v", test.format, err)
		}
		storage, _ := NewRotationStorage(test.format)
		if err := storage.AssignData(raw, len(rotations)); err != nil {
			t.Fatalf("AssignData(%s): %v", test.format, err)
		}
		for i, q := range rotations {
			got := storage.Value(i)
			if e := maxComponentError(q, got); e > test.bound {
				t.Errorf("%s key %d: error %v above %v (%v vs %v)", test.format, i, e, test.bound, got, q)
			}
			if !got.IsUnit(1e-4) {
				t.Errorf("%s key %d decoded to non unit %v", test.format, i, got)
			}
		}
	}
}

func TestShotInt3Quat(t *testing.T) {
	// w is reconstructed, so keep clear of w near zero where the error grows
	var rotations []math.Quaternion
	for _, q := range randomRotations(11, 300) {
		if math.Abs(q.W) > 0.3 {
			rotations = append(rotations, q)
		}
	}
	raw, err := EncodeRotations(ShotInt3Quat, rotations)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 6*len(rotations) {
		t.Fatalf("encoded %d bytes for %d keys", len(raw), len(rotations))
	}
	storage, _ := NewRotationStorage(ShotInt3Quat)
	_ = storage.AssignData(raw, len(rotations))
	for i, q := range rotations {
		if e := maxComponentError(q, storage.Value(i)); e > 2e-4 {
			t.Errorf("key %d: error %v", i, e)
		}
	}
}

func TestStorageAssignAndFallback(t *testing.T) {
	storage, _ := NewRotationStorage(SmallTree64BitQuat)
	if err := storage.AssignData(make([]byte, 15), 2); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short rotation data returned %v", err)
	}
	if got := storage.Value(3); got != math.NewQuatIdentity() {
		t.Errorf("missing key decoded to %v", got)
	}

	positions := []math.Vec3{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 0.5, Z: 9}}
	raw, _ := EncodePositions(NoCompressVec3, positions)
	ps, _ := NewPositionStorage(NoCompressVec3)
	if err := ps.AssignData(raw, 2); err != nil {
		t.Fatal(err)
	}
	for i, want := range positions {
		if got := ps.Value(i); got != want {
			t.Errorf("position %d=%v; expected %v", i, got, want)
		}
	}
	if got := ps.Value(-1); got != (math.Vec3{}) {
		t.Errorf("out of range position=%v", got)
	}
	if ps.RawSize() != 24 || ps.Len() != 2 {
		t.Errorf("RawSize=%d Len=%d", ps.RawSize(), ps.Len())
	}
}

func TestFormatDispatch(t *testing.T) {
	if _, err := NewRotationStorage(CompressionFormat(4)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("rotation format 4 returned %v", err)
	}
	if _, err := NewPositionStorage(SmallTree48BitQuat); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("quantized position format returned %v", err)
	}
	sizes := map[CompressionFormat]int{
		NoCompress:            16,
		NoCompressQuat:        16,
		NoCompressVec3:        12,
		ShotInt3Quat:          6,
		SmallTree48BitQuat:    6,
		SmallTree64BitQuat:    8,
		SmallTree64BitExtQuat: 8,
	}
	for format, want := range sizes {
		if got, _ := RotationKeySize(format); got != want {
			t.Errorf("RotationKeySize(%s)=%d; expected %d", format, got, want)
		}
	}
	if got := FormatName(SmallTree48BitQuat, KeyTimesBitset); got != "SmallTree48BitQuat/Bitset" {
		t.Errorf("FormatName=%q", got)
	}
}
