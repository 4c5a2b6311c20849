package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/config"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/math"
	"github.com/spaghettifunk/anima-caf/engine/memory"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

func turnClip(t *testing.T) []byte {
	t.Helper()
	w := animation.NewChunkWriter()
	if err := w.AddMotionParameters(&animation.MotionParams{
		TicksPerFrame: 160,
		SecsPerTick:   1.0 / 4800,
		End:           4800,
		Segments:      []float32{0.5},
	}); err != nil {
		t.Fatal(err)
	}
	turn := math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.K_HALF_PI, false)
	if err := w.AddCompressedController(animation.CompressedControllerDesc{
		ID:            animation.JointCRC32("Bip01 Spine"),
		RotFormat:     animation.SmallTree64BitExtQuat,
		RotTimeFormat: animation.KeyTimesUINT16,
		RotTimes:      []float32{0, 15, 30},
		Rotations:     []math.Quaternion{math.NewQuatIdentity(), turn, math.NewQuatIdentity()},
		PosFormat:     animation.NoCompressVec3,
		PosTimeFormat: animation.KeyTimesByte,
		PosTimes:      []float32{0, 30},
		Positions:     []math.Vec3{{}, {X: 1}},
		Aligned:       true,
	}); err != nil {
		t.Fatal(err)
	}
	return w.Bytes()
}

type fixture struct {
	server *Server
	http   *httptest.Server
	as     *systems.AnimationSystem
	id     uint32
}

// newFixture serves one synchronously loaded clip and answers queued queries until the test ends.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	core.EventInitialize()
	dir := t.TempDir()
	path := filepath.Join(dir, "spine.caf")
	if err := os.WriteFile(path, turnClip(t), 0o644); err != nil {
		t.Fatal(err)
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = am.Shutdown() })
	if err := am.Initialize(dir, false); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Heap.Size = 1 << 16
	cfg.Animation.StreamCAF = false
	sm, err := systems.NewSystemManager(cfg, am)
	if err != nil {
		t.Fatal(err)
	}
	if err := sm.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sm.Shutdown() })

	_, id, err := sm.AnimationSystem.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewServer("127.0.0.1:0", sm, am)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			default:
				s.Update()
				time.Sleep(time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-stopped
	})
	return &fixture{server: s, http: ts, as: sm.AnimationSystem, id: id}
}

func (f *fixture) get(t *testing.T, route string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + route)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("GET %s: %v\n%s", route, err, body)
		}
	}
	return resp.StatusCode
}

func TestNewServerRejects(t *testing.T) {
	if _, err := NewServer(":0", nil, nil); !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("err=%v", err)
	}
}

func TestAnimationRoutes(t *testing.T) {
	f := newFixture(t)

	var list []systems.AnimationInfo
	if code := f.get(t, "/json/animations", &list); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(list) != 1 || list[0].ID != f.id || list[0].Controllers != 1 || list[0].State != "created" {
		t.Errorf("animations=%+v", list)
	}

	var detail AnimationDetail
	if code := f.get(t, "/json/animations/"+strconv.Itoa(int(f.id)), &detail); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(detail.Controllers) != 1 {
		t.Fatalf("detail=%+v", detail)
	}
	c := detail.Controllers[0]
	if c.JointCRC32 != animation.JointCRC32("Bip01 Spine") || c.Format != "compressed" || c.RotationKeys != 3 || c.PositionKeys != 2 {
		t.Errorf("controller=%+v", c)
	}
	if detail.Motion == nil || detail.Motion.TicksPerFrame != 160 || len(detail.Motion.Segments) != 1 {
		t.Errorf("motion=%+v", detail.Motion)
	}

	var failure struct {
		Error string `json:"error"`
	}
	if code := f.get(t, "/json/animations/999999", &failure); code != http.StatusNotFound || failure.Error == "" {
		t.Errorf("unknown id: status %d, %+v", code, failure)
	}
	if code := f.get(t, "/json/animations/walk", &failure); code != http.StatusBadRequest {
		t.Errorf("bad id: status %d", code)
	}
}

func TestDumpRoute(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/dump/animations/" + strconv.Itoa(int(f.id)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"AnimationDetail", "spine.caf", "RotationKeys: (int) 3"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("dump lacks %q:\n%s", want, body)
		}
	}
}

func TestStatusRoutes(t *testing.T) {
	f := newFixture(t)

	var stats memory.HeapStats
	if code := f.get(t, "/json/heap", &stats); code != http.StatusOK || stats.Capacity != 1<<16 || stats.Used == 0 {
		t.Errorf("heap: status %d, %+v", code, stats)
	}
	var metrics core.AnimationMetrics
	if code := f.get(t, "/json/metrics", &metrics); code != http.StatusOK {
		t.Errorf("metrics: status %d", code)
	}
	var streams []systems.StreamInfo
	if code := f.get(t, "/json/streams", &streams); code != http.StatusOK || len(streams) != 0 {
		t.Errorf("streams: status %d, %+v", code, streams)
	}
	var infos []assets.AssetInfo
	if code := f.get(t, "/json/assets", &infos); code != http.StatusOK || len(infos) != 1 {
		t.Errorf("assets: status %d, %+v", code, infos)
	}
}

func TestQueryWithoutMainLoop(t *testing.T) {
	s := &Server{QueryTimeout: 20 * time.Millisecond, queries: make(chan query)}
	if err := s.onMainThread(context.Background(), func() {}); !errors.Is(err, ErrQueryTimeout) {
		t.Errorf("err=%v; expected ErrQueryTimeout", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.QueryTimeout = time.Second
	if err := s.onMainThread(ctx, func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v; expected context.Canceled", err)
	}
}

func TestStartAndShutdown(t *testing.T) {
	f := newFixture(t)
	if err := f.server.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.server.Start(); err == nil {
		t.Error("second Start succeeded")
	}
	resp, err := http.Get("http://" + f.server.Addr() + "/json/heap")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
