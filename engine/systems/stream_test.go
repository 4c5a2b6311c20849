package systems

import (
	"bytes"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-caf/engine/animation"
)

type recordingSink struct {
	mutex     sync.Mutex
	storage   []byte
	needSize  uint64
	asyncData []byte
	asyncErr  error
	asyncN    int
	doneErr   error
	doneN     int
}

func (s *recordingSink) OnNeedStorage(size uint64) []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.needSize = size
	if s.storage != nil {
		return s.storage[:size]
	}
	return nil
}

func (s *recordingSink) OnAsyncComplete(data []byte, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.asyncData, s.asyncErr = data, err
	s.asyncN++
}

func (s *recordingSink) OnComplete(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.doneErr = err
	s.doneN++
}

func (s *recordingSink) completions() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.doneN
}

func drain(t *testing.T, se *StreamEngine, sinks ...*recordingSink) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		se.Update()
		done := true
		for _, s := range sinks {
			if s.completions() == 0 {
				done = false
			}
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for stream completions")
		}
		time.Sleep(time.Millisecond)
	}
}

func newStreamEngine(t *testing.T, workers, queue int) *StreamEngine {
	t.Helper()
	se, err := NewStreamEngine(StreamEngineConfig{CompletionQueueSize: queue}, newJobSystem(t, workers), newAssetManager(t))
	if err != nil {
		t.Fatal(err)
	}
	return se
}

func TestStreamReadsIntoSinkStorage(t *testing.T) {
	payload := []byte("0123456789abcdef")
	path := writeFile(t, t.TempDir(), "clip.caf", payload)
	se := newStreamEngine(t, 1, 4)

	sink := &recordingSink{storage: make([]byte, 64)}
	if _, err := se.StartStream(path, sink); err != nil {
		t.Fatal(err)
	}
	drain(t, se, sink)

	if sink.needSize != uint64(len(payload)) {
		t.Errorf("OnNeedStorage(%d); expected %d", sink.needSize, len(payload))
	}
	if sink.asyncN != 1 || sink.asyncErr != nil || !bytes.Equal(sink.asyncData, payload) {
		t.Errorf("OnAsyncComplete x%d (%q, %v)", sink.asyncN, sink.asyncData, sink.asyncErr)
	}
	if &sink.asyncData[0] != &sink.storage[0] {
		t.Error("data was not read into the sink's storage")
	}
	if sink.doneN != 1 || sink.doneErr != nil {
		t.Errorf("OnComplete x%d (%v)", sink.doneN, sink.doneErr)
	}
	if n := len(se.InFlight()); n != 0 {
		t.Errorf("%d requests still in flight", n)
	}
}

func TestStreamMissingFile(t *testing.T) {
	se := newStreamEngine(t, 1, 4)
	sink := &recordingSink{}
	if _, err := se.StartStream(t.TempDir()+"/missing.caf", sink); err != nil {
		t.Fatal(err)
	}
	drain(t, se, sink)
	if !errors.Is(sink.asyncErr, fs.ErrNotExist) || !errors.Is(sink.doneErr, fs.ErrNotExist) {
		t.Errorf("async=%v done=%v; expected not found", sink.asyncErr, sink.doneErr)
	}
	if animation.IsFatal(sink.doneErr) {
		t.Error("a missing file must not be fatal")
	}
}

func TestStreamAbortBeforeRead(t *testing.T) {
	path := writeFile(t, t.TempDir(), "clip.caf", []byte("data"))
	se := newStreamEngine(t, 1, 4)

	// occupy the only worker so the request stays queued
	release := make(chan struct{})
	started := make(chan struct{})
	if err := se.jobSystem.Submit(JobTask{OnStart: func(interface{}, chan<- interface{}) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	<-started

	sink := &recordingSink{storage: make([]byte, 16)}
	req, err := se.StartStream(path, sink)
	if err != nil {
		t.Fatal(err)
	}
	if infos := se.InFlight(); len(infos) != 1 || infos[0].Path != path {
		t.Errorf("InFlight=%+v", infos)
	}
	req.Abort()
	close(release)
	drain(t, se, sink)

	if sink.needSize != 0 {
		t.Error("aborted request asked for storage")
	}
	if sink.asyncN != 1 || !errors.Is(sink.asyncErr, animation.ErrStreamAborted) {
		t.Errorf("OnAsyncComplete x%d (%v)", sink.asyncN, sink.asyncErr)
	}
	if sink.doneN != 1 {
		t.Errorf("OnComplete x%d", sink.doneN)
	}
}

func TestStreamCompletionOverflow(t *testing.T) {
	dir := t.TempDir()
	se := newStreamEngine(t, 2, 1)

	sinks := make([]*recordingSink, 5)
	for i := range sinks {
		sinks[i] = &recordingSink{}
		path := writeFile(t, dir, string(rune('a'+i))+".caf", []byte{byte(i)})
		if _, err := se.StartStream(path, sinks[i]); err != nil {
			t.Fatal(err)
		}
	}
	// let every worker finish before the first drain so the ring overflows
	deadline := time.Now().Add(time.Second)
	for {
		se.mutex.Lock()
		n := se.completions.Len() + len(se.overflow)
		se.mutex.Unlock()
		if n == len(sinks) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("workers did not finish")
		}
		time.Sleep(time.Millisecond)
	}
	if n := se.Update(); n != len(sinks) {
		t.Errorf("Update delivered %d; expected %d", n, len(sinks))
	}
	for i, s := range sinks {
		if s.doneN != 1 || len(s.asyncData) != 1 || s.asyncData[0] != byte(i) {
			t.Errorf("sink %d: done=%d data=%v", i, s.doneN, s.asyncData)
		}
	}
}

func TestStreamAfterShutdown(t *testing.T) {
	se := newStreamEngine(t, 1, 4)
	if err := se.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if _, err := se.StartStream("x.caf", &recordingSink{}); err == nil {
		t.Error("StartStream after Shutdown succeeded")
	}
}
