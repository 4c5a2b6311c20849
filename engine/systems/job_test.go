package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/anima-caf/engine/core"
)

func TestNewJobSystemRejects(t *testing.T) {
	tests := []struct {
		workers, size int
		err           error
	}{
		{0, 1, ErrNoWorkers},
		{-2, 1, ErrNoWorkers},
		{1, -1, ErrNegativeChannelSize},
	}
	for _, test := range tests {
		if _, err := NewJobSystem(test.workers, test.size); !errors.Is(err, test.err) {
			t.Errorf("NewJobSystem(%d, %d)=%v; expected %v", test.workers, test.size, err, test.err)
		}
	}
}

func TestJobSystemCallbacks(t *testing.T) {
	js := newJobSystem(t, 3)

	var completed, failed, finished atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		fail := i%4 == 0
		err := js.Submit(JobTask{
			JobType:     JOB_TYPE_GENERAL,
			InputParams: i,
			OnStart: func(params interface{}, results chan<- interface{}) error {
				results <- params.(int) * 2
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			OnComplete: func(results <-chan interface{}) {
				if v := (<-results).(int); v%2 != 0 {
					t.Errorf("result %d is not doubled", v)
				}
				completed.Add(1)
			},
			OnFailure: func(results <-chan interface{}) {
				failed.Add(1)
			},
			OnCompletionCallback: func() {
				finished.Add(1)
				wg.Done()
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if completed.Load() != 15 || failed.Load() != 5 || finished.Load() != 20 {
		t.Errorf("completed=%d failed=%d finished=%d", completed.Load(), failed.Load(), finished.Load())
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	ran := make(chan struct{})
	if err := js.Submit(JobTask{OnStart: func(interface{}, chan<- interface{}) error {
		close(ran)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	<-ran
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if err := js.Submit(JobTask{OnStart: func(interface{}, chan<- interface{}) error { return nil }}); !errors.Is(err, core.ErrShuttingDown) {
		t.Errorf("Submit after Shutdown=%v", err)
	}
	if err := js.Submit(JobTask{}); !errors.Is(err, ErrNoEntryPoint) {
		t.Errorf("Submit without OnStart=%v", err)
	}
}
