package systems

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/containers"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/resources"
)

/** @brief The configuration for the stream engine */
type StreamEngineConfig struct {
	/** @brief Completions buffered between two Update calls before spilling over. */
	CompletionQueueSize int
}

type streamRequest struct {
	id      uuid.UUID
	path    string
	sink    animation.StreamSink
	aborted atomic.Bool
	err     error
	size    int
	started time.Time
}

func (r *streamRequest) Abort() {
	r.aborted.Store(true)
}

func (r *streamRequest) ID() uuid.UUID {
	return r.id
}

// StreamInfo describes a request still waiting for its completion.
type StreamInfo struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Aborted bool      `json:"aborted"`
	Started time.Time `json:"started"`
}

/**
 * @brief Reads files on the job system and hands the results back to the
 * main thread. OnNeedStorage and OnAsyncComplete run on a worker;
 * OnComplete runs inside Update. Every started request gets exactly one
 * OnAsyncComplete and one OnComplete, aborted or not.
 */
type StreamEngine struct {
	Config       StreamEngineConfig
	jobSystem    *JobSystem
	assetManager *assets.AssetManager

	mutex       sync.Mutex
	completions *containers.RingQueue[*streamRequest]
	overflow    []*streamRequest
	inFlight    map[uuid.UUID]*streamRequest
	closed      bool
}

func NewStreamEngine(config StreamEngineConfig, jobSystem *JobSystem, assetManager *assets.AssetManager) (*StreamEngine, error) {
	if config.CompletionQueueSize <= 0 {
		err := fmt.Errorf("func NewStreamEngine - config.CompletionQueueSize must be greater than 0")
		core.LogError(err.Error())
		return nil, err
	}
	if jobSystem == nil || assetManager == nil {
		return nil, fmt.Errorf("func NewStreamEngine - job system and asset manager are required: %w", core.ErrNotInitialized)
	}
	return &StreamEngine{
		Config:       config,
		jobSystem:    jobSystem,
		assetManager: assetManager,
		completions:  containers.NewRingQueue[*streamRequest](config.CompletionQueueSize),
		inFlight:     make(map[uuid.UUID]*streamRequest),
	}, nil
}

func (se *StreamEngine) StartStream(path string, sink animation.StreamSink) (animation.StreamRequest, error) {
	req := &streamRequest{
		id:      uuid.New(),
		path:    path,
		sink:    sink,
		started: time.Now(),
	}

	se.mutex.Lock()
	if se.closed {
		se.mutex.Unlock()
		return nil, core.ErrShuttingDown
	}
	se.inFlight[req.id] = req
	se.mutex.Unlock()

	err := se.jobSystem.Submit(JobTask{
		JobType:              JOB_TYPE_RESOURCE_LOAD,
		InputParams:          req,
		OnStart:              se.streamJobStart,
		OnCompletionCallback: func() { se.enqueue(req) },
	})
	if err != nil {
		se.mutex.Lock()
		delete(se.inFlight, req.id)
		se.mutex.Unlock()
		return nil, err
	}
	core.LogDebug("stream %s started for %s", req.id, path)
	return req, nil
}

func (se *StreamEngine) streamJobStart(params interface{}, results chan<- interface{}) error {
	req, ok := params.(*streamRequest)
	if !ok {
		return fmt.Errorf("stream job expects *streamRequest, got %T", params)
	}

	var data []byte
	if req.aborted.Load() {
		req.err = animation.ErrStreamAborted
	} else {
		res, err := se.assetManager.LoadAsset(req.path, resources.ResourceTypeAnimation, &resources.BinaryResourceParams{
			Alloc: req.sink.OnNeedStorage,
		})
		switch {
		case err != nil:
			req.err = err
		case req.aborted.Load():
			req.err = animation.ErrStreamAborted
			data = res.Data.([]byte)
		default:
			data = res.Data.([]byte)
		}
	}
	req.size = len(data)
	if req.err != nil {
		// the sink still owns any storage it handed out and frees it on error
		req.sink.OnAsyncComplete(nil, req.err)
	} else {
		req.sink.OnAsyncComplete(data, nil)
	}
	results <- req.err
	return nil
}

func (se *StreamEngine) enqueue(req *streamRequest) {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	if err := se.completions.Enqueue(req); err != nil {
		se.overflow = append(se.overflow, req)
	}
}

/**
 * @brief Delivers OnComplete for every finished request. Must run on the
 * thread that samples animations.
 * @return The number of completions delivered.
 */
func (se *StreamEngine) Update() int {
	se.mutex.Lock()
	done := make([]*streamRequest, 0, se.completions.Len()+len(se.overflow))
	for !se.completions.IsEmpty() {
		req, _ := se.completions.Dequeue()
		done = append(done, req)
	}
	done = append(done, se.overflow...)
	se.overflow = nil
	for _, req := range done {
		delete(se.inFlight, req.id)
	}
	se.mutex.Unlock()

	for _, req := range done {
		if req.err != nil {
			core.LogDebug("stream %s for %s finished: %v", req.id, req.path, req.err)
		} else {
			core.LogDebug("stream %s for %s finished: %d bytes in %s", req.id, req.path, req.size, time.Since(req.started))
		}
		req.sink.OnComplete(req.err)
	}
	return len(done)
}

// InFlight lists the requests whose completion was not delivered yet.
func (se *StreamEngine) InFlight() []StreamInfo {
	se.mutex.Lock()
	out := make([]StreamInfo, 0, len(se.inFlight))
	for _, req := range se.inFlight {
		out = append(out, StreamInfo{
			ID:      req.id.String(),
			Path:    req.path,
			Aborted: req.aborted.Load(),
			Started: req.started,
		})
	}
	se.mutex.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

/**
 * @brief Aborts every request and refuses new ones. Pending completions
 * are still delivered by the next Update.
 */
func (se *StreamEngine) Shutdown() error {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	se.closed = true
	for _, req := range se.inFlight {
		req.Abort()
	}
	return nil
}
