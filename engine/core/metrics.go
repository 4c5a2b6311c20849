package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

type MetricsState struct {
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
}

// AnimationCounters are updated from streaming workers and read from the main thread.
type AnimationCounters struct {
	StreamsStarted   atomic.Int64
	StreamsCompleted atomic.Int64
	StreamsFailed    atomic.Int64
	StreamsDiscarded atomic.Int64
	BytesStreamed    atomic.Int64
	BlocksRelocated  atomic.Int64
}

// AnimationMetrics is a point in time copy of AnimationCounters.
type AnimationMetrics struct {
	StreamsStarted   int64   `json:"streams_started"`
	StreamsCompleted int64   `json:"streams_completed"`
	StreamsFailed    int64   `json:"streams_failed"`
	StreamsDiscarded int64   `json:"streams_discarded"`
	BytesStreamed    int64   `json:"bytes_streamed"`
	BlocksRelocated  int64   `json:"blocks_relocated"`
	FPS              float64 `json:"fps"`
	FrameMS          float64 `json:"frame_ms"`
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil
var metricsMutex sync.RWMutex

var Counters AnimationCounters

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: [AVG_COUNT]float64{0},
		}
	})
	return nil
}

func MetricsUpdate(frame_elapsed_time float64) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Calculate frame ms average
	frame_ms := (frame_elapsed_time * 1000.0)
	metricsState.MStimes[metricsState.FrameAVGCounter] = frame_ms
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		metricsState.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}
		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frame_ms
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

func MetricsFrame() (float64, float64) {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	if metricsState == nil {
		return 0, 0
	}
	return metricsState.FPS, metricsState.MSavg
}

// MetricsSnapshot copies the animation counters together with the frame metrics.
func MetricsSnapshot() AnimationMetrics {
	fps, ms := MetricsFrame()
	return AnimationMetrics{
		StreamsStarted:   Counters.StreamsStarted.Load(),
		StreamsCompleted: Counters.StreamsCompleted.Load(),
		StreamsFailed:    Counters.StreamsFailed.Load(),
		StreamsDiscarded: Counters.StreamsDiscarded.Load(),
		BytesStreamed:    Counters.BytesStreamed.Load(),
		BlocksRelocated:  Counters.BlocksRelocated.Load(),
		FPS:              fps,
		FrameMS:          ms,
	}
}
