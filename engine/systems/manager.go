package systems

import (
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/config"
)

type SystemManager struct {
	JobSystem       *JobSystem
	StreamEngine    *StreamEngine
	AnimationSystem *AnimationSystem
}

func NewSystemManager(cfg *config.Config, assetManager *assets.AssetManager) (*SystemManager, error) {
	js, err := NewJobSystem(cfg.Stream.Workers, cfg.Stream.QueueSize)
	if err != nil {
		return nil, err
	}

	se, err := NewStreamEngine(StreamEngineConfig{
		CompletionQueueSize: max(cfg.Stream.QueueSize, 16),
	}, js, assetManager)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}

	as, err := NewAnimationSystem(AnimationSystemConfig{
		MaxAnimationCount:       cfg.Animation.MaxAnimations,
		HeapSize:                cfg.Heap.Size,
		DefragBudget:            cfg.Heap.DefragBudget,
		MinInPlaceCAFStreamSize: cfg.Animation.MinInPlaceCAFStreamSize,
		StreamCAF:               cfg.Animation.StreamCAF,
		LoadUncompressedChunks:  cfg.Animation.LoadUncompressedChunks,
		DebugAnimUsage:          cfg.Animation.DebugAnimUsage,
		HotReload:               cfg.Animation.HotReload,
	}, assetManager, se)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}

	return &SystemManager{
		JobSystem:       js,
		StreamEngine:    se,
		AnimationSystem: as,
	}, nil
}

func (sm *SystemManager) Initialize() error {
	return sm.AnimationSystem.Initialize()
}

// Update advances every system by one frame, on the main thread.
func (sm *SystemManager) Update(deltaTime float64) error {
	sm.JobSystem.Update()
	return sm.AnimationSystem.Update(deltaTime)
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.AnimationSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.StreamEngine.Shutdown(); err != nil {
		return err
	}
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	// workers are gone; deliver what they finished so in-place blocks are released
	sm.StreamEngine.Update()
	return nil
}
