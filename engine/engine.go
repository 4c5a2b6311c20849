package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/config"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/inspect"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *config.Config
	isRunning     atomic.Bool
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	inspector     *inspect.Server
	clock         *core.Clock
	lastTime      float64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("func New - a game with an application config is required")
	}
	cfg := g.ApplicationConfig.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		core.LogError("invalid configuration: %v", err)
		return nil, err
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		core.LogWarn("unknown log level %q, keeping the current one", cfg.LogLevel)
	}

	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		config:       cfg,
		clock:        core.NewClock(),
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.assetManager = am

	sm, err := systems.NewSystemManager(cfg, am)
	if err != nil {
		core.LogError(err.Error())
		_ = am.Shutdown()
		return nil, err
	}
	e.systemManager = sm

	if cfg.Inspector.Address != "" {
		if e.inspector, err = inspect.NewServer(cfg.Inspector.Address, sm, am); err != nil {
			core.LogError(err.Error())
			_ = sm.Shutdown()
			_ = am.Shutdown()
			return nil, err
		}
	}

	g.SystemManager = sm
	g.AssetManager = am
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	// initialize events
	if !core.EventInitialize() {
		core.LogDebug("event system already initialized")
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	// initialize subsystems
	if err := e.assetManager.Initialize(e.config.Animation.Directory, e.config.Animation.HotReload); err != nil {
		return err
	}
	if err := e.systemManager.Initialize(); err != nil {
		return err
	}
	if e.inspector != nil {
		if err := e.inspector.Start(); err != nil {
			return err
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until Stop is called or the game fails.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	targetFrameSeconds := 1.0 / float64(e.config.FrameRate)

	for e.isRunning.Load() {
		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %v", err)
				e.isRunning.Store(false)
				return err
			}
		}

		// finished streams, hot reloads and heap compaction, then the inspector reads a settled heap
		if err := e.systemManager.Update(delta); err != nil {
			core.LogError("System update failed, shutting down: %v", err)
			e.isRunning.Store(false)
			return err
		}
		if e.inspector != nil {
			e.inspector.Update()
		}

		// Figure out how long the frame took and, if below the target, give the rest back.
		e.clock.Update()
		frameElapsedTime := e.clock.Elapsed() - frameStartTime
		if remainingSeconds := targetFrameSeconds - frameElapsedTime; remainingSeconds > 0 {
			time.Sleep(time.Duration(remainingSeconds * float64(time.Second)))
		}
		core.MetricsUpdate(frameElapsedTime)

		// Update last time
		e.lastTime = currentTime
	}
	return nil
}

// Stop makes Run return after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("game shutdown failed: %v", err)
		}
	}
	if e.inspector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.inspector.Shutdown(ctx); err != nil {
			core.LogWarn("inspector shutdown: %v", err)
		}
	}
	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	if err := e.systemManager.Shutdown(); err != nil {
		return err
	}
	if err := e.assetManager.Shutdown(); err != nil {
		return err
	}
	return core.EventShutdown()
}

// Stage reports where the engine is in its lifecycle.
func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Inspector is nil unless an inspector address is configured.
func (e *Engine) Inspector() *inspect.Server {
	return e.inspector
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.Stop()
		return true
	}
	return false
}
