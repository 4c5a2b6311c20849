package engine

import (
	"github.com/spaghettifunk/anima-caf/engine/assets"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize runs.
	SystemManager *systems.SystemManager
	AssetManager  *assets.AssetManager
	State         interface{}
	FnInitialize  Initialize
	FnUpdate      Update
	FnShutdown    Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Shutdown func() error
