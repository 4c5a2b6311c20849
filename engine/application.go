package engine

import (
	"github.com/spaghettifunk/anima-caf/engine/config"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name string
	// Engine tunables; nil runs with config.Default().
	Config *config.Config
}
