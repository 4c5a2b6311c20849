/*
Testbed for the animation engine: loads the configured animation set,
streams its clips and samples poses every frame.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-caf/engine"
	"github.com/spaghettifunk/anima-caf/engine/config"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/testbed"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file, defaults are used when empty")
	inspectAddr := flag.String("inspect", "", "address of the debug HTTP inspector, overrides the configuration")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			core.LogFatal("failed to load configuration: %v", err)
		}
	}
	if *inspectAddr != "" {
		cfg.Inspector.Address = *inspectAddr
	}

	tb, err := testbed.NewTestGame(cfg)
	if err != nil {
		core.LogFatal(err.Error())
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// stop the frame loop on sigterm and other system calls
	go func() {
		<-sigCh
		e.Stop()
	}()

	// run engine
	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown failed: %v", err)
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
