//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Generates the fixture clips if needed and runs the testbed against them.
func (Run) Engine() error {
	mg.Deps(Gen.Fixtures)
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", "main.go", "-config", "anima.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
