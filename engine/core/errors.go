package core

import (
	"errors"
)

var (
	ErrNotInitialized = errors.New("system not initialized")
	ErrShuttingDown   = errors.New("engine is shutting down")
	ErrInvalidID      = errors.New("invalid identifier")
	ErrUnknown        = errors.New("unknown")
)
