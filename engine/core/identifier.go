package core

import (
	"fmt"
	"sync"
)

// InvalidID marks an identifier that was never acquired.
const InvalidID uint32 = 4294967295

var (
	owners      []interface{}
	ownersMutex sync.Mutex
)

// IdentifierAquireNewID hands out the lowest free slot id for owner. Ids are
// reused once released.
func IdentifierAquireNewID(owner interface{}) uint32 {
	ownersMutex.Lock()
	defer ownersMutex.Unlock()

	if len(owners) == 0 {
		owners = make([]interface{}, 100)
	}
	for i := range owners {
		// Existing free spot. Take it.
		if owners[i] == nil {
			owners[i] = owner
			return uint32(i)
		}
	}

	// No existing free slots, push a new one.
	owners = append(owners, owner)
	return uint32(len(owners) - 1)
}

// IdentifierOwner returns the owner registered for id, or nil.
func IdentifierOwner(id uint32) interface{} {
	ownersMutex.Lock()
	defer ownersMutex.Unlock()
	if int(id) >= len(owners) {
		return nil
	}
	return owners[id]
}

func IdentifierReleaseID(id uint32) error {
	ownersMutex.Lock()
	defer ownersMutex.Unlock()

	if len(owners) == 0 {
		return fmt.Errorf("identifier release called before any id was acquired: %w", ErrNotInitialized)
	}
	if int(id) >= len(owners) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d): %w", id, len(owners), ErrInvalidID)
	}

	// Just zero out the entry, making it available for use.
	owners[id] = nil
	return nil
}
