package systems

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/resources"
)

type animationSetEntry struct {
	name     string
	header   *animation.GlobalAnimationHeaderCAF
	id       uint32
	onDemand bool
}

/**
 * @brief The clips of one character, looked up by name. Built from an
 * animation list file; every entry holds one reference on its header
 * until Release.
 */
type AnimationSet struct {
	Name    string
	system  *AnimationSystem
	entries map[string]*animationSetEntry
}

/**
 * @brief Reads the animation list at path and acquires every clip it
 * names. Entries marked on_demand are only registered; Get starts their
 * stream. A clip that fails to load is kept in the set as not found.
 */
func (as *AnimationSystem) LoadAnimationSet(path string) (*AnimationSet, error) {
	res, err := as.assetManager.LoadAsset(path, resources.ResourceTypeAnimationList, nil)
	if err != nil {
		core.LogError("failed to load animation list %s: %v", path, err)
		return nil, err
	}
	list, ok := res.Data.(*resources.AnimationList)
	if !ok {
		return nil, fmt.Errorf("animation list %s decoded to %T", path, res.Data)
	}

	set := &AnimationSet{
		Name:    res.Name,
		system:  as,
		entries: make(map[string]*animationSetEntry, len(list.Animations)),
	}
	for _, e := range list.Animations {
		clip := filepath.Join(list.Root, e.File)
		var h *animation.GlobalAnimationHeaderCAF
		var id uint32
		if e.OnDemand {
			h, id, err = as.AcquireOnDemand(clip)
		} else {
			h, id, err = as.Acquire(clip)
		}
		if h == nil {
			set.Release()
			return nil, fmt.Errorf("animation set %s: %s: %w", set.Name, e.Name, err)
		}
		if err != nil {
			core.LogWarn("animation set %s: %s will not play: %v", set.Name, e.Name, err)
		}
		set.entries[e.Name] = &animationSetEntry{name: e.Name, header: h, id: id, onDemand: e.OnDemand}
	}
	core.LogInfo("animation set %s loaded with %d animations", set.Name, len(set.entries))
	return set, nil
}

/**
 * @brief Returns the header of the named animation. An on-demand clip that
 * is not loaded yet starts streaming; callers sample once it is created.
 */
func (s *AnimationSet) Get(name string) (*animation.GlobalAnimationHeaderCAF, bool) {
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	if e.onDemand && e.header.State() == animation.StateNotCreated {
		if err := s.system.StartStreaming(e.header); err != nil {
			core.LogWarn("failed to stream %s: %v", e.header.FilePath, err)
		}
	}
	return e.header, true
}

// ID returns the global id of the named animation.
func (s *AnimationSet) ID(name string) (uint32, bool) {
	e, ok := s.entries[name]
	if !ok {
		return core.InvalidID, false
	}
	return e.id, true
}

// Names lists the animations of the set in order.
func (s *AnimationSet) Names() []string {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *AnimationSet) Len() int {
	return len(s.entries)
}

// Ready reports whether every non on-demand clip finished loading or failed.
func (s *AnimationSet) Ready() bool {
	for _, e := range s.entries {
		if e.onDemand {
			continue
		}
		switch e.header.State() {
		case animation.StateRequested, animation.StateLoading:
			return false
		}
	}
	return true
}

// Release drops the references of every clip in the set.
func (s *AnimationSet) Release() {
	for name, e := range s.entries {
		s.system.Release(e.header)
		delete(s.entries, name)
	}
}
