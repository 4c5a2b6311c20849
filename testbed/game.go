package testbed

import (
	"fmt"
	"path/filepath"

	"github.com/spaghettifunk/anima-caf/engine"
	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/config"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/math"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

// seconds a clip plays before the testbed moves on to the next one
const clipPlaySeconds = 3.0

type TestGame struct {
	*engine.Game
}

type gameState struct {
	set      *systems.AnimationSet
	names    []string
	current  int
	skeleton *animation.Skeleton
	pose     []animation.JointPose

	ntime    float32
	played   float64
	sinceLog float64
	sampled  int
}

// Biped returns the skeleton the testbed samples. Joint names follow the Bip01 convention.
func Biped() *animation.Skeleton {
	identity := math.QuatT{Q: math.NewQuatIdentity()}
	return animation.NewSkeleton([]animation.Joint{
		{Name: "Bip01", Parent: -1, DefaultPose: identity},
		{Name: "Bip01 Pelvis", Parent: 0, DefaultPose: identity},
		{Name: "Bip01 Spine", Parent: 1, DefaultPose: identity},
		{Name: "Bip01 L Thigh", Parent: 1, DefaultPose: identity},
		{Name: "Bip01 R Thigh", Parent: 1, DefaultPose: identity},
	})
}

func NewTestGame(cfg *config.Config) (*TestGame, error) {
	if cfg == nil {
		return nil, fmt.Errorf("func NewTestGame - configuration is required")
	}
	skeleton := Biped()
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:   "Anima CAF Testbed",
				Config: cfg,
			},
			State: &gameState{
				skeleton: skeleton,
				pose:     make([]animation.JointPose, len(skeleton.Joints)),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers")
	}

	cfg := g.ApplicationConfig.Config
	if cfg.Animation.List == "" {
		core.LogWarn("no animation list configured, nothing to play")
		return nil
	}
	list := cfg.Animation.List
	if !filepath.IsAbs(list) {
		list = filepath.Join(cfg.Animation.Directory, list)
	}
	set, err := g.SystemManager.AnimationSystem.LoadAnimationSet(list)
	if err != nil {
		return err
	}

	state := g.State.(*gameState)
	state.set = set
	state.names = set.Names()
	core.LogInfo("animation set %s: %v", set.Name, state.names)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	if state.set == nil || len(state.names) == 0 {
		return nil
	}

	name := state.names[state.current]
	h, ok := state.set.Get(name)
	if !ok || h.IsAssetNotFound() {
		g.next(state)
		return nil
	}
	if !h.IsAssetCreated() {
		// still streaming
		return nil
	}

	if duration := h.DurationSec(); duration > 0 {
		state.ntime += float32(deltaTime) / duration
	}
	if state.ntime > 1 {
		if h.IsCycle() {
			state.ntime -= float32(int(state.ntime))
		} else {
			state.ntime = 1
		}
	}

	if err := animation.SamplePose(h, state.ntime, state.skeleton, state.pose); err != nil {
		return err
	}
	state.sampled++

	state.sinceLog += deltaTime
	if state.sinceLog >= 1 {
		state.sinceLog = 0
		root := state.pose[0]
		fps, frameTime := core.MetricsFrame()
		core.LogDebug("FPS: %5.1f(%4.1fms) %s t=%.2f root pos=[%7.3f %7.3f %7.3f] rot=[%6.3f %6.3f %6.3f %6.3f]",
			fps, frameTime, name, state.ntime,
			root.Position.X, root.Position.Y, root.Position.Z,
			root.Rotation.X, root.Rotation.Y, root.Rotation.Z, root.Rotation.W)
	}

	state.played += deltaTime
	if state.played >= clipPlaySeconds {
		g.next(state)
	}
	return nil
}

func (g *TestGame) next(state *gameState) {
	state.current = (state.current + 1) % len(state.names)
	state.ntime = 0
	state.played = 0
}

// Current is the name of the clip being played.
func (g *TestGame) Current() string {
	state := g.State.(*gameState)
	if len(state.names) == 0 {
		return ""
	}
	return state.names[state.current]
}

// Pose is the last sampled pose, indexed like Biped().Joints.
func (g *TestGame) Pose() []animation.JointPose {
	return g.State.(*gameState).pose
}

// Sampled counts the frames a pose was sampled in.
func (g *TestGame) Sampled() int {
	return g.State.(*gameState).sampled
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	if state.set != nil {
		state.set.Release()
		state.set = nil
	}
	return nil
}
