package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AnimationConfig holds the streaming and sampling tunables.
type AnimationConfig struct {
	// Payloads at or above this size are decoded straight into a pinned heap block.
	MinInPlaceCAFStreamSize uint32 `toml:"min_inplace_caf_stream_size"`
	// Stream standalone .caf files on demand instead of loading them synchronously.
	StreamCAF bool `toml:"stream_caf"`
	// Accept legacy PQLog and TCB controller chunks.
	LoadUncompressedChunks bool `toml:"load_uncompressed_chunks"`
	// Log every acquire and release of an animation.
	DebugAnimUsage bool `toml:"debug_anim_usage"`
	// Directory scanned for clips and watched for hot reload.
	Directory string `toml:"animation_dir"`
	// YAML list mapping animation names to clip files, relative to Directory.
	List string `toml:"animation_list"`
	// Reload clips whose files change on disk.
	HotReload bool `toml:"hot_reload"`
	// Upper bound of clips registered at once.
	MaxAnimations uint32 `toml:"max_animations"`
}

// HeapConfig sizes the controller heap.
type HeapConfig struct {
	Size uint64 `toml:"heap_size"`
	// Upper bound of bytes moved per Update.
	DefragBudget uint64 `toml:"defrag_budget"`
}

// StreamConfig sizes the streaming worker pool.
type StreamConfig struct {
	Workers   int `toml:"stream_workers"`
	QueueSize int `toml:"stream_queue_size"`
}

// InspectorConfig controls the debug HTTP server. An empty address disables it.
type InspectorConfig struct {
	Address string `toml:"address"`
}

type Config struct {
	LogLevel  string          `toml:"log_level"`
	FrameRate int             `toml:"frame_rate"`
	Animation AnimationConfig `toml:"animation"`
	Heap      HeapConfig      `toml:"heap"`
	Stream    StreamConfig    `toml:"stream"`
	Inspector InspectorConfig `toml:"inspector"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		FrameRate: 60,
		Animation: AnimationConfig{
			MinInPlaceCAFStreamSize: 4 * 1024,
			StreamCAF:               true,
			LoadUncompressedChunks:  true,
			Directory:               "assets/animations",
			List:                    "animations.yaml",
			HotReload:               false,
			MaxAnimations:           4096,
		},
		Heap: HeapConfig{
			Size:         32 * 1024 * 1024,
			DefragBudget: 256 * 1024,
		},
		Stream: StreamConfig{
			Workers:   2,
			QueueSize: 64,
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Heap.Size == 0 {
		return fmt.Errorf("heap.heap_size must be > 0")
	}
	if c.Animation.MaxAnimations == 0 {
		return fmt.Errorf("animation.max_animations must be > 0")
	}
	if c.Stream.Workers <= 0 {
		return fmt.Errorf("stream.stream_workers must be > 0")
	}
	if c.Stream.QueueSize < 0 {
		return fmt.Errorf("stream.stream_queue_size must be >= 0")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be > 0")
	}
	return nil
}

// FrameDuration is the target duration of one update.
func (c *Config) FrameDuration() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

// Encode renders the configuration back to TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
