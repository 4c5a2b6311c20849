package resources

import "fmt"

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Files the asset manager ignores. */
	ResourceTypeNone ResourceType = iota
	/** @brief Binary resource type, read as raw bytes. */
	ResourceTypeBinary
	/** @brief A chunked .caf animation clip. */
	ResourceTypeAnimation
	/** @brief A YAML list naming the clips of a character. */
	ResourceTypeAnimationList
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeNone:
		return "none"
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeAnimation:
		return "animation"
	case ResourceTypeAnimationList:
		return "animation_list"
	}
	return fmt.Sprintf("ResourceType(%d)", int(t))
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The resource type the loader produced. */
	Type ResourceType
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. []byte for binaries, *AnimationList for lists. */
	Data interface{}
}

/**
 * @brief Parameters of a binary load. Alloc may hand out the buffer the
 * file is read into; returning nil lets the loader allocate.
 */
type BinaryResourceParams struct {
	Alloc func(size uint64) []byte
}

// AnimationListEntry binds an animation name to a clip file.
type AnimationListEntry struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	// Stream the clip when first needed instead of loading it up front.
	OnDemand bool `yaml:"on_demand"`
}

// AnimationList is the parsed form of an animation list file.
type AnimationList struct {
	// Directory clip files are relative to. Defaults to the list's own directory.
	Root       string               `yaml:"root,omitempty"`
	Animations []AnimationListEntry `yaml:"animations"`
}
