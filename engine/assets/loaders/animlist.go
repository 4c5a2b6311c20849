package loaders

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima-caf/engine/resources"
	"gopkg.in/yaml.v3"
)

// AnimationListLoader reads the YAML list mapping animation names to clips.
type AnimationListLoader struct{}

func (al *AnimationListLoader) Load(path string, assetType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	list, err := DecodeAnimationList(f)
	if err != nil {
		return nil, errors.Wrapf(err, "animation list %s", path)
	}
	if list.Root == "" {
		list.Root = filepath.Dir(path)
	} else if !filepath.IsAbs(list.Root) {
		list.Root = filepath.Join(filepath.Dir(path), list.Root)
	}

	return &resources.Resource{
		Type:     assetType,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		DataSize: uint64(len(list.Animations)),
		Data:     list,
	}, nil
}

func (al *AnimationListLoader) Unload(*resources.Resource) error {
	return nil
}

/**
 * @brief Decodes and validates an animation list. Names must be unique and
 * every entry needs a .caf file.
 */
func DecodeAnimationList(r io.Reader) (*resources.AnimationList, error) {
	var list resources.AnimationList
	if err := yaml.NewDecoder(r).Decode(&list); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to unmarshal yaml")
	}

	seen := make(map[string]struct{}, len(list.Animations))
	for i, e := range list.Animations {
		if e.Name == "" {
			return nil, fmt.Errorf("entry %d has no name", i)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("animation %q listed twice", e.Name)
		}
		seen[e.Name] = struct{}{}
		if !strings.EqualFold(filepath.Ext(e.File), ".caf") {
			return nil, fmt.Errorf("animation %q: %q is not a .caf file", e.Name, e.File)
		}
	}
	return &list, nil
}
