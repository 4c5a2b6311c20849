package loaders

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/anima-caf/engine/resources"
)

type BinaryLoader struct{}

/**
 * @brief Reads a whole file. With *resources.BinaryResourceParams the
 * caller may provide the destination buffer, sized to the file.
 */
func (bl *BinaryLoader) Load(path string, assetType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	var alloc func(uint64) []byte
	switch p := params.(type) {
	case nil:
	case *resources.BinaryResourceParams:
		alloc = p.Alloc
	default:
		return nil, fmt.Errorf("failed to cast params in binary loader: %T", params)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf []byte
	size := uint64(fi.Size())
	if alloc != nil {
		if b := alloc(size); uint64(len(b)) >= size {
			buf = b[:size]
		}
	}
	if buf == nil {
		buf, err = io.ReadAll(f)
	} else {
		_, err = io.ReadFull(f, buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &resources.Resource{
		Type:     assetType,
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(*resources.Resource) error {
	return nil
}
