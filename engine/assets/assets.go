package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-caf/engine/assets/loaders"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/resources"
)

var ErrAssetNotFound = fmt.Errorf("asset not found: %w", fs.ErrNotExist)

type AssetInfo struct {
	Path       string                 `json:"path"`
	Type       resources.ResourceType `json:"type"`
	LastLoaded time.Time              `json:"last_loaded"`
	Changes    int                    `json:"changes"`
}

type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[resources.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	watching bool
	isClosed bool
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[resources.ResourceType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(resources.ResourceTypeBinary, &loaders.BinaryLoader{})
	am.registerLoader(resources.ResourceTypeAnimation, &loaders.BinaryLoader{})
	am.registerLoader(resources.ResourceTypeAnimationList, &loaders.AnimationListLoader{})

	return am, nil
}

/**
 * @brief Indexes every asset below assetsDir. With watch set, changes to
 * the tree are tracked and fire EVENT_CODE_ANIMATION_FILE_CHANGED for clips.
 */
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	if _, err := os.Stat(assetsDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			core.LogWarn("asset directory %s does not exist", assetsDir)
			return nil
		}
		return err
	}

	if watch {
		am.watching = true
		go am.start()
	}

	if err := am.addRecursive(assetsDir); err != nil {
		return err
	}
	core.LogInfo("asset manager indexed %d assets in %s (watch=%v)", am.Count(), assetsDir, watch)
	return nil
}

// AddRecursive indexes the named directory and, when watching, all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	return am.watchRecursive(name)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType resources.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

/**
 * @brief Loads an asset with the loader of resourceType. Files created
 * after indexing are picked up on first use.
 */
func (am *AssetManager) LoadAsset(path string, resourceType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	path = NormalizePath(path)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		if fi, err := os.Stat(path); err != nil || fi.IsDir() {
			am.mutex.Unlock()
			return nil, fmt.Errorf("%s: %w", path, ErrAssetNotFound)
		}
		asset = AssetInfo{Path: path, Type: resourceType}
	}
	// Load or reload asset from disk if necessary
	asset.LastLoaded = time.Now()
	am.assets[path] = asset // Update the loaded time
	loader, loaderExists := am.loaders[resourceType]
	am.mutex.Unlock()

	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", resourceType)
	}

	res, err := loader.Load(path, resourceType, params)
	if errors.Is(err, fs.ErrNotExist) {
		am.removeAsset(path)
		return nil, fmt.Errorf("%s: %w", path, ErrAssetNotFound)
	}
	return res, err
}

func (am *AssetManager) UnloadAsset(asset *resources.Resource) error {
	if asset == nil {
		return nil
	}
	am.mutex.RLock()
	loader, ok := am.loaders[asset.Type]
	am.mutex.RUnlock()
	if !ok {
		return nil
	}
	return loader.Unload(asset)
}

// Assets returns the indexed assets sorted by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	am.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.watching {
		<-am.stopped
		return nil
	}
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			name := NormalizePath(e.Name)
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %v", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(name, true) == resources.ResourceTypeAnimation {
					var ctx core.EventContext
					ctx.Data.C[0] = name
					core.EventFire(core.EVENT_CODE_ANIMATION_FILE_CHANGED, am, ctx)
				}
			}
			//Can't stat a deleted directory, so just pretend that it's always a directory and
			//try to remove from the watch list...  we really have no clue if it's a directory or not...
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
// this is probably a very racey process. What if a file is added to a folder before we get the watch added?
func (am *AssetManager) watchRecursive(path string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	wd = wd + string(filepath.Separator) // add trailing slash
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if !am.watching {
				return nil
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(NormalizePath(strings.TrimPrefix(walkPath, wd)), false)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string, changed bool) resources.ResourceType {
	assetType := determineAssetType(path)
	if assetType == resources.ResourceTypeNone {
		return assetType
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	if changed {
		info.Changes++
	}
	am.assets[path] = info
	return assetType
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

// NormalizePath is the form asset paths are indexed and compared in.
func NormalizePath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func determineAssetType(path string) resources.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".caf":
		return resources.ResourceTypeAnimation
	case ".yaml", ".yml":
		return resources.ResourceTypeAnimationList
	case ".bin":
		return resources.ResourceTypeBinary
	default:
		return resources.ResourceTypeNone
	}
}
