package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ormasoftchile/stepscript/pkg/script"
)

// ErrOutsideRoot is returned for asset references that escape the asset
// directory.
var ErrOutsideRoot = errors.New("asset path escapes root")

// Assets resolves reference-image paths stored in documents.
type Assets interface {
	// Resolve maps a stored reference to a local file. It returns
	// ErrNotFound when the file does not exist.
	Resolve(ref string) (string, error)
}

// DirAssets resolves references relative to a directory.
type DirAssets struct {
	Root string
}

func (d DirAssets) Resolve(ref string) (string, error) {
	rel := script.NormalizeAssetPath(ref)
	if rel == "" {
		return "", fmt.Errorf("asset %q: empty path", ref)
	}
	if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("asset %q: %w", ref, ErrOutsideRoot)
	}
	p := filepath.Join(d.Root, filepath.FromSlash(rel))
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("asset %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("asset %q: %w", ref, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("asset %q: is a directory", ref)
	}
	return p, nil
}

// MissingAssets lists the reference images of s that cannot be resolved,
// one "pool_key: error" line each, in pool key order.
func MissingAssets(a Assets, s script.Script) []string {
	keys := make([]string, 0, len(s.ActionPool))
	for k := range s.ActionPool {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		vc, ok := s.ActionPool[key].Payload.(script.VisionCheck)
		if !ok {
			continue
		}
		for _, ref := range vc.ReferenceImages {
			if _, err := a.Resolve(ref); err != nil {
				out = append(out, fmt.Sprintf("%s: %v", key, err))
			}
		}
	}
	return out
}
