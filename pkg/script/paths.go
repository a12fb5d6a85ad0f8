package script

import (
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NormalizeAssetPath converts a reference-image path to the portable
// forward-slash form used across the asset-store boundary.
func NormalizeAssetPath(p string) string {
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if p == "." {
		return ""
	}
	return p
}

// NormalizeAssets returns a copy of a whose reference-image paths are in
// portable form. Actions without assets are returned unchanged.
func NormalizeAssets(a Action) Action {
	vc, ok := a.Payload.(VisionCheck)
	if !ok {
		return a
	}
	vc = vc.clone().(VisionCheck)
	for i, ref := range vc.ReferenceImages {
		vc.ReferenceImages[i] = NormalizeAssetPath(ref)
	}
	a.Payload = vc
	return a
}

// NewID returns a fresh identifier such as "step-1f0c2a9e4b7d".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// maxDraws bounds how often UniqueID consults gen before falling back to
// counter suffixes.
const maxDraws = 16

// UniqueID draws ids from gen until one is not taken. A generator that keeps
// repeating itself is given up on after maxDraws attempts; the last draw (or
// prefix) then gets the first free numeric suffix. taken must describe a
// finite set.
func UniqueID(prefix string, gen func(string) string, taken func(string) bool) string {
	if gen == nil {
		gen = NewID
	}
	base := ""
	for range maxDraws {
		id := gen(prefix)
		if id != "" && !taken(id) {
			return id
		}
		if id != "" {
			base = id
		}
	}
	if base == "" {
		base = prefix
	}
	if base == "" {
		base = "id"
	}
	for n := 2; ; n++ {
		id := base + "-" + strconv.Itoa(n)
		if !taken(id) {
			return id
		}
	}
}
