// Package hashing computes the stable content hashes that drive the
// pipeline's incremental-build decisions.
//
// Hashes are 16 hex characters — a truncated SHA-256. That is deliberately a
// local build-cache hash, not a content-addressed-storage hash: collisions
// only cost a spurious rebuild on one developer's machine, never a shared
// correctness failure.
package hashing

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingMtl indicates an OBJ file has no sibling MTL. A family hash over
// an incomplete family would silently pin stale materials, so this is a hard
// failure.
var ErrMissingMtl = errors.New("hashing: missing sibling mtl file")

// ErrMissingTexture indicates a texture referenced by an MTL does not exist.
var ErrMissingTexture = errors.New("hashing: missing texture referenced by mtl")

// QuickHash returns the 16-hex-digit hash of a single file. It covers the
// file's basename, size, and modification time in nanoseconds — not the
// content — so conversion staleness checks cost one stat instead of a read.
func QuickHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("hashing: stat %q: %w", path, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d", filepath.Base(path), info.Size(), info.ModTime().UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// ObjFamilyHash returns the composed hash of an OBJ model family: the OBJ
// itself, its sibling MTL (same basename, .mtl extension), and every texture
// the MTL declares, in declaration order. Any missing member fails loudly —
// a quiet skip here would mean shipping a model with stale or absent textures.
func ObjFamilyHash(objPath string) (string, error) {
	quick, err := QuickHash(objPath)
	if err != nil {
		return "", err
	}
	parts := []string{quick}

	mtlPath := strings.TrimSuffix(objPath, filepath.Ext(objPath)) + ".mtl"
	if _, err := os.Stat(mtlPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingMtl, mtlPath)
	}
	mtlHash, err := QuickHash(mtlPath)
	if err != nil {
		return "", err
	}
	parts = append(parts, mtlHash)

	textures, err := TexturesInMtl(mtlPath)
	if err != nil {
		return "", err
	}
	for _, tex := range textures {
		texPath := tex
		if !filepath.IsAbs(texPath) {
			texPath = filepath.Join(filepath.Dir(mtlPath), tex)
		}
		texHash, err := QuickHash(texPath)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrMissingTexture, texPath)
		}
		parts = append(parts, texHash)
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// textureDirectives lists the MTL statements that reference image files.
var textureDirectives = []string{
	"map_Kd", "map_Ks", "map_Ka", "map_Bump", "bump", "map_d",
}

// TexturesInMtl parses an MTL file and returns the texture paths it declares,
// in declaration order, without duplicates. Only the final argument of each
// map directive is taken (options like -bm precede the filename).
func TexturesInMtl(mtlPath string) ([]string, error) {
	f, err := os.Open(mtlPath)
	if err != nil {
		return nil, fmt.Errorf("hashing: open mtl %q: %w", mtlPath, err)
	}
	defer f.Close()

	var (
		out  []string
		seen = map[string]bool{}
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		for _, directive := range textureDirectives {
			if fields[0] == directive {
				tex := fields[len(fields)-1]
				if !seen[tex] {
					seen[tex] = true
					out = append(out, tex)
				}
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hashing: read mtl %q: %w", mtlPath, err)
	}
	return out, nil
}

// HashString returns the 16-hex-digit hash of an arbitrary string. Used for
// content-generation request keys, where the input is already in memory.
func HashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
