// Package cache is the content-addressed compile cache: a source
// path maps deterministically to a WebAssembly artifact path under a
// per-project .capsule directory, rebuilt only when the source tree
// has changed since the artifact was produced.
package cache

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// DirName is the cache directory that lives beside the source.
const DirName = ".capsule"

// Artifact is a compiled WebAssembly component file plus the
// supporting files the compile cache generates alongside it.
type Artifact struct {
	// Path is the component file, e.g. .capsule/main_1a2b3c4d.wasm.
	Path string
	// WitDir is the materialized interface-definition directory.
	WitDir string
	// BootloaderPath is the generated adapter source that imports the
	// user's module and re-exports the expected symbol.
	BootloaderPath string
}

// GenerateWasmFilename deterministically derives the artifact file
// name for a source path:
// <stem>_<8 hex chars of BLAKE3(path)>.wasm.
func GenerateWasmFilename(sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if stem == "" {
		stem = "capsule"
	}

	sum := blake3.Sum256([]byte(sourcePath))
	hash := hex.EncodeToString(sum[:])

	return fmt.Sprintf("%s_%s.wasm", stem, hash[:8])
}

// Adapter is implemented once per supported source language. Compile
// produces a ready-to-instantiate artifact and reports the directory
// that should be passed to the runtime as the project's cache root.
type Adapter interface {
	// Language names the adapter, e.g. "python" or "javascript".
	Language() string
	// Compile builds sourcePath into an Artifact under cacheDir,
	// reusing an existing artifact when it is not stale.
	Compile(sourcePath, cacheDir string) (*Artifact, error)
}

// CacheDirFor returns the .capsule directory that lives beside
// sourcePath.
func CacheDirFor(sourcePath string) string {
	return filepath.Join(filepath.Dir(sourcePath), DirName)
}

// IsStale reports whether the artifact needs rebuilding:
//  1. the artifact does not exist;
//  2. the source file's modification time exceeds the artifact's;
//  3. any sibling file of the same language (recursively, skipping
//     dot-directories and node_modules) has a newer modification time.
func IsStale(sourcePath, artifactPath string, isSourceFile func(string) bool) (bool, error) {
	artifactInfo, err := os.Stat(artifactPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat artifact %s: %w", artifactPath, err)
	}
	artifactModTime := artifactInfo.ModTime()

	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return false, fmt.Errorf("stat source %s: %w", sourcePath, err)
	}
	if sourceInfo.ModTime().After(artifactModTime) {
		return true, nil
	}

	root := filepath.Dir(sourcePath)
	stale := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSourceFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(artifactModTime) {
			stale = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return false, fmt.Errorf("walk source tree %s: %w", root, walkErr)
	}

	return stale, nil
}

// touch sets an artifact's modification time to now, used after a
// fresh compile so the next staleness check has an accurate baseline.
func touch(path string) error {
	now := time.Now()
	return os.Chtimes(path, now, now)
}
