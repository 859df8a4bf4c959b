// Package manifest loads capsule.toml / Capsule.toml, the declarative
// per-project defaults consulted by the CLI before falling back to
// runtime.DefaultPolicy.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"

	"github.com/mavdol/capsule-go/runtime"
)

// Workflow mirrors the [workflow] table.
type Workflow struct {
	Name       string `toml:"name"`
	Version    string `toml:"version"`
	Entrypoint string `toml:"entrypoint"`
}

// DefaultPolicy mirrors the [tasks] table. Sizes and durations are
// strings in the TOML source ("256MB", "30s") and parsed on demand
// by Policy, not at load time, so a malformed value surfaces as an
// error from Policy rather than from LoadFromFile.
type DefaultPolicy struct {
	DefaultCompute      string   `toml:"default_compute"`
	DefaultRAM          string   `toml:"default_ram"`
	DefaultTimeout      string   `toml:"default_timeout"`
	DefaultMaxRetries   *int     `toml:"default_max_retries"`
	DefaultAllowedFiles []string `toml:"default_allowed_files"`
}

// CapsuleToml is the root document shape.
type CapsuleToml struct {
	Workflow *Workflow      `toml:"workflow"`
	Tasks    *DefaultPolicy `toml:"tasks"`
}

// Manifest pairs a resolved source path with whatever capsule.toml
// was found beside it (or the zero value, if none was).
type Manifest struct {
	SourcePath  string
	CapsuleToml CapsuleToml
}

// LoadFromFile resolves path and loads the capsule.toml/Capsule.toml
// that lives in its directory, if any. A missing manifest file is not
// an error: CapsuleToml is left at its zero value and every lookup
// falls back to defaults.
func LoadFromFile(path string) (*Manifest, error) {
	sourcePath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(sourcePath); err == nil {
		sourcePath = resolved
	}

	var doc CapsuleToml
	if tomlPath := findCapsuleToml(filepath.Dir(sourcePath)); tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", tomlPath, err)
		}
	}

	return &Manifest{SourcePath: sourcePath, CapsuleToml: doc}, nil
}

func findCapsuleToml(dir string) string {
	for _, name := range []string{"capsule.toml", "Capsule.toml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Entrypoint returns workflow.entrypoint, or "" if unset.
func (m *Manifest) Entrypoint() string {
	if m.CapsuleToml.Workflow == nil {
		return ""
	}
	return m.CapsuleToml.Workflow.Entrypoint
}

// Policy builds a runtime.Policy from the [tasks] table layered over
// runtime.DefaultPolicy. A missing manifest yields the defaults.
func (m *Manifest) Policy() (runtime.Policy, error) {
	policy := runtime.DefaultPolicy()

	tasks := m.CapsuleToml.Tasks
	if tasks == nil {
		return policy, nil
	}

	if tasks.DefaultCompute != "" {
		compute, err := parseCompute(tasks.DefaultCompute)
		if err != nil {
			return policy, err
		}
		policy = policy.WithCompute(compute)
	}

	if tasks.DefaultRAM != "" {
		bytes, err := units.RAMInBytes(tasks.DefaultRAM)
		if err != nil {
			return policy, fmt.Errorf("tasks.default_ram %q: %w", tasks.DefaultRAM, err)
		}
		policy = policy.WithRAM(&bytes)
	}

	if tasks.DefaultTimeout != "" {
		d, err := time.ParseDuration(tasks.DefaultTimeout)
		if err != nil {
			return policy, fmt.Errorf("tasks.default_timeout %q: %w", tasks.DefaultTimeout, err)
		}
		ms := d.Milliseconds()
		policy = policy.WithTimeout(&ms)
	}

	if tasks.DefaultMaxRetries != nil {
		policy = policy.WithMaxRetries(*tasks.DefaultMaxRetries)
	}

	if tasks.DefaultAllowedFiles != nil {
		policy = policy.WithAllowedFiles(tasks.DefaultAllowedFiles)
	}

	return policy, nil
}

func parseCompute(name string) (runtime.Compute, error) {
	switch name {
	case "low", "Low":
		return runtime.Low(), nil
	case "medium", "Medium":
		return runtime.Medium(), nil
	case "high", "High":
		return runtime.High(), nil
	default:
		return runtime.Compute{}, fmt.Errorf("tasks.default_compute: unrecognized tier %q", name)
	}
}
