package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromFileMissingManifestUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	writeFile(t, source, "print(1)")

	m, err := LoadFromFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entrypoint() != "" {
		t.Fatalf("expected empty entrypoint, got %q", m.Entrypoint())
	}

	policy, err := m.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if policy.Compute.AsFuel() != 100_000_000 {
		t.Fatalf("expected default Low compute, got fuel %d", policy.Compute.AsFuel())
	}
	if policy.MaxRetries != 1 {
		t.Fatalf("expected default max_retries 1, got %d", policy.MaxRetries)
	}
}

func TestLoadFromFileParsesManifest(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	writeFile(t, source, "print(1)")
	writeFile(t, filepath.Join(dir, "capsule.toml"), `
[workflow]
name = "demo"
version = "1.0.0"
entrypoint = "main.py"

[tasks]
default_compute = "high"
default_ram = "256MB"
default_timeout = "30s"
default_max_retries = 3
default_allowed_files = ["."]
`)

	m, err := LoadFromFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entrypoint() != "main.py" {
		t.Fatalf("expected entrypoint main.py, got %q", m.Entrypoint())
	}

	policy, err := m.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if policy.Compute.AsFuel() != 50_000_000_000 {
		t.Fatalf("expected High compute tier, got fuel %d", policy.Compute.AsFuel())
	}
	if policy.RAM == nil || *policy.RAM != 256*1024*1024 {
		t.Fatalf("expected 256MB RAM ceiling, got %v", policy.RAM)
	}
	if policy.Timeout == nil || *policy.Timeout != 30_000 {
		t.Fatalf("expected 30000ms timeout, got %v", policy.Timeout)
	}
	if policy.MaxRetries != 3 {
		t.Fatalf("expected max_retries 3, got %d", policy.MaxRetries)
	}
	if len(policy.AllowedFiles) != 1 || policy.AllowedFiles[0] != "." {
		t.Fatalf("expected allowed_files [.], got %v", policy.AllowedFiles)
	}
}

func TestLoadFromFilePrefersLowercaseToml(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	writeFile(t, source, "print(1)")
	writeFile(t, filepath.Join(dir, "capsule.toml"), `[workflow]
entrypoint = "lower.py"
`)
	writeFile(t, filepath.Join(dir, "Capsule.toml"), `[workflow]
entrypoint = "upper.py"
`)

	m, err := LoadFromFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entrypoint() != "lower.py" {
		t.Fatalf("expected lowercase capsule.toml to take precedence, got %q", m.Entrypoint())
	}
}

func TestPolicyRejectsUnrecognizedComputeTier(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	writeFile(t, source, "print(1)")
	writeFile(t, filepath.Join(dir, "capsule.toml"), `[tasks]
default_compute = "ultra"
`)

	m, err := LoadFromFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Policy(); err == nil {
		t.Fatal("expected error for unrecognized compute tier")
	}
}
