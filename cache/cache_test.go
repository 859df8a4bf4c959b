package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateWasmFilenameDeterministic(t *testing.T) {
	a := GenerateWasmFilename("/home/user/project/main.py")
	b := GenerateWasmFilename("/home/user/project/main.py")
	if a != b {
		t.Fatalf("expected deterministic filename, got %q and %q", a, b)
	}
	if filepath.Ext(a) != ".wasm" {
		t.Fatalf("expected .wasm extension, got %q", a)
	}
}

func TestGenerateWasmFilenameDiffersByPath(t *testing.T) {
	a := GenerateWasmFilename("/home/user/project/main.py")
	b := GenerateWasmFilename("/home/user/other/main.py")
	if a == b {
		t.Fatalf("expected distinct filenames for distinct paths, got %q for both", a)
	}
}

func TestIsStaleMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	if err := os.WriteFile(source, []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale, err := IsStale(source, filepath.Join(dir, "missing.wasm"), isPythonSourceFile)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Fatal("expected missing artifact to be stale")
	}
}

func TestIsStaleFreshArtifact(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	artifact := filepath.Join(dir, "main.wasm")

	if err := os.WriteFile(source, []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(source, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale, err := IsStale(source, artifact, isPythonSourceFile)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Fatal("expected fresh artifact to not be stale")
	}
}

func TestIsStaleSiblingNewer(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	sibling := filepath.Join(dir, "helper.py")
	artifact := filepath.Join(dir, "main.wasm")

	past := time.Now().Add(-time.Hour)
	if err := os.WriteFile(source, []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(source, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(artifact, past, past); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(sibling, []byte("print(2)"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale, err := IsStale(source, artifact, isPythonSourceFile)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Fatal("expected newer sibling source file to mark the artifact stale")
	}
}

func TestIsStaleSkipsDotDirsAndNodeModules(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.js")
	artifact := filepath.Join(dir, "main.wasm")

	past := time.Now().Add(-time.Hour)
	if err := os.WriteFile(source, []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(source, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(artifact, past, past); err != nil {
		t.Fatal(err)
	}

	nodeModules := filepath.Join(dir, "node_modules")
	if err := os.MkdirAll(nodeModules, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nodeModules, "dep.js"), []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	dotDir := filepath.Join(dir, ".capsule")
	if err := os.MkdirAll(dotDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dotDir, "cached.js"), []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale, err := IsStale(source, artifact, isJavascriptSourceFile)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Fatal("expected node_modules and dot-directories to be excluded from staleness checks")
	}
}
