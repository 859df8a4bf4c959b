package cache

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PythonAdapter compiles a Python source file into a Capsule
// WebAssembly component with componentize-py.
type PythonAdapter struct{}

func (PythonAdapter) Language() string { return "python" }

func (a PythonAdapter) Compile(sourcePath, cacheDir string) (*Artifact, error) {
	sourcePath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve python source path: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	outputWasm := filepath.Join(cacheDir, GenerateWasmFilename(sourcePath))

	stale, err := IsStale(sourcePath, outputWasm, isPythonSourceFile)
	if err != nil {
		return nil, fmt.Errorf("check python staleness: %w", err)
	}

	witDir, err := WitDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve wit dir: %w", err)
	}
	bootloaderPath := filepath.Join(cacheDir, "_capsule_boot.py")

	if !stale {
		return &Artifact{Path: outputWasm, WitDir: witDir, BootloaderPath: bootloaderPath}, nil
	}

	sdkPath, err := a.sdkPath(cacheDir)
	if err != nil {
		return nil, err
	}

	moduleName := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	bootloader := fmt.Sprintf(
		"# Auto-generated bootloader for Capsule\n\nimport %s\nfrom capsule.app import TaskRunner, exports\n",
		moduleName,
	)
	if err := os.WriteFile(bootloaderPath, []byte(bootloader), 0o644); err != nil {
		return nil, fmt.Errorf("write bootloader: %w", err)
	}

	sourceDir := filepath.Dir(sourcePath)
	pythonPath := os.Getenv("PYTHONPATH")

	args := []string{
		"-d", witDir,
		"-w", "capsule-agent",
		"componentize", "_capsule_boot",
		"-p", cacheDir,
		"-p", sourceDir,
		"-p", sdkPath,
	}
	if pythonPath != "" {
		args = append(args, "-p", pythonPath)
	}
	args = append(args, "-o", outputWasm)

	cmd := exec.Command("componentize-py", args...)
	cmd.Dir = sourceDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("componentize-py failed: %s", strings.TrimSpace(string(out)))
	}

	if err := touch(outputWasm); err != nil {
		return nil, fmt.Errorf("touch artifact: %w", err)
	}

	return &Artifact{Path: outputWasm, WitDir: witDir, BootloaderPath: bootloaderPath}, nil
}

func (a PythonAdapter) sdkPath(cacheDir string) (string, error) {
	var fallback string
	if exe, err := os.Executable(); err == nil {
		root := exe
		for i := 0; i < 4; i++ {
			root = filepath.Dir(root)
		}
		fallback = filepath.Join(root, "sdk", "python", "src")
	}
	path, err := SDKPath("CAPSULE_SDK_PATH", fallback)
	if err != nil {
		return "", fmt.Errorf(
			"cannot find Python SDK; set CAPSULE_SDK_PATH: %w", err,
		)
	}
	return path, nil
}

func isPythonSourceFile(path string) bool {
	return strings.HasSuffix(path, ".py")
}
