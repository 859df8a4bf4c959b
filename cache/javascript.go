package cache

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// JavascriptAdapter compiles a JavaScript or TypeScript source file
// into a Capsule WebAssembly component with jco, transpiling through
// tsc first when given a .ts source.
type JavascriptAdapter struct{}

func (JavascriptAdapter) Language() string { return "javascript" }

func (a JavascriptAdapter) Compile(sourcePath, cacheDir string) (*Artifact, error) {
	sourcePath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve javascript source path: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	outputWasm := filepath.Join(cacheDir, GenerateWasmFilename(sourcePath))

	stale, err := IsStale(sourcePath, outputWasm, isJavascriptSourceFile)
	if err != nil {
		return nil, fmt.Errorf("check javascript staleness: %w", err)
	}

	witDir, err := WitDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve wit dir: %w", err)
	}
	bootloaderPath := filepath.Join(cacheDir, "_capsule_boot.js")

	if !stale {
		return &Artifact{Path: outputWasm, WitDir: witDir, BootloaderPath: bootloaderPath}, nil
	}

	sdkPath, err := a.sdkPath()
	if err != nil {
		return nil, err
	}

	sourceForImport := sourcePath
	if strings.HasSuffix(sourcePath, ".ts") {
		sourceForImport, err = a.transpileTypeScript(sourcePath, cacheDir)
		if err != nil {
			return nil, err
		}
	}

	sourceDir := filepath.Dir(sourcePath)
	moduleName := strings.TrimSuffix(filepath.Base(sourceForImport), filepath.Ext(sourceForImport))

	bootloader := fmt.Sprintf(
		"// Auto-generated bootloader for Capsule\n\n"+
			"// Import user module and SDK\n"+
			"import './%s.js';\n"+
			"import { exports } from '%s/capsule/app.js';\n\n"+
			"// Re-export the TaskRunner interface\n"+
			"export { exports };\n",
		moduleName, sdkPath,
	)
	if err := os.WriteFile(bootloaderPath, []byte(bootloader), 0o644); err != nil {
		return nil, fmt.Errorf("write bootloader: %w", err)
	}

	cmd := exec.Command("jco", "componentize", bootloaderPath,
		"--wit", witDir,
		"-n", "capsule-agent",
		"-o", outputWasm,
	)
	cmd.Dir = sourceDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("jco componentize failed: %s", strings.TrimSpace(string(out)))
	}

	if err := touch(outputWasm); err != nil {
		return nil, fmt.Errorf("touch artifact: %w", err)
	}

	return &Artifact{Path: outputWasm, WitDir: witDir, BootloaderPath: bootloaderPath}, nil
}

func (a JavascriptAdapter) transpileTypeScript(sourcePath, cacheDir string) (string, error) {
	moduleName := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	outputPath := filepath.Join(cacheDir, moduleName+".js")

	cmd := exec.Command("tsc", sourcePath,
		"--outDir", cacheDir,
		"--module", "esnext",
		"--target", "esnext",
		"--moduleResolution", "node",
		"--esModuleInterop",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("typescript compilation failed: %s", strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("typescript transpilation did not produce expected output %s", outputPath)
	}
	return outputPath, nil
}

// sdkPath resolves the JavaScript SDK source directory: an explicit
// env var first, then `npm root`-relative @capsule/sdk, then
// sdk/javascript/src under the directory four levels above the
// running binary.
func (a JavascriptAdapter) sdkPath() (string, error) {
	if path, ok := os.LookupEnv("CAPSULE_JS_SDK_PATH"); ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if out, err := exec.Command("npm", "root").Output(); err == nil {
		nodeModules := strings.TrimSpace(string(out))
		if nodeModules != "" {
			sdkPath := filepath.Join(nodeModules, "@capsule", "sdk", "src")
			if _, err := os.Stat(sdkPath); err == nil {
				return sdkPath, nil
			}
		}
	}

	if exe, err := os.Executable(); err == nil {
		root := exe
		for i := 0; i < 4; i++ {
			root = filepath.Dir(root)
		}
		sdkPath := filepath.Join(root, "sdk", "javascript", "src")
		if _, err := os.Stat(sdkPath); err == nil {
			return sdkPath, nil
		}
	}

	return "", fmt.Errorf(
		"cannot find JavaScript SDK; set CAPSULE_JS_SDK_PATH or install @capsule/sdk",
	)
}

func isJavascriptSourceFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".js" || ext == ".mjs" || ext == ".ts"
}
