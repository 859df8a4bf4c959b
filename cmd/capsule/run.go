package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mavdol/capsule-go/cache"
	"github.com/mavdol/capsule-go/manifest"
	"github.com/mavdol/capsule-go/reporter"
	"github.com/mavdol/capsule-go/runtime"
)

func newRunCommand() *cobra.Command {
	var verbose bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run [file] [-- args...]",
		Short: "Compile and run a Python/JS/TS task",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			var taskArgs []string

			dash := cmd.ArgsLenAtDash()
			switch {
			case dash == -1:
				if len(args) > 0 {
					file = args[0]
					taskArgs = args[1:]
				}
			case dash == 0:
				taskArgs = args
			default:
				file = args[0]
				taskArgs = args[dash:]
			}

			return runTask(cmd.Context(), file, taskArgs, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print progress and lifecycle diagnostics")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "always print the raw guest result as JSON")
	return cmd
}

// compileToWasm dispatches on file extension to the matching cache
// adapter.
func compileToWasm(filePath string) (*cache.Artifact, string, error) {
	ext := filepath.Ext(filePath)
	cacheDir := cache.CacheDirFor(filePath)

	var adapter cache.Adapter
	switch ext {
	case ".py":
		adapter = cache.PythonAdapter{}
	case ".js", ".mjs", ".ts":
		adapter = cache.JavascriptAdapter{}
	default:
		return nil, "", fmt.Errorf("unsupported file extension %q: supported are .py, .js, .mjs, .ts", ext)
	}

	artifact, err := adapter.Compile(filePath, cacheDir)
	if err != nil {
		return nil, "", err
	}
	return artifact, cacheDir, nil
}

func runTask(ctx context.Context, file string, taskArgs []string, verbose, jsonOutput bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	manifestPlaceholder := filepath.Join(cwd, "capsule.toml")
	if file != "" {
		manifestPlaceholder = file
	}
	m, err := manifest.LoadFromFile(manifestPlaceholder)
	if err != nil {
		return err
	}

	if file == "" {
		file = m.Entrypoint()
		if file == "" {
			return fmt.Errorf("no file given and workflow.entrypoint is unset in capsule.toml")
		}
	}

	report := reporter.New(verbose)
	defer report.Close()

	report.StartProgress("Preparing environment")
	artifact, cacheDir, err := compileToWasm(file)
	if err != nil {
		report.TaskFailed("main", err.Error())
		return err
	}
	report.FinishProgress("Environment ready")

	report.StartProgress("Initializing runtime")
	host, err := runtime.New(runtime.Config{CacheDir: cacheDir, Verbose: verbose})
	if err != nil {
		report.TaskFailed("main", err.Error())
		return err
	}
	defer host.Close()

	policy, err := m.Policy()
	if err != nil {
		report.TaskFailed("main", err.Error())
		return err
	}
	if m.CapsuleToml.Tasks == nil || m.CapsuleToml.Tasks.DefaultCompute == "" {
		// The entrypoint itself isn't bound by the nested-task tier
		// defaults unless the manifest says otherwise.
		policy = policy.WithCompute(runtime.Custom(math.MaxInt64))
	}
	policy = policy.WithAllowedFiles([]string{"."})

	absFile, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("resolve file path: %w", err)
	}
	projectRoot := filepath.Dir(absFile)

	create := &runtime.CreateInstance{
		Policy:      policy,
		Argv:        taskArgs,
		TaskName:    "main",
		WasmPath:    artifact.Path,
		CacheKey:    artifact.Path,
		ProjectRoot: projectRoot,
	}
	createOut, err := host.Execute(ctx, create)
	if err != nil {
		report.TaskFailed("main", err.Error())
		return err
	}
	created := createOut.(*runtime.CreateInstanceOutput)
	report.FinishProgress("Runtime ready")

	report.TaskRunning("main", created.TaskID)
	start := time.Now()

	argsJSON, err := json.Marshal(taskArgs)
	if err != nil {
		return fmt.Errorf("encode task args: %w", err)
	}
	composedArgs := fmt.Sprintf(`{"task_name":"main","args":%s,"kwargs":{}}`, argsJSON)

	run := &runtime.RunInstance{
		TaskID:   created.TaskID,
		Policy:   policy,
		Store:    created.Store,
		State:    created.State,
		Instance: created.Instance,
		ArgsJSON: composedArgs,
	}
	runOut, err := host.Execute(ctx, run)
	if err != nil {
		if runtime.IsKind(err, runtime.ErrKindTimeout) {
			report.TaskTimeout("main")
		} else {
			report.TaskFailed("main", err.Error())
		}
		return err
	}
	result := runOut.(*runtime.RunInstanceOutput)

	elapsed := time.Since(start)
	if result.GuestError != "" {
		report.TaskFailed("main", result.GuestError)
	} else {
		report.TaskCompletedWithTime("main", elapsed)
	}

	if jsonOutput {
		fmt.Fprintln(os.Stdout, result.Result)
	} else {
		var parsed struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal([]byte(result.Result), &parsed); err == nil && string(parsed.Result) != "" && string(parsed.Result) != "null" {
			fmt.Fprintln(os.Stdout, string(parsed.Result))
		}
	}

	if result.GuestError != "" {
		return fmt.Errorf("task reported an error: %s", result.GuestError)
	}
	return nil
}
