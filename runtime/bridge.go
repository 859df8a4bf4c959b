package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v30"
	"go.uber.org/zap"

	"github.com/mavdol/capsule-go/hostvalidator"
)

// capsuleModule is the import module name the generated bootloader's
// host calls bind against. The function set is a request/response/
// error handshake over linear memory: the guest pulls its request in,
// pushes its response or error out, and reaches the host's
// schedule_task and network checks through the same module.
const capsuleModule = "capsule"

// scheduleConfig is the JSON policy overlay schedule_task accepts as
// its config argument. Malformed config falls back to defaults.
type scheduleConfig struct {
	Compute      *string  `json:"compute"`
	RAM          *int64   `json:"ram"`
	Timeout      *int64   `json:"timeout"`
	MaxRetries   *int     `json:"max_retries"`
	EnvVars      []string `json:"env_vars"`
	AllowedFiles []string `json:"allowed_files"`
	AllowedHosts []string `json:"allowed_hosts"`
}

func (c scheduleConfig) toPolicy() Policy {
	policy := DefaultPolicy()
	if c.Compute != nil {
		switch *c.Compute {
		case "low":
			policy = policy.WithCompute(Low())
		case "medium":
			policy = policy.WithCompute(Medium())
		case "high":
			policy = policy.WithCompute(High())
		}
	}
	if c.RAM != nil {
		policy = policy.WithRAM(c.RAM)
	}
	if c.Timeout != nil {
		policy = policy.WithTimeout(c.Timeout)
	}
	if c.MaxRetries != nil {
		policy = policy.WithMaxRetries(*c.MaxRetries)
	}
	if c.EnvVars != nil {
		policy = policy.WithEnvVars(c.EnvVars)
	}
	if c.AllowedFiles != nil {
		policy = policy.WithAllowedFiles(c.AllowedFiles)
	}
	if c.AllowedHosts != nil {
		policy = policy.WithAllowedHosts(c.AllowedHosts)
	}
	return policy
}

// bindCapsuleHost defines the "capsule" host-import module on linker.
// The closures read memory/invoke state off state at call time, after
// instantiation has populated them.
func bindCapsuleHost(linker *wasmtime.Linker, store *wasmtime.Store, state *GuestState) error {
	i32 := wasmtime.NewValType(wasmtime.KindI32)

	def := func(name string, params, results []*wasmtime.ValType, fn func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap)) error {
		return linker.FuncNew(capsuleModule, name, wasmtime.NewFuncType(params, results), fn)
	}

	if err := def("guest_request", []*wasmtime.ValType{i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			ptr := args[0].I32()
			if state.invoke == nil || state.memory == nil {
				return nil, nil
			}
			data := state.memory.UnsafeData(store)
			copy(data[ptr:], state.invoke.argsJSON)
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("guest_response", []*wasmtime.ValType{i32, i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			ptr, ln := args[0].I32(), args[1].I32()
			if state.invoke == nil || state.memory == nil {
				return nil, nil
			}
			data := state.memory.UnsafeData(store)
			buf := make([]byte, ln)
			copy(buf, data[ptr:ptr+ln])
			state.invoke.guestResp = buf
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("guest_error", []*wasmtime.ValType{i32, i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			ptr, ln := args[0].I32(), args[1].I32()
			if state.invoke == nil || state.memory == nil {
				return nil, nil
			}
			data := state.memory.UnsafeData(store)
			state.invoke.guestErr = string(data[ptr : ptr+ln])
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("console_log", []*wasmtime.ValType{i32, i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			ptr, ln := args[0].I32(), args[1].I32()
			if state.memory == nil || state.host == nil {
				return nil, nil
			}
			data := state.memory.UnsafeData(store)
			msg := string(data[ptr : ptr+ln])
			state.host.Logger().Info("guest log", zap.String("task_id", state.taskID), zap.String("message", msg))
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("host_response_len", nil, []*wasmtime.ValType{i32},
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.invoke == nil {
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			return []wasmtime.Val{wasmtime.ValI32(int32(len(state.invoke.hostResp)))}, nil
		}); err != nil {
		return err
	}

	if err := def("host_response", []*wasmtime.ValType{i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.invoke == nil || state.invoke.hostResp == nil || state.memory == nil {
				return nil, nil
			}
			ptr := args[0].I32()
			data := state.memory.UnsafeData(store)
			copy(data[ptr:], state.invoke.hostResp)
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("host_error_len", nil, []*wasmtime.ValType{i32},
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.invoke == nil || state.invoke.hostErr == nil {
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			return []wasmtime.Val{wasmtime.ValI32(int32(len(state.invoke.hostErr.Error())))}, nil
		}); err != nil {
		return err
	}

	if err := def("host_error", []*wasmtime.ValType{i32}, nil,
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.invoke == nil || state.invoke.hostErr == nil || state.memory == nil {
				return nil, nil
			}
			ptr := args[0].I32()
			data := state.memory.UnsafeData(store)
			copy(data[ptr:], state.invoke.hostErr.Error())
			return nil, nil
		}); err != nil {
		return err
	}

	if err := def("network_allowed",
		[]*wasmtime.ValType{i32, i32},
		[]*wasmtime.ValType{i32},
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.memory == nil {
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			ptr, ln := args[0].I32(), args[1].I32()
			data := state.memory.UnsafeData(store)
			host := string(data[ptr : ptr+ln])
			if hostvalidator.IsAllowed(host, state.policy.AllowedHosts) {
				return []wasmtime.Val{wasmtime.ValI32(1)}, nil
			}
			if state.host != nil {
				state.host.Logger().Warn("network capability denied",
					zap.String("task_id", state.taskID), zap.String("host", host))
			}
			return []wasmtime.Val{wasmtime.ValI32(0)}, nil
		}); err != nil {
		return err
	}

	return def("schedule_task",
		[]*wasmtime.ValType{i32, i32, i32, i32, i32, i32},
		[]*wasmtime.ValType{i32},
		func(c *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			if state.memory == nil || state.host == nil {
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			data := state.memory.UnsafeData(store)
			namePtr, nameLen := args[0].I32(), args[1].I32()
			argsPtr, argsLen := args[2].I32(), args[3].I32()
			cfgPtr, cfgLen := args[4].I32(), args[5].I32()

			name := string(data[namePtr : namePtr+nameLen])
			argsJSON := string(data[argsPtr : argsPtr+argsLen])
			configJSON := string(data[cfgPtr : cfgPtr+cfgLen])

			taskCtx := context.Background()
			if state.invoke != nil && state.invoke.ctx != nil {
				taskCtx = state.invoke.ctx
			}
			result, taskErr := ScheduleTask(taskCtx, state, name, argsJSON, configJSON)
			if state.invoke == nil {
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			if taskErr != nil {
				state.invoke.hostErr = taskErr
				return []wasmtime.Val{wasmtime.ValI32(0)}, nil
			}
			state.invoke.hostResp = []byte(result)
			return []wasmtime.Val{wasmtime.ValI32(1)}, nil
		})
}

// ScheduleTask is the reentrant host call behind schedule_task: parse
// config as a JSON policy overlay, then retry CreateInstance +
// RunInstance up to policy.MaxRetries+1 attempts before giving up
// with a TaskError. Each nested attempt is a fresh store with an
// independent fuel budget reached through the guest state's
// back-reference to host; the parent's own fuel only drains for work
// the parent itself executes.
func ScheduleTask(ctx context.Context, parent *GuestState, name, argsJSON, configJSON string) (string, *TaskError) {
	host := parent.host
	var cfg scheduleConfig
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			cfg = scheduleConfig{}
		}
	}
	policy := cfg.toPolicy().WithName(name)

	composedArgs := fmt.Sprintf(`{"task_name":%q,"args":%s,"kwargs":{}}`, name, argsJSON)

	var lastErr error
	attempts := policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		create := &CreateInstance{
			Policy:       policy,
			Argv:         nil,
			TaskName:     name,
			AgentName:    parent.agentName,
			AgentVersion: parent.agentVersion,
			ProjectRoot:  parent.projectRoot,
			Component:    parent.component,
		}
		createOut, err := host.Execute(ctx, create)
		if err != nil {
			lastErr = err
			continue
		}
		created := createOut.(*CreateInstanceOutput)

		run := &RunInstance{
			TaskID:   created.TaskID,
			Policy:   policy,
			Store:    created.Store,
			State:    created.State,
			Instance: created.Instance,
			ArgsJSON: composedArgs,
		}
		runOut, err := host.Execute(ctx, run)
		if err != nil {
			lastErr = err
			continue
		}
		result := runOut.(*RunInstanceOutput)
		if result.GuestError != "" {
			// A guest-reported error retries exactly like an
			// engine-level failure.
			lastErr = fmt.Errorf("%s", result.GuestError)
			continue
		}
		return result.Result, nil
	}

	msg := "schedule_task exhausted retries"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return "", InternalError(msg)
}
