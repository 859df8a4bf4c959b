package runtime

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v30"

	"github.com/mavdol/capsule-go/instancelog"
)

// StartInstance invokes the guest's WASI "_start" export directly
// instead of the request/response capsule_call_run ABI. Useful for
// guests built as a plain WASI command rather than through the
// Python/JS compile pipeline's bootloader; the program communicates
// through its own stdout and exit code.
type StartInstance struct {
	TaskID   string
	Policy   Policy
	Store    *wasmtime.Store
	Instance *wasmtime.Instance
}

func (s *StartInstance) Name() string { return "start_instance" }

// StartInstanceOutput carries nothing beyond completion: a bare WASI
// command communicates its result through its own stdout/exit code.
type StartInstanceOutput struct {
	FuelConsumed uint64
}

func (s *StartInstance) Execute(ctx context.Context, host *Host) (any, error) {
	fuelLimit := s.Policy.Compute.AsFuel()

	consumed := func() int64 {
		remaining, err := s.Store.GetFuel()
		if err != nil {
			return 0
		}
		return fuelLimit - int64(remaining)
	}

	if err := host.Log().Update(instancelog.UpdateInstanceLog{
		TaskID:       s.TaskID,
		State:        instancelog.StateRunning,
		FuelConsumed: instancelog.ClampFuelConsumed(fuelLimit, consumed()),
	}); err != nil {
		return nil, NewTaskError(ErrKindLog, s.TaskID, err)
	}

	runFn := s.Instance.GetFunc(s.Store, "_start")
	if runFn == nil {
		return nil, NewTaskError(ErrKindEngine, s.TaskID, fmt.Errorf("component does not export _start"))
	}

	_, err := runFn.Call(s.Store)

	finalFuel := instancelog.ClampFuelConsumed(fuelLimit, consumed())
	if err != nil {
		_ = host.Log().Update(instancelog.UpdateInstanceLog{
			TaskID:       s.TaskID,
			State:        instancelog.StateFailed,
			FuelConsumed: finalFuel,
		})
		return nil, NewTaskError(ErrKindEngine, s.TaskID, fmt.Errorf("run _start: %w", err))
	}

	if err := host.Log().Update(instancelog.UpdateInstanceLog{
		TaskID:       s.TaskID,
		State:        instancelog.StateCompleted,
		FuelConsumed: finalFuel,
	}); err != nil {
		return nil, NewTaskError(ErrKindLog, s.TaskID, err)
	}

	return &StartInstanceOutput{FuelConsumed: finalFuel}, nil
}
