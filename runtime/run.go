package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v30"

	"github.com/mavdol/capsule-go/instancelog"
)

// RunInstance transitions the log row to Running, invokes the bound
// capsule_call_run export, and branches on the outcome: a guest
// result, a guest-reported error, or an engine error (trap, fuel
// exhaustion, memory breach). fuel_consumed is clamped into
// [0, fuel_limit] before every log update.
//
// Timeout enforcement rides the Host's epoch heartbeat: the store's
// deadline was armed by CreateInstance from Policy.Timeout, so the
// guest traps once enough ticks elapse. The wall-clock context here
// only classifies that trap as a timeout rather than a plain engine
// failure.
type RunInstance struct {
	TaskID   string
	Policy   Policy
	Store    *wasmtime.Store
	State    *GuestState
	Instance *wasmtime.Instance
	ArgsJSON string
}

func (r *RunInstance) Name() string { return "run_instance" }

// RunInstanceOutput carries the guest's result string back to the
// caller (CLI, or a parent schedule_task frame).
type RunInstanceOutput struct {
	Result       string
	FuelConsumed uint64
	// GuestError is set when Result packages a guest-reported error
	// rather than a genuine result value; callers that need to
	// distinguish the two (e.g. schedule_task's retry loop) check
	// this instead of re-parsing Result.
	GuestError string
}

func (r *RunInstance) Execute(ctx context.Context, host *Host) (any, error) {
	fuelLimit := r.Policy.Compute.AsFuel()

	consumed := func() int64 {
		remaining, err := r.Store.GetFuel()
		if err != nil {
			return 0
		}
		return fuelLimit - int64(remaining)
	}

	if err := host.Log().Update(instancelog.UpdateInstanceLog{
		TaskID:       r.TaskID,
		State:        instancelog.StateRunning,
		FuelConsumed: instancelog.ClampFuelConsumed(fuelLimit, consumed()),
	}); err != nil {
		return nil, NewTaskError(ErrKindLog, r.TaskID, err)
	}

	callRun := r.Instance.GetFunc(r.Store, "capsule_call_run")
	if callRun == nil {
		r.failLocked(host, fuelLimit, consumed())
		return nil, NewTaskError(ErrKindEngine, r.TaskID, fmt.Errorf("component does not export capsule_call_run"))
	}

	r.State.invoke = &invokeContext{ctx: ctx, argsJSON: []byte(r.ArgsJSON)}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.Policy.Timeout != nil {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*r.Policy.Timeout)*time.Millisecond)
		defer cancel()
	}

	successValue, err := callRun.Call(r.Store, int32(len(r.ArgsJSON)))

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			_ = host.Log().Update(instancelog.UpdateInstanceLog{
				TaskID:       r.TaskID,
				State:        instancelog.StateInterrupted,
				FuelConsumed: instancelog.ClampFuelConsumed(fuelLimit, consumed()),
			})
			return nil, Timeout(r.TaskID)
		}
		r.failLocked(host, fuelLimit, consumed())
		return nil, NewTaskError(ErrKindEngine, r.TaskID, fmt.Errorf("invoke capsule_call_run: %w", err))
	}

	status, _ := successValue.(int32)

	finalFuel := instancelog.ClampFuelConsumed(fuelLimit, consumed())

	switch status {
	case 1:
		if err := host.Log().Update(instancelog.UpdateInstanceLog{
			TaskID:       r.TaskID,
			State:        instancelog.StateCompleted,
			FuelConsumed: finalFuel,
		}); err != nil {
			return nil, NewTaskError(ErrKindLog, r.TaskID, err)
		}
		return &RunInstanceOutput{Result: string(r.State.invoke.guestResp), FuelConsumed: finalFuel}, nil
	default:
		if err := host.Log().Update(instancelog.UpdateInstanceLog{
			TaskID:       r.TaskID,
			State:        instancelog.StateFailed,
			FuelConsumed: finalFuel,
		}); err != nil {
			return nil, NewTaskError(ErrKindLog, r.TaskID, err)
		}
		msg := r.State.invoke.guestErr
		if msg == "" {
			msg = "task reported failure"
		}
		// A guest-reported failure is data, not an engine error: it
		// surfaces as a successful command output carrying
		// {"error":"<message>"}.
		errJSON, _ := json.Marshal(struct {
			Error string `json:"error"`
		}{Error: msg})
		return &RunInstanceOutput{Result: string(errJSON), FuelConsumed: finalFuel, GuestError: msg}, nil
	}
}

func (r *RunInstance) failLocked(host *Host, fuelLimit, consumed int64) {
	_ = host.Log().Update(instancelog.UpdateInstanceLog{
		TaskID:       r.TaskID,
		State:        instancelog.StateFailed,
		FuelConsumed: instancelog.ClampFuelConsumed(fuelLimit, consumed),
	})
}
