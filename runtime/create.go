package runtime

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v30"

	"github.com/mavdol/capsule-go/instancelog"
)

// CreateInstance commits a Created log row, builds a linker carrying
// WASI plus the capsule host bridge, constructs guest state and store
// limits from the Policy, loads the compiled component (from WasmPath,
// or by reusing an already-loaded Component for a nested schedule_task
// call), and instantiates it.
type CreateInstance struct {
	Policy Policy
	Argv   []string

	TaskName     string
	AgentName    string
	AgentVersion string

	// WasmPath and CacheKey identify a top-level compiled artifact.
	// Leave both zero and set Component instead to reuse an
	// already-loaded guest (nested scheduling).
	WasmPath  string
	CacheKey  string
	Component *Component

	ProjectRoot string
}

func (c *CreateInstance) Name() string { return "create_instance" }

// CreateInstanceOutput is what a successful CreateInstance hands to
// RunInstance or StartInstance: the instantiated store, its guest
// state, the bound instance, and the task id the log row was committed
// under.
type CreateInstanceOutput struct {
	TaskID    string
	Store     *wasmtime.Store
	State     *GuestState
	Instance  *wasmtime.Instance
	Component *Component
}

func (c *CreateInstance) Execute(ctx context.Context, host *Host) (any, error) {
	if err := c.Policy.Validate(); err != nil {
		return nil, err
	}

	taskID, err := generateTaskID()
	if err != nil {
		return nil, NewError(ErrKindEngine, fmt.Errorf("generate task id: %w", err))
	}

	fuelLimit := c.Policy.Compute.AsFuel()
	if err := host.Log().Commit(instancelog.CreateInstanceLog{
		AgentName:    orDefault(c.AgentName, "capsule"),
		AgentVersion: orDefault(c.AgentVersion, "0.1.0"),
		TaskID:       taskID,
		TaskName:     c.TaskName,
		State:        instancelog.StateCreated,
		FuelLimit:    uint64(fuelLimit),
		FuelConsumed: 0,
	}); err != nil {
		return nil, NewTaskError(ErrKindLog, taskID, err)
	}

	state := NewGuestState(host, c.Policy, taskID)
	state.projectRoot = c.ProjectRoot
	state.agentName = orDefault(c.AgentName, "capsule")
	state.agentVersion = orDefault(c.AgentVersion, "0.1.0")

	component := c.Component
	if component == nil {
		loaded, err := LoadComponent(host, c.WasmPath, c.CacheKey)
		if err != nil {
			c.fail(host, taskID)
			return nil, NewTaskError(ErrKindEngine, taskID, err)
		}
		component = loaded
	}
	state.component = component

	store := wasmtime.NewStore(host.Engine())
	applyStoreLimits(store, c.Policy)
	store.SetEpochDeadline(epochDeadlineTicks(c.Policy.Timeout))

	if err := store.SetFuel(uint64(fuelLimit)); err != nil {
		c.fail(host, taskID)
		return nil, NewTaskError(ErrKindEngine, taskID, fmt.Errorf("set fuel: %w", err))
	}

	wasiCfg, err := WasiConfig(c.Policy, c.Argv, c.ProjectRoot)
	if err != nil {
		c.fail(host, taskID)
		return nil, NewTaskError(ErrKindConfig, taskID, err)
	}
	store.SetWasi(wasiCfg)

	linker := wasmtime.NewLinker(host.Engine())
	if err := linker.DefineWasi(); err != nil {
		c.fail(host, taskID)
		return nil, NewTaskError(ErrKindEngine, taskID, fmt.Errorf("define wasi: %w", err))
	}
	if err := bindCapsuleHost(linker, store, state); err != nil {
		c.fail(host, taskID)
		return nil, NewTaskError(ErrKindEngine, taskID, fmt.Errorf("bind host bridge: %w", err))
	}

	instance, err := linker.Instantiate(store, component.Module)
	if err != nil {
		c.fail(host, taskID)
		return nil, NewTaskError(ErrKindEngine, taskID, fmt.Errorf("instantiate component: %w", err))
	}

	if mem := instance.GetExport(store, "memory"); mem != nil {
		state.memory = mem.Memory()
	}

	return &CreateInstanceOutput{
		TaskID:    taskID,
		Store:     store,
		State:     state,
		Instance:  instance,
		Component: component,
	}, nil
}

// fail records an instantiation failure. The instance never ran, so
// fuel_consumed stays 0.
func (c *CreateInstance) fail(host *Host, taskID string) {
	_ = host.Log().Update(instancelog.UpdateInstanceLog{
		TaskID:       taskID,
		State:        instancelog.StateFailed,
		FuelConsumed: 0,
	})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
