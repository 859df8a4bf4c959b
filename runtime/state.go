package runtime

import (
	"context"

	"github.com/bytecodealliance/wasmtime-go/v30"
)

// invokeContext is the per-call scratch state threaded through a
// single guest invocation: the request handed to the guest and the
// response/error buffers the guest writes back through the capsule
// host functions.
type invokeContext struct {
	ctx context.Context

	// argsJSON is the request the guest's guest_request call (in the
	// "capsule" import module) copies into guest memory.
	argsJSON []byte

	// guestResp/guestErr are populated by the guest calling back into
	// the "capsule" module's guest_response / guest_error.
	guestResp []byte
	guestErr  string

	// hostResp/hostErr carry the result of the most recent
	// schedule_task call back to the guest via the "capsule" module's
	// host_response* / host_error*.
	hostResp []byte
	hostErr  error
}

// resourceHandle is an opaque handle slot in the guest's resource
// table. The runtime currently hands out plain integer ids; the table
// keeps the ABI shape stable if typed resources are added later.
type resourceHandle struct {
	value any
}

// GuestState is the per-store ephemeral bundle: the WASI context is
// configured directly on the wasmtime.Store, the resource table holds
// opaque guest handles, and the back-reference to the Host is what
// makes reentrant scheduling possible from inside a guest call.
type GuestState struct {
	host   *Host
	policy Policy
	taskID string

	resources []resourceHandle

	invoke *invokeContext

	// memory is populated once instantiation completes (create.go); the
	// host-function closures in bridge.go capture state by pointer and
	// read this field lazily, so it is safe for them to be defined
	// before the module is instantiated.
	memory *wasmtime.Memory

	// component, projectRoot, agentName and agentVersion let
	// schedule_task reissue CreateInstance against the same compiled
	// guest and the same preopened project root instead of
	// recompiling from source.
	component    *Component
	projectRoot  string
	agentName    string
	agentVersion string
}

// NewGuestState constructs the per-store bundle for a single task.
// host may be nil for a Command that will never schedule nested
// tasks, but CreateInstance always supplies one so schedule_task is
// always reachable from a running guest.
func NewGuestState(host *Host, policy Policy, taskID string) *GuestState {
	return &GuestState{host: host, policy: policy, taskID: taskID}
}

// AllocResource appends value to the resource table and returns its
// handle id.
func (g *GuestState) AllocResource(value any) int32 {
	g.resources = append(g.resources, resourceHandle{value: value})
	return int32(len(g.resources) - 1)
}

// Resource looks up a previously allocated handle.
func (g *GuestState) Resource(handle int32) (any, bool) {
	if handle < 0 || int(handle) >= len(g.resources) {
		return nil, false
	}
	return g.resources[handle].value, true
}

// applyStoreLimits installs the memory growth arbiter built from
// Policy.RAM on store. A guest attempt to grow beyond the ceiling
// traps; an absent RAM ceiling leaves the engine's own defaults in
// force. Table, instance and memory counts stay at engine defaults.
func applyStoreLimits(store *wasmtime.Store, policy Policy) {
	maxMemory := int64(-1)
	if policy.RAM != nil {
		maxMemory = *policy.RAM
	}
	store.Limiter(maxMemory, -1, -1, -1, -1)
}

// WasiConfig builds the capability bundle the guest sees as its
// operating environment: inherited stdout/stderr, argv, envp from
// Policy.EnvVars, and preopened directories for every
// Policy.AllowedFiles entry (resolved relative to projectRoot, "."
// granting the root itself).
func WasiConfig(policy Policy, argv []string, projectRoot string) (*wasmtime.WasiConfig, error) {
	wasiCfg := wasmtime.NewWasiConfig()
	wasiCfg.InheritStdout()
	wasiCfg.InheritStderr()
	wasiCfg.SetArgv(append([]string{"capsule"}, argv...))
	wasiCfg.SetEnv(envKeys(policy.EnvVars), envValues(policy.EnvVars))

	dirPerms := wasmtime.DIR_READ | wasmtime.DIR_WRITE
	filePerms := wasmtime.FILE_READ | wasmtime.FILE_WRITE
	for _, root := range policy.AllowedFiles {
		guestPath := root
		hostPath := root
		if root == "." {
			hostPath = projectRoot
		} else if !isAbs(root) {
			hostPath = joinPath(projectRoot, root)
		}
		if err := wasiCfg.PreopenDir(hostPath, guestPath, dirPerms, filePerms); err != nil {
			return nil, NewError(ErrKindConfig, err)
		}
	}

	return wasiCfg, nil
}
