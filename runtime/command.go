package runtime

import "context"

// Command is the uniform contract every runtime operation satisfies:
// a value capturing its own inputs, executed with a shared reference
// to the Host. New operations are added by defining new Command kinds
// (CreateInstance, RunInstance, StartInstance) rather than widening
// the Host surface.
type Command interface {
	// Name identifies the command kind for diagnostics.
	Name() string
	// Execute runs the command against host, returning its typed
	// output as `any` — callers type-assert to the concrete output
	// struct for the Command they issued.
	Execute(ctx context.Context, host *Host) (any, error)
}
