package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Compute selects a fuel tier for a task. The named tiers map to
// fixed fuel budgets; Custom carries an explicit one.
type Compute struct {
	tier   computeTier
	custom int64
}

type computeTier int

const (
	ComputeLow computeTier = iota
	ComputeMedium
	ComputeHigh
	computeCustom
)

const (
	fuelLow    int64 = 100_000_000
	fuelMedium int64 = 2_000_000_000
	fuelHigh   int64 = 50_000_000_000
)

// Low is the default tier: 1e8 fuel.
func Low() Compute { return Compute{tier: ComputeLow} }

// Medium is the 2e9-fuel tier.
func Medium() Compute { return Compute{tier: ComputeMedium} }

// High is the 5e10-fuel tier.
func High() Compute { return Compute{tier: ComputeHigh} }

// Custom sets an explicit fuel budget.
func Custom(fuel int64) Compute { return Compute{tier: computeCustom, custom: fuel} }

// AsFuel returns the fuel integer for this Compute value.
func (c Compute) AsFuel() int64 {
	switch c.tier {
	case ComputeLow:
		return fuelLow
	case ComputeMedium:
		return fuelMedium
	case ComputeHigh:
		return fuelHigh
	case computeCustom:
		return c.custom
	default:
		return fuelLow
	}
}

func (c Compute) String() string {
	return fmt.Sprintf("%d", c.AsFuel())
}

// MarshalJSON implements json.Marshaler so a Compute round-trips
// through the config JSON schedule_task parses.
func (c Compute) MarshalJSON() ([]byte, error) {
	switch c.tier {
	case ComputeLow:
		return []byte(`"low"`), nil
	case ComputeMedium:
		return []byte(`"medium"`), nil
	case ComputeHigh:
		return []byte(`"high"`), nil
	default:
		return []byte(fmt.Sprintf(`{"custom":%d}`, c.custom)), nil
	}
}

// UnmarshalJSON accepts either a named tier string or {"custom": N}.
func (c *Compute) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case `"low"`:
		*c = Low()
		return nil
	case `"medium"`:
		*c = Medium()
		return nil
	case `"high"`:
		*c = High()
		return nil
	}
	var wrapper struct {
		Custom int64 `json:"custom"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("invalid compute value %q: %w", s, err)
	}
	*c = Custom(wrapper.Custom)
	return nil
}

// Policy is the declarative resource and capability envelope for a
// task. Values are immutable once constructed: every With... method
// returns a new Policy rather than mutating the receiver, so a retry
// loop can hand each attempt its own copy.
type Policy struct {
	Name         string
	Compute      Compute
	RAM          *int64
	Timeout      *int64 // milliseconds
	MaxRetries   int
	EnvVars      []string
	AllowedFiles []string
	AllowedHosts []string
}

// DefaultPolicy returns the zero-value policy: name "default",
// ComputeLow, no RAM ceiling, no timeout, one retry, no env vars, no
// file or host grants.
func DefaultPolicy() Policy {
	return Policy{
		Name:       "default",
		Compute:    Low(),
		MaxRetries: 1,
	}
}

// WithName returns a copy of p with Name set, unless name is empty.
func (p Policy) WithName(name string) Policy {
	if name != "" {
		p.Name = name
	}
	return p
}

// WithCompute returns a copy of p with Compute set.
func (p Policy) WithCompute(c Compute) Policy {
	p.Compute = c
	return p
}

// WithRAM returns a copy of p with an RAM ceiling in bytes, or no
// ceiling if ram is nil.
func (p Policy) WithRAM(ram *int64) Policy {
	p.RAM = ram
	return p
}

// WithTimeout returns a copy of p with a wall-clock bound in
// milliseconds, or no bound if timeout is nil.
func (p Policy) WithTimeout(timeout *int64) Policy {
	p.Timeout = timeout
	return p
}

// WithMaxRetries returns a copy of p with MaxRetries set to retries,
// unless retries is negative.
func (p Policy) WithMaxRetries(retries int) Policy {
	if retries >= 0 {
		p.MaxRetries = retries
	}
	return p
}

// WithEnvVars returns a copy of p with KEY=VALUE environment entries.
func (p Policy) WithEnvVars(vars []string) Policy {
	p.EnvVars = vars
	return p
}

// WithAllowedFiles returns a copy of p with the given path roots
// granted as WASI preopens. A "." entry grants the project root.
func (p Policy) WithAllowedFiles(files []string) Policy {
	p.AllowedFiles = files
	return p
}

// WithAllowedHosts returns a copy of p with the given host patterns
// consulted by the host bridge's network capability check.
func (p Policy) WithAllowedHosts(hosts []string) Policy {
	p.AllowedHosts = hosts
	return p
}

// Validate surfaces a config error for a Policy that cannot be
// translated into engine-level limits, before any log write happens
// for it.
func (p Policy) Validate() error {
	if p.Compute.AsFuel() <= 0 {
		return NewError(ErrKindConfig, fmt.Errorf("compute fuel budget must be positive, got %d", p.Compute.AsFuel()))
	}
	if p.MaxRetries < 0 {
		return NewError(ErrKindConfig, fmt.Errorf("max_retries must be non-negative, got %d", p.MaxRetries))
	}
	if p.RAM != nil && *p.RAM <= 0 {
		return NewError(ErrKindConfig, fmt.Errorf("ram ceiling must be positive, got %d", *p.RAM))
	}
	for _, kv := range p.EnvVars {
		if !strings.Contains(kv, "=") {
			return NewError(ErrKindConfig, fmt.Errorf("env_vars entry %q is not KEY=VALUE", kv))
		}
	}
	return nil
}
