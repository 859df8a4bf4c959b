// Package runtime hosts the WebAssembly engine, dispatches typed
// Commands against it, and exposes the host bridge a running guest
// uses to schedule nested tasks on the same engine.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v30"
	"go.uber.org/zap"

	"github.com/mavdol/capsule-go/instancelog"
)

// epochInterval is the period of the engine's epoch heartbeat. Store
// deadlines are expressed in ticks of this interval, so per-task
// timeouts never interfere with each other on the shared engine.
const epochInterval = 10 * time.Millisecond

// Config configures a Host.
type Config struct {
	// CacheDir is the directory under which state.db lives.
	CacheDir string
	// Verbose enables debug-level diagnostics logging.
	Verbose bool
}

// Host is the single process-wide factory for WebAssembly execution.
// It owns the engine handle and the instance log handle; both are
// shared by reference into every Command.
type Host struct {
	engine *wasmtime.Engine
	log    *instancelog.Log
	logger *zap.Logger

	componentsMu sync.Mutex
	components   map[string]*Component

	stopEpoch chan struct{}
	closeOnce sync.Once
}

// New constructs a Host: enables fuel consumption and epoch
// interruption on the engine config, then opens the instance log
// database under <cache_dir>/state.db.
func New(cfg Config) (*Host, error) {
	var logger *zap.Logger
	var err error
	if cfg.Verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, NewError(ErrKindConfig, fmt.Errorf("build logger: %w", err))
	}

	engineCfg := wasmtime.NewConfig()
	engineCfg.SetConsumeFuel(true)
	engineCfg.SetEpochInterruption(true)

	engine := wasmtime.NewEngineWithConfig(engineCfg)

	log, err := instancelog.Open(cfg.CacheDir, "state.db")
	if err != nil {
		return nil, NewError(ErrKindLog, fmt.Errorf("open instance log: %w", err))
	}

	h := &Host{
		engine:     engine,
		log:        log,
		logger:     logger,
		components: make(map[string]*Component),
		stopEpoch:  make(chan struct{}),
	}
	go h.epochLoop()
	return h, nil
}

// epochLoop is the engine-wide heartbeat: every tick advances the
// epoch by one, so a store whose deadline has elapsed traps at its
// next epoch check.
func (h *Host) epochLoop() {
	ticker := time.NewTicker(epochInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopEpoch:
			return
		case <-ticker.C:
			h.engine.IncrementEpoch()
		}
	}
}

// Log returns the Host's instance log handle.
func (h *Host) Log() *instancelog.Log { return h.log }

// Logger returns the Host's diagnostics logger.
func (h *Host) Logger() *zap.Logger { return h.logger }

// Engine returns the shared wasmtime engine handle.
func (h *Host) Engine() *wasmtime.Engine { return h.engine }

// Execute dispatches cmd under a shared reference to the Host.
// Execute itself never retries; the only retry loop lives in the host
// bridge's schedule_task.
func (h *Host) Execute(ctx context.Context, cmd Command) (any, error) {
	out, err := cmd.Execute(ctx, h)
	if err != nil {
		h.logger.Debug("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// GetComponent returns a cached compiled component for key, if one
// was stored with SetComponent.
func (h *Host) GetComponent(key string) (*Component, bool) {
	h.componentsMu.Lock()
	defer h.componentsMu.Unlock()
	c, ok := h.components[key]
	return c, ok
}

// SetComponent caches a compiled component under key. Keyed rather
// than a single slot so one Host can serve many distinct source files
// across a nested task tree.
func (h *Host) SetComponent(key string, c *Component) {
	h.componentsMu.Lock()
	defer h.componentsMu.Unlock()
	h.components[key] = c
}

// Close stops the epoch heartbeat, releases the instance log and
// flushes diagnostics. Safe to call more than once.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.stopEpoch)
		err = h.log.Close()
		_ = h.logger.Sync()
	})
	return err
}

// Component is a loaded WebAssembly artifact ready to be
// instantiated. wasmtime-go exposes no component-model binding, so
// Component wraps a core wasmtime.Module produced from the compile
// cache's bootloader, which exports the plain capsule_call_run ABI
// rather than a WIT-typed export.
type Component struct {
	Path   string
	Module *wasmtime.Module
}

// LoadComponent compiles the artifact at wasmPath, consulting the
// Host's process-lifetime cache first when cacheKey is non-empty.
func LoadComponent(h *Host, wasmPath, cacheKey string) (*Component, error) {
	if cacheKey != "" {
		if c, ok := h.GetComponent(cacheKey); ok {
			return c, nil
		}
	}

	abs, err := filepath.Abs(wasmPath)
	if err != nil {
		return nil, NewError(ErrKindIO, fmt.Errorf("resolve wasm path %q: %w", wasmPath, err))
	}

	module, err := wasmtime.NewModuleFromFile(h.engine, abs)
	if err != nil {
		return nil, NewError(ErrKindEngine, fmt.Errorf("compile module %q: %w", abs, err))
	}

	c := &Component{Path: abs, Module: module}
	if cacheKey != "" {
		h.SetComponent(cacheKey, c)
	}
	return c, nil
}
