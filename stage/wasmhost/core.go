// Package wasmhost hosts a single guest WebAssembly module inside a
// wazero runtime: compiling it, linking the host-provided io.* imports
// a pipeline stage exposes to its guest, and invoking the guest's
// on_message/buffer_pointer exports under the bounds checks spec.md
// §4.5 requires.
package wasmhost

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/grayareahq/wasmpipe/internal/log"
)

var (
	ErrModuleNotImported = fmt.Errorf("wasmhost: importing a module not imported by the guest")
	ErrFuncNotImported   = fmt.Errorf("wasmhost: importing a function not imported by the guest")
)

// Core provides the low-level wazero plumbing a stage's Adapter builds
// the guest ABI on top of: compiling the module, deferring host import
// bindings until Instantiate, and giving the adapter typed access to
// exported functions and guest linear memory.
type Core struct {
	logger *log.Logger

	ctx          context.Context
	runtime      wazero.Runtime
	module       wazero.CompiledModule
	instance     api.Module
	moduleConfig wazero.ModuleConfig

	exportsOnce sync.Once
	exports     map[string]api.ExternType

	importedFuncsOnce sync.Once
	importedFuncs     map[string]map[string]api.FunctionDefinition

	importModules map[string]wazero.HostModuleBuilder

	closeOnce sync.Once
}

// NewCore compiles wasmBin into a Core. moduleConfig controls the
// guest's argv/env/stdio exactly as wazero.ModuleConfig would for any
// wazero-hosted program; pass wazero.NewModuleConfig() for the default.
func NewCore(ctx context.Context, wasmBin []byte, moduleConfig wazero.ModuleConfig, logger *log.Logger) (*Core, error) {
	c := &Core{
		ctx:           ctx,
		logger:        logger,
		moduleConfig:  moduleConfig,
		importModules: make(map[string]wazero.HostModuleBuilder),
	}

	c.runtime = wazero.NewRuntime(ctx)

	var err error
	if c.module, err = c.runtime.CompileModule(ctx, wasmBin); err != nil {
		return nil, fmt.Errorf("wasmhost: (wazero.Runtime).CompileModule returned error: %w", err)
	}

	runtime.SetFinalizer(c, func(core *Core) {
		core.Close()
	})

	return c, nil
}

// Exports dumps every export the guest module declares.
func (c *Core) Exports() map[string]api.ExternType {
	c.exportsOnce.Do(func() {
		c.exports = c.module.AllExports()
	})
	return c.exports
}

// ImportedFunctions dumps every import the guest module declares,
// keyed by module name then function name.
func (c *Core) ImportedFunctions() map[string]map[string]api.FunctionDefinition {
	c.importedFuncsOnce.Do(func() {
		c.importedFuncs = make(map[string]map[string]api.FunctionDefinition)
		for _, imported := range c.module.ImportedFunctions() {
			mod, name, ok := imported.Import()
			if !ok {
				continue
			}
			if _, ok := c.importedFuncs[mod]; !ok {
				c.importedFuncs[mod] = make(map[string]api.FunctionDefinition)
			}
			c.importedFuncs[mod][name] = imported
		}
	})
	return c.importedFuncs
}

// ImportFunction registers a host function under module/name. f's
// signature must match the guest's declared import; ImportFunction
// checks the guest actually imports this module/name first and skips
// (returning an error) otherwise, since binding an unused host function
// is harmless but binding the wrong signature is not.
//
// Binding is deferred until Instantiate — wazero requires every
// HostModuleBuilder on a runtime to be instantiated together, so Core
// collects builders here and instantiates them all at once.
func (c *Core) ImportFunction(module, name string, f any) error {
	if c.instance != nil {
		return fmt.Errorf("wasmhost: cannot import function after instantiation")
	}

	mod, ok := c.ImportedFunctions()[module]
	if !ok {
		log.LDebugf(c.logger, "wasmhost: guest does not import module %s", module)
		return ErrModuleNotImported
	}
	if _, ok := mod[name]; !ok {
		log.LWarnf(c.logger, "wasmhost: guest does not import function %s.%s", module, name)
		return ErrFuncNotImported
	}

	if _, ok := c.importModules[module]; !ok {
		c.importModules[module] = c.runtime.NewHostModuleBuilder(module)
	}
	c.importModules[module] = c.importModules[module].NewFunctionBuilder().WithFunc(f).Export(name)
	return nil
}

// Instantiate instantiates every registered host import module, then
// instantiates the guest module itself.
func (c *Core) Instantiate() error {
	if c.instance != nil {
		return fmt.Errorf("wasmhost: double instantiation is not allowed")
	}

	for _, builder := range c.importModules {
		if _, err := builder.Instantiate(c.ctx); err != nil {
			return fmt.Errorf("wasmhost: (wazero.HostModuleBuilder).Instantiate returned error: %w", err)
		}
	}

	instance, err := c.runtime.InstantiateModule(c.ctx, c.module, c.moduleConfig)
	if err != nil {
		return fmt.Errorf("wasmhost: (wazero.Runtime).InstantiateModule returned error: %w", err)
	}
	c.instance = instance
	return nil
}

// ExportedFunction returns the guest's exported function by name, or
// nil if it is not exported or the module is not yet instantiated.
func (c *Core) ExportedFunction(name string) api.Function {
	if c.instance == nil {
		return nil
	}
	return c.instance.ExportedFunction(name)
}

// Memory returns the guest instance's linear memory, or nil before
// Instantiate.
func (c *Core) Memory() api.Memory {
	if c.instance == nil {
		return nil
	}
	return c.instance.Memory()
}

// Invoke calls a guest export by name.
func (c *Core) Invoke(funcName string, params ...uint64) ([]uint64, error) {
	if c.instance == nil {
		return nil, fmt.Errorf("wasmhost: cannot invoke function before instantiation")
	}
	fn := c.instance.ExportedFunction(funcName)
	if fn == nil {
		return nil, fmt.Errorf("wasmhost: function %q is not exported", funcName)
	}
	results, err := fn.Call(c.ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: calling %q returned error: %w", funcName, err)
	}
	return results, nil
}

// WASIPreview1 links the WASI preview1 host functions the guest
// toolchain (e.g. TinyGo) expects to be available.
func (c *Core) WASIPreview1() error {
	if _, err := wasi_snapshot_preview1.Instantiate(c.ctx, c.runtime); err != nil {
		return fmt.Errorf("wasmhost: wasi_snapshot_preview1.Instantiate returned error: %w", err)
	}
	return nil
}

// Close releases the instance, runtime, and compiled module, in that
// order. It is idempotent.
func (c *Core) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		if c.instance != nil {
			if err := c.instance.Close(c.ctx); err != nil {
				closeErr = fmt.Errorf("wasmhost: closing instance: %w", err)
				return
			}
			c.instance = nil
		}
		if c.runtime != nil {
			if err := c.runtime.Close(c.ctx); err != nil {
				closeErr = fmt.Errorf("wasmhost: closing runtime: %w", err)
				return
			}
			c.runtime = nil
		}
		if c.module != nil {
			if err := c.module.Close(c.ctx); err != nil {
				closeErr = fmt.Errorf("wasmhost: closing compiled module: %w", err)
				return
			}
			c.module = nil
		}
	})
	return closeErr
}
