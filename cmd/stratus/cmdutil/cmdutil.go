// Package cmdutil resolves the shared command environment: the selected
// config context, its driver and its state store.
package cmdutil

import (
	"fmt"
	"os"
	"path/filepath"

	"stratus/config"
	"stratus/internal/driver"
	"stratus/internal/state"
)

// Options carries the persistent flag overrides every command honors.
// Empty fields fall back to the selected context.
type Options struct {
	ContextName string
	Driver      string
	StatePath   string
}

// Env is the resolved environment for one command invocation.
type Env struct {
	ContextName string
	Context     config.Context
	Driver      driver.Driver
	Store       *state.Store
}

// Open resolves the context, constructs the driver and opens the state
// store. Callers must Close the returned Env.
func Open(opts Options) (*Env, error) {
	name, cctx, err := ResolveContext(opts)
	if err != nil {
		return nil, err
	}

	drv, err := driver.New(cctx.DriverName())
	if err != nil {
		return nil, err
	}

	statePath := cctx.StateFile(name)
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	store, err := state.Open(statePath, state.SystemClock{})
	if err != nil {
		return nil, err
	}

	return &Env{
		ContextName: name,
		Context:     cctx,
		Driver:      drv,
		Store:       store,
	}, nil
}

// Close releases the environment's resources.
func (e *Env) Close() error {
	return e.Store.Close()
}

// ResolveContext picks the named (or current) context and applies flag
// overrides. An unconfigured setup resolves to an implicit "default"
// context so first use needs no `stratus context` ceremony.
func ResolveContext(opts Options) (string, config.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", config.Context{}, err
	}

	name := opts.ContextName
	var cctx config.Context
	if name == "" {
		current, c, ok := cfg.Current()
		if ok {
			name, cctx = current, c
		} else {
			name = "default"
		}
	} else {
		c, ok := cfg.Contexts[name]
		if !ok {
			return "", config.Context{}, fmt.Errorf("unknown context %q", name)
		}
		cctx = c
	}

	if opts.Driver != "" {
		cctx.Driver = opts.Driver
	}
	if opts.StatePath != "" {
		cctx.StatePath = opts.StatePath
	}
	return name, cctx, nil
}
