// Package driver defines the provider interface the apply executor drives.
// A driver knows how to create, mutate, inspect and destroy one backend's
// rendition of the managed resource kinds.
package driver

import (
	"context"
	"fmt"
	"sort"

	"stratus/internal/manifest"
)

// Observation is a driver's view of a resource's live existence.
type Observation struct {
	Exists     bool
	ProviderID string

	// Attrs carries backend-specific detail (IP addresses, container IDs)
	// surfaced in status output and verification probes.
	Attrs map[string]string
}

// Driver provisions resources in one backend.
//
// Create returns the backend identifier for the new resource. Update mutates
// in place; the executor replaces (delete then create) when a field the
// backend cannot mutate changed. All calls receive the full resource with a
// canonical spec, including for deletes of resources no longer in the
// manifest.
type Driver interface {
	Name() string

	// Begin is called once before the first operation of a run with the
	// complete desired manifest, so the driver can resolve cross-resource
	// references. Begin may be called with a nil manifest on destroy.
	Begin(ctx context.Context, m *manifest.Manifest) error

	Create(ctx context.Context, r manifest.Resource) (string, error)
	Update(ctx context.Context, r manifest.Resource, providerID string) error
	Delete(ctx context.Context, r manifest.Resource, providerID string) error
	Read(ctx context.Context, r manifest.Resource) (Observation, error)

	// Ping verifies the backend is reachable (CLI on PATH, daemon up).
	Ping(ctx context.Context) error
}

// Factory builds a named driver. Backends register at package init through
// their own constructors; the CLI picks by configured name.
type Factory func() (Driver, error)

var factories = map[string]Factory{}

// Register installs a driver factory under name. Duplicate names panic,
// registration happens at init time only.
func Register(name string, f Factory) {
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("driver %q registered twice", name))
	}
	factories[name] = f
}

// New builds the named driver.
func New(name string) (Driver, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (known: %v)", name, Names())
	}
	return f()
}

// Names lists registered driver names, sorted.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
