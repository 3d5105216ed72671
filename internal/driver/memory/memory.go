// Package memory implements an in-process driver that records operations
// without touching any backend. It backs dry runs and the executor's tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stratus/internal/driver"
	"stratus/internal/manifest"
)

func init() {
	driver.Register("memory", func() (driver.Driver, error) {
		return New(), nil
	})
}

type entry struct {
	spec       manifest.Spec
	providerID string
}

// Driver holds provisioned resources in a map. Fail hooks let tests inject
// errors for specific addresses.
type Driver struct {
	mu        sync.Mutex
	resources map[string]entry
	nextID    int
	ops       []string

	FailCreate map[string]error
	FailUpdate map[string]error
	FailDelete map[string]error
}

func New() *Driver {
	return &Driver{resources: make(map[string]entry)}
}

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Begin(ctx context.Context, m *manifest.Manifest) error { return nil }

func (d *Driver) Ping(ctx context.Context) error { return nil }

func (d *Driver) Create(ctx context.Context, r manifest.Resource) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := r.Address()
	if err := d.FailCreate[addr]; err != nil {
		return "", err
	}
	d.nextID++
	id := fmt.Sprintf("mem-%d", d.nextID)
	d.resources[addr] = entry{spec: r.Spec, providerID: id}
	d.ops = append(d.ops, "create "+addr)
	return id, nil
}

func (d *Driver) Update(ctx context.Context, r manifest.Resource, providerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := r.Address()
	if err := d.FailUpdate[addr]; err != nil {
		return err
	}
	e, ok := d.resources[addr]
	if !ok {
		return fmt.Errorf("memory: update of absent resource %s", addr)
	}
	e.spec = r.Spec
	d.resources[addr] = e
	d.ops = append(d.ops, "update "+addr)
	return nil
}

func (d *Driver) Delete(ctx context.Context, r manifest.Resource, providerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := r.Address()
	if err := d.FailDelete[addr]; err != nil {
		return err
	}
	delete(d.resources, addr)
	d.ops = append(d.ops, "delete "+addr)
	return nil
}

func (d *Driver) Read(ctx context.Context, r manifest.Resource) (driver.Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.resources[r.Address()]
	if !ok {
		return driver.Observation{}, nil
	}
	return driver.Observation{Exists: true, ProviderID: e.providerID}, nil
}

// Ops returns the operations performed so far, in order.
func (d *Driver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// Addresses returns the currently provisioned addresses, sorted.
func (d *Driver) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	addrs := make([]string, 0, len(d.resources))
	for addr := range d.resources {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Has reports whether the address is currently provisioned.
func (d *Driver) Has(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.resources[address]
	return ok
}
