// Package drift drives randomized manifest churn through the plan and
// apply pipeline against the in-memory driver, checking after every step
// that the recorded state and the backend never disagree.
package drift

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"stratus/internal/apply"
	"stratus/internal/driver/memory"
	"stratus/internal/manifest"
	"stratus/internal/plan"
	"stratus/internal/state"
)

const (
	sizeSmall = "standard_b2s"
	sizeLarge = "standard_b4ms"
)

// Scenario holds one evolving lab: a mutable desired resource set, the
// state store and the memory driver the executor runs against.
type Scenario struct {
	mu        sync.Mutex
	driver    *memory.Driver
	store     *state.Store
	resources []manifest.Resource
	machines  []int
	nextNum   int
}

// New creates a scenario seeded with the base network (resource group,
// virtual network, subnet) and no machines.
func New() (*Scenario, error) {
	store, err := state.Open(":memory:", state.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Scenario{
		driver:    memory.New(),
		store:     store,
		resources: baseResources(),
	}, nil
}

// Close releases the scenario's state store.
func (s *Scenario) Close() error {
	return s.store.Close()
}

// Store exposes the state store for invariant checks.
func (s *Scenario) Store() *state.Store { return s.store }

// Driver exposes the memory driver for invariant checks.
func (s *Scenario) Driver() *memory.Driver { return s.driver }

// Machines returns the live machine numbers.
func (s *Scenario) Machines() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.machines...)
}

// Manifest builds the current desired manifest.
func (s *Scenario) Manifest() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &manifest.Manifest{
		Name:      "driftlab",
		Location:  "westeurope",
		Resources: append([]manifest.Resource(nil), s.resources...),
	}
}

// AddMachine appends a public IP, NIC and VM to the desired set and
// returns the machine number.
func (s *Scenario) AddMachine() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNum++
	n := s.nextNum
	s.resources = append(s.resources,
		res(manifest.KindPublicIP, machineName("pip", n), manifest.Spec{
			Location: "westeurope", ResourceGroup: "rg-drift", Allocation: "static", SKU: "standard",
		}),
		res(manifest.KindNetworkInterface, machineName("nic", n), manifest.Spec{
			Location: "westeurope", ResourceGroup: "rg-drift",
			Subnet: "snet-drift", VirtualNetwork: "vnet-drift", PublicIP: machineName("pip", n),
		}),
		res(manifest.KindVirtualMachine, machineName("vm", n), manifest.Spec{
			Location: "westeurope", ResourceGroup: "rg-drift",
			NetworkInterface: machineName("nic", n),
			Size:             sizeSmall, Image: "ubuntu2204", AdminUser: "azureuser",
		}),
	)
	s.machines = append(s.machines, n)
	return n
}

// RemoveMachine drops a random machine and its public IP and NIC from the
// desired set. Returns 0 when no machine is left to remove.
func (s *Scenario) RemoveMachine(rng *rand.Rand) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.machines) == 0 {
		return 0
	}
	idx := rng.Intn(len(s.machines))
	n := s.machines[idx]
	s.machines = append(s.machines[:idx], s.machines[idx+1:]...)

	gone := map[string]bool{
		manifest.Address(manifest.KindPublicIP, machineName("pip", n)):         true,
		manifest.Address(manifest.KindNetworkInterface, machineName("nic", n)): true,
		manifest.Address(manifest.KindVirtualMachine, machineName("vm", n)):    true,
	}
	kept := s.resources[:0]
	for _, r := range s.resources {
		if !gone[r.Address()] {
			kept = append(kept, r)
		}
	}
	s.resources = kept
	return n
}

// ResizeMachine flips a random machine between the small and large size.
// Returns 0 when no machine exists.
func (s *Scenario) ResizeMachine(rng *rand.Rand) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.machines) == 0 {
		return 0
	}
	n := s.machines[rng.Intn(len(s.machines))]
	addr := manifest.Address(manifest.KindVirtualMachine, machineName("vm", n))
	for i := range s.resources {
		if s.resources[i].Address() != addr {
			continue
		}
		if s.resources[i].Spec.Size == sizeSmall {
			s.resources[i].Spec.Size = sizeLarge
		} else {
			s.resources[i].Spec.Size = sizeSmall
		}
		break
	}
	return n
}

// Converge plans and applies the current desired set.
func (s *Scenario) Converge(ctx context.Context) error {
	m := s.Manifest()

	rows, err := s.store.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("list state: %w", err)
	}
	p, err := plan.Build(m, rows)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	if !p.HasChanges() {
		return nil
	}

	exec := &apply.Executor{Driver: s.driver, Store: s.store}
	if _, err := exec.Apply(ctx, m, p); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

func res(kind manifest.Kind, name string, spec manifest.Spec) manifest.Resource {
	return manifest.Resource{Kind: kind, Name: name, Spec: manifest.Canonical(spec)}
}

func machineName(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

func baseResources() []manifest.Resource {
	return []manifest.Resource{
		res(manifest.KindResourceGroup, "rg-drift", manifest.Spec{Location: "westeurope"}),
		res(manifest.KindVirtualNetwork, "vnet-drift", manifest.Spec{
			Location: "westeurope", ResourceGroup: "rg-drift", AddressSpace: "10.40.0.0/16",
		}),
		res(manifest.KindSubnet, "snet-drift", manifest.Spec{
			Location: "westeurope", ResourceGroup: "rg-drift",
			VirtualNetwork: "vnet-drift", AddressPrefix: "10.40.1.0/24",
		}),
	}
}
