package drift

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"stratus/internal/check"
	"stratus/internal/manifest"
)

const (
	defaultMaxEvents = 4096
	defaultOpWeight  = 1
)

// Operation mutates the desired set or converges for one step.
type Operation struct {
	Name   string
	Weight int
	Run    func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error)
}

// Invariant verifies a post-step invariant.
type Invariant struct {
	Name  string
	Check func(ctx context.Context, s *Scenario) error
}

// Event records one executed step for replay and debugging.
type Event struct {
	Step              int
	Seed              int64
	Timestamp         time.Time
	Operation         string
	Detail            string
	OperationError    string
	InvariantFailures []string
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Seed       int64
	MaxEvents  int
	Operations []Operation
	Invariants []Invariant
}

// Runner executes reproducible drift steps and checks invariants.
type Runner struct {
	mu         sync.Mutex
	scenario   *Scenario
	rng        *rand.Rand
	seed       int64
	step       int
	maxEvents  int
	operations []Operation
	invariants []Invariant
	events     []Event
}

func NewRunner(s *Scenario, cfg RunnerConfig) (*Runner, error) {
	check.Assert(s != nil, "NewRunner: scenario must not be nil")
	if s == nil {
		return nil, fmt.Errorf("scenario is required")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	ops := cfg.Operations
	if len(ops) == 0 {
		ops = DefaultOperations()
	}
	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("drift operation name is required")
		}
		if op.Run == nil {
			return nil, fmt.Errorf("drift operation %q run func is required", op.Name)
		}
	}

	invariants := cfg.Invariants
	if len(invariants) == 0 {
		invariants = DefaultInvariants()
	}
	for _, inv := range invariants {
		if strings.TrimSpace(inv.Name) == "" {
			return nil, fmt.Errorf("drift invariant name is required")
		}
		if inv.Check == nil {
			return nil, fmt.Errorf("drift invariant %q check func is required", inv.Name)
		}
	}

	return &Runner{
		scenario:   s,
		rng:        rand.New(rand.NewSource(seed)),
		seed:       seed,
		maxEvents:  maxEvents,
		operations: append([]Operation(nil), ops...),
		invariants: append([]Invariant(nil), invariants...),
		events:     make([]Event, 0, min(maxEvents, 128)),
	}, nil
}

func (r *Runner) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed
}

// ReplayLog returns a copy of the recorded events.
func (r *Runner) ReplayLog() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	for i := range out {
		if len(out[i].InvariantFailures) > 0 {
			out[i].InvariantFailures = append([]string(nil), out[i].InvariantFailures...)
		}
	}
	return out
}

// Step picks one weighted operation, runs it and checks every invariant.
func (r *Runner) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	op, err := chooseOperation(r.rng, r.operations)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.step++
	step := r.step
	seed := r.seed
	r.mu.Unlock()

	detail, opErr := op.Run(ctx, r.scenario, r.rng)
	invFailures := r.checkInvariants(ctx)

	event := Event{
		Step:              step,
		Seed:              seed,
		Timestamp:         time.Now(),
		Operation:         op.Name,
		Detail:            detail,
		InvariantFailures: invFailures,
	}
	if opErr != nil {
		event.OperationError = opErr.Error()
	}
	r.appendEvent(event)

	if opErr != nil {
		return fmt.Errorf("drift step %d op %q: %w", step, op.Name, opErr)
	}
	if len(invFailures) > 0 {
		return fmt.Errorf("drift step %d invariant failures: %s", step, strings.Join(invFailures, "; "))
	}
	return nil
}

// Run executes steps sequentially, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) checkInvariants(ctx context.Context) []string {
	r.mu.Lock()
	invariants := append([]Invariant(nil), r.invariants...)
	r.mu.Unlock()

	failures := make([]string, 0)
	for _, inv := range invariants {
		if err := inv.Check(ctx, r.scenario); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", inv.Name, err))
		}
	}
	sort.Strings(failures)
	return failures
}

func (r *Runner) appendEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if len(r.events) > r.maxEvents {
		r.events = r.events[len(r.events)-r.maxEvents:]
	}
}

func chooseOperation(rng *rand.Rand, ops []Operation) (Operation, error) {
	total := 0
	for _, op := range ops {
		w := op.Weight
		if w <= 0 {
			w = defaultOpWeight
		}
		total += w
	}
	if total <= 0 {
		return Operation{}, fmt.Errorf("no drift operations registered")
	}

	pick := rng.Intn(total)
	for _, op := range ops {
		w := op.Weight
		if w <= 0 {
			w = defaultOpWeight
		}
		if pick < w {
			return op, nil
		}
		pick -= w
	}

	return Operation{}, fmt.Errorf("failed to choose drift operation")
}

// DefaultOperations converges more often than it mutates so state keeps
// catching up with the churn.
func DefaultOperations() []Operation {
	return []Operation{
		{
			Name:   "converge",
			Weight: 3,
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				if err := s.Converge(ctx); err != nil {
					return "", err
				}
				return fmt.Sprintf("converged %d machines", len(s.Machines())), nil
			},
		},
		{
			Name:   "add_machine",
			Weight: 2,
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				n := s.AddMachine()
				return fmt.Sprintf("added vm-%d", n), nil
			},
		},
		{
			Name:   "remove_machine",
			Weight: 1,
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				n := s.RemoveMachine(rng)
				if n == 0 {
					return "skip: no machines", nil
				}
				return fmt.Sprintf("removed vm-%d", n), nil
			},
		},
		{
			Name:   "resize_machine",
			Weight: 1,
			Run: func(ctx context.Context, s *Scenario, rng *rand.Rand) (string, error) {
				n := s.ResizeMachine(rng)
				if n == 0 {
					return "skip: no machines", nil
				}
				return fmt.Sprintf("resized vm-%d", n), nil
			},
		},
	}
}

// DefaultInvariants hold regardless of pending drift: the state store and
// the backend only ever change together, through the executor.
func DefaultInvariants() []Invariant {
	return []Invariant{
		{
			Name: "state_matches_backend",
			Check: func(ctx context.Context, s *Scenario) error {
				rows, err := s.Store().ListResources(ctx)
				if err != nil {
					return err
				}
				recorded := make(map[string]bool, len(rows))
				for _, row := range rows {
					recorded[row.Address] = true
					if !s.Driver().Has(row.Address) {
						return fmt.Errorf("recorded %s missing from backend", row.Address)
					}
				}
				for _, addr := range s.Driver().Addresses() {
					if !recorded[addr] {
						return fmt.Errorf("backend %s missing from state", addr)
					}
				}
				return nil
			},
		},
		{
			Name: "recorded_specs_parse",
			Check: func(ctx context.Context, s *Scenario) error {
				rows, err := s.Store().ListResources(ctx)
				if err != nil {
					return err
				}
				for _, row := range rows {
					if _, err := manifest.UnmarshalSpec(row.SpecJSON); err != nil {
						return fmt.Errorf("%s: %w", row.Address, err)
					}
				}
				return nil
			},
		},
	}
}
