package drift

import (
	"context"
	"testing"

	"stratus/internal/plan"
)

func mustScenario(t *testing.T) *Scenario {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunnerChurnConverges(t *testing.T) {
	ctx := context.Background()
	s := mustScenario(t)

	r, err := NewRunner(s, RunnerConfig{Seed: 42})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := r.Run(ctx, 40); err != nil {
		t.Fatalf("Run (seed %d): %v", r.Seed(), err)
	}

	// After a final converge the plan must be empty.
	if err := s.Converge(ctx); err != nil {
		t.Fatalf("final converge: %v", err)
	}
	rows, err := s.Store().ListResources(ctx)
	if err != nil {
		t.Fatalf("list state: %v", err)
	}
	p, err := plan.Build(s.Manifest(), rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.HasChanges() {
		t.Fatalf("plan after converge still has changes: %+v", p.Summarize())
	}
}

func TestRunnerStepRecordsReplayEvent(t *testing.T) {
	s := mustScenario(t)

	r, err := NewRunner(s, RunnerConfig{Seed: 7})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	log := r.ReplayLog()
	if len(log) != 1 {
		t.Fatalf("replay log has %d events, want 1", len(log))
	}
	ev := log[0]
	if ev.Step != 1 || ev.Seed != 7 || ev.Operation == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.InvariantFailures) != 0 {
		t.Fatalf("invariant failures on clean step: %v", ev.InvariantFailures)
	}
}

func TestRunnerSeedIsReproducible(t *testing.T) {
	ctx := context.Background()

	opsFor := func() []string {
		s := mustScenario(t)
		r, err := NewRunner(s, RunnerConfig{Seed: 99})
		if err != nil {
			t.Fatalf("NewRunner: %v", err)
		}
		if err := r.Run(ctx, 20); err != nil {
			t.Fatalf("Run: %v", err)
		}
		var names []string
		for _, ev := range r.ReplayLog() {
			names = append(names, ev.Operation)
		}
		return names
	}

	first := opsFor()
	second := opsFor()
	if len(first) != len(second) {
		t.Fatalf("runs differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("step %d differs: %s vs %s", i+1, first[i], second[i])
		}
	}
}

func TestRunnerRejectsAnonymousOperations(t *testing.T) {
	s := mustScenario(t)

	_, err := NewRunner(s, RunnerConfig{
		Operations: []Operation{{Name: "  "}},
	})
	if err == nil {
		t.Fatal("expected error for unnamed operation")
	}
}
