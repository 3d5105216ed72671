package apply

import (
	"context"
	"errors"
	"testing"
	"time"

	"stratus/internal/driver/memory"
	"stratus/internal/manifest"
	"stratus/internal/plan"
	"stratus/internal/state"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC) }

func labManifest() *manifest.Manifest {
	spec := func(s manifest.Spec) manifest.Spec { return manifest.Canonical(s) }
	return &manifest.Manifest{
		Name:     "weblab",
		Location: "westeurope",
		Resources: []manifest.Resource{
			{Kind: manifest.KindResourceGroup, Name: "rg-lab", Spec: spec(manifest.Spec{Location: "westeurope"})},
			{Kind: manifest.KindVirtualNetwork, Name: "vnet-lab", Spec: spec(manifest.Spec{
				Location: "westeurope", ResourceGroup: "rg-lab", AddressSpace: "10.0.0.0/16",
			})},
			{Kind: manifest.KindPublicIP, Name: "pip-web", Spec: spec(manifest.Spec{
				Location: "westeurope", ResourceGroup: "rg-lab", Allocation: "static", SKU: "standard",
			})},
			{Kind: manifest.KindNetworkInterface, Name: "nic-web", Spec: spec(manifest.Spec{
				Location: "westeurope", ResourceGroup: "rg-lab", PublicIP: "pip-web",
			})},
			{Kind: manifest.KindVirtualMachine, Name: "vm-web", Spec: spec(manifest.Spec{
				Location: "westeurope", ResourceGroup: "rg-lab", NetworkInterface: "nic-web",
				Size: "Standard_B2s", Image: "Ubuntu2204", AdminUser: "azureuser",
			})},
		},
	}
}

func newExecutor(t *testing.T) (*Executor, *memory.Driver, *state.Store) {
	t.Helper()
	store, err := state.Open(":memory:", fixedClock{})
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	drv := memory.New()
	return &Executor{Driver: drv, Store: store}, drv, store
}

func mustPlan(t *testing.T, m *manifest.Manifest, rows []state.ResourceRow) plan.Plan {
	t.Helper()
	p, err := plan.Build(m, rows)
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return p
}

func TestApplyCreatesEverything(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	result, err := exec.Apply(ctx, m, mustPlan(t, m, nil))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, tier := range result.Tiers {
		if tier.Status != TierCompleted {
			t.Fatalf("tier %q status = %s, want completed", tier.Name, tier.Status)
		}
		for _, rr := range tier.Resources {
			if !rr.Verified {
				t.Fatalf("%s not verified", rr.Address)
			}
			if rr.ProviderID == "" {
				t.Fatalf("%s has empty provider id", rr.Address)
			}
		}
	}

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(rows) != len(m.Resources) {
		t.Fatalf("state rows = %d, want %d", len(rows), len(m.Resources))
	}

	// The resource group must be provisioned before anything that lives in it.
	ops := drv.Ops()
	if len(ops) == 0 || ops[0] != "create resource_group/rg-lab" {
		t.Fatalf("ops[0] = %v, want resource group first", ops)
	}
	if ops[len(ops)-1] != "create virtual_machine/vm-web" {
		t.Fatalf("last op = %s, want the machine", ops[len(ops)-1])
	}

	runs, err := store.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Phase != RunSucceeded {
		t.Fatalf("runs = %+v, want one succeeded run", runs)
	}
}

func TestApplyUnchangedManifestDoesNothing(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	if _, err := exec.Apply(ctx, m, mustPlan(t, m, nil)); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	opsAfterFirst := len(drv.Ops())

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	second := mustPlan(t, m, rows)
	if second.HasChanges() {
		t.Fatalf("second plan has changes: %+v", second.Summarize())
	}
	if _, err := exec.Apply(ctx, m, second); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if got := len(drv.Ops()); got != opsAfterFirst {
		t.Fatalf("driver ops grew from %d to %d on a no-op apply", opsAfterFirst, got)
	}
}

func TestApplyRollsBackFailedTier(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	// vnet and public ip share a tier; failing the ip must undo the vnet.
	drv.FailCreate = map[string]error{"public_ip/pip-web": errors.New("quota exceeded")}

	_, err := exec.Apply(ctx, m, mustPlan(t, m, nil))
	if err == nil {
		t.Fatal("Apply succeeded despite injected failure")
	}
	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("error type = %T, want *ApplyError", err)
	}
	if ae.Address != "public_ip/pip-web" {
		t.Fatalf("failing address = %q, want public_ip/pip-web", ae.Address)
	}

	if drv.Has("virtual_network/vnet-lab") {
		t.Fatal("vnet survived rollback")
	}
	if !drv.Has("resource_group/rg-lab") {
		t.Fatal("earlier completed tier was rolled back")
	}

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(rows) != 1 || rows[0].Address != "resource_group/rg-lab" {
		t.Fatalf("state rows = %+v, want only the resource group", rows)
	}

	runs, err := store.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Phase != RunFailed || runs[0].Error == "" {
		t.Fatalf("runs = %+v, want one failed run with error", runs)
	}
}

func TestApplyUpdateAndDelete(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	if _, err := exec.Apply(ctx, m, mustPlan(t, m, nil)); err != nil {
		t.Fatalf("initial Apply: %v", err)
	}

	// Resize the machine and drop the public ip (and its interface binding).
	m.Resources[4].Spec.Size = "standard_b4ms"
	m.Resources[4].Spec = manifest.Canonical(m.Resources[4].Spec)
	m.Resources[3].Spec.PublicIP = ""
	m.Resources = append(m.Resources[:2], m.Resources[3:]...)

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	p := mustPlan(t, m, rows)
	if _, err := exec.Apply(ctx, m, p); err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	if drv.Has("public_ip/pip-web") {
		t.Fatal("removed public ip still provisioned")
	}
	if _, err := store.GetResource(ctx, "public_ip/pip-web"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("public ip state row = %v, want ErrNotFound", err)
	}

	vm, err := store.GetResource(ctx, "virtual_machine/vm-web")
	if err != nil {
		t.Fatalf("GetResource vm: %v", err)
	}
	spec, err := manifest.UnmarshalSpec(vm.SpecJSON)
	if err != nil {
		t.Fatalf("UnmarshalSpec: %v", err)
	}
	if spec.Size != "standard_b4ms" {
		t.Fatalf("recorded size = %q, want standard_b4ms", spec.Size)
	}
}

func TestApplyRepairsCorruptedStateRow(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	if _, err := exec.Apply(ctx, m, mustPlan(t, m, nil)); err != nil {
		t.Fatalf("initial Apply: %v", err)
	}

	// Corrupt the machine's recorded spec; the next plan must classify it
	// as a replace and the apply must carry that replace out.
	vm, err := store.GetResource(ctx, "virtual_machine/vm-web")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	vm.SpecJSON = "{not json"
	if err := store.UpsertResource(ctx, vm); err != nil {
		t.Fatalf("UpsertResource: %v", err)
	}

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	p := mustPlan(t, m, rows)
	if s := p.Summarize(); s.Replace != 1 {
		t.Fatalf("plan summary = %+v, want one replace", s)
	}

	if _, err := exec.Apply(ctx, m, p); err != nil {
		t.Fatalf("repair Apply: %v", err)
	}

	if !drv.Has("virtual_machine/vm-web") {
		t.Fatal("machine missing after repair")
	}
	repaired, err := store.GetResource(ctx, "virtual_machine/vm-web")
	if err != nil {
		t.Fatalf("GetResource after repair: %v", err)
	}
	spec, err := manifest.UnmarshalSpec(repaired.SpecJSON)
	if err != nil {
		t.Fatalf("repaired spec still undecodable: %v", err)
	}
	if !manifest.SpecEqual(spec, m.Resources[4].Spec) {
		t.Fatalf("repaired spec = %+v, want the manifest's", spec)
	}

	// And the repaired row must plan clean.
	rows, err = store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources after repair: %v", err)
	}
	if p := mustPlan(t, m, rows); p.HasChanges() {
		t.Fatalf("plan after repair has changes: %+v", p.Summarize())
	}
}

func TestDestroyRemovesEverything(t *testing.T) {
	exec, drv, store := newExecutor(t)
	ctx := context.Background()
	m := labManifest()

	if _, err := exec.Apply(ctx, m, mustPlan(t, m, nil)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rows, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if _, err := exec.Destroy(ctx, plan.BuildDestroy("weblab", rows)); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	left, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources after destroy: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("state rows after destroy = %+v, want none", left)
	}
	for _, addr := range []string{"resource_group/rg-lab", "virtual_machine/vm-web"} {
		if drv.Has(addr) {
			t.Fatalf("%s still provisioned after destroy", addr)
		}
	}

	// The machine must go before the resource group.
	ops := drv.Ops()
	var vmIdx, rgIdx int
	for i, op := range ops {
		switch op {
		case "delete virtual_machine/vm-web":
			vmIdx = i
		case "delete resource_group/rg-lab":
			rgIdx = i
		}
	}
	if vmIdx == 0 || rgIdx == 0 || vmIdx > rgIdx {
		t.Fatalf("delete order wrong: vm at %d, rg at %d in %v", vmIdx, rgIdx, ops)
	}
}

func TestApplyEmitsProgress(t *testing.T) {
	exec, _, _ := newExecutor(t)
	events := make(chan ProgressEvent, 64)
	exec.Events = events

	m := labManifest()
	if _, err := exec.Apply(context.Background(), m, mustPlan(t, m, nil)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	close(events)

	seen := make(map[string]int)
	for ev := range events {
		seen[ev.Type]++
	}
	if seen["tier_started"] == 0 || seen["tier_complete"] == 0 {
		t.Fatalf("missing tier events: %v", seen)
	}
	if seen["resource_created"] != len(m.Resources) {
		t.Fatalf("resource_created = %d, want %d", seen["resource_created"], len(m.Resources))
	}
	if seen["run_complete"] != 1 {
		t.Fatalf("run_complete = %d, want 1", seen["run_complete"])
	}
}
