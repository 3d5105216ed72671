package azcli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stratus/internal/manifest"
)

type fakeRunner struct {
	calls [][]string
	out   []byte
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	return f.out, f.err
}

func rg() manifest.Resource {
	return manifest.Resource{
		Kind: manifest.KindResourceGroup,
		Name: "rg-lab",
		Spec: manifest.Spec{Location: "westeurope"},
	}
}

func TestCreateReturnsProviderID(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"id":"/subscriptions/s/resourceGroups/rg-lab"}`)}
	d := New(runner)

	id, err := d.Create(context.Background(), rg())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "/subscriptions/s/resourceGroups/rg-lab" {
		t.Fatalf("id = %q", id)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(runner.calls))
	}
}

func TestReadAbsentResource(t *testing.T) {
	runner := &fakeRunner{err: errors.New("(ResourceGroupNotFound) Resource group 'rg-lab' could not be found.")}
	d := New(runner)

	obs, err := d.Read(context.Background(), rg())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if obs.Exists {
		t.Fatal("Exists = true for absent resource")
	}
}

func TestDeleteToleratesAlreadyGone(t *testing.T) {
	runner := &fakeRunner{err: errors.New("(ResourceNotFound) not found")}
	d := New(runner)

	if err := d.Delete(context.Background(), rg(), ""); err != nil {
		t.Fatalf("Delete of absent resource: %v", err)
	}
}

func TestDeleteSurfacesOtherErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("(AuthorizationFailed) no permission")}
	d := New(runner)

	err := d.Delete(context.Background(), rg(), "")
	if err == nil || !strings.Contains(err.Error(), "AuthorizationFailed") {
		t.Fatalf("Delete = %v, want authorization error surfaced", err)
	}
}
