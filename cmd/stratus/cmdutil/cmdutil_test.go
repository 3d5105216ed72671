package cmdutil

import (
	"testing"

	"stratus/config"

	_ "stratus/internal/driver/memory"
)

func TestResolveContextDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	name, cctx, err := ResolveContext(Options{})
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if name != "default" {
		t.Fatalf("name = %q, want default", name)
	}
	if got := cctx.DriverName(); got != "azcli" {
		t.Fatalf("driver = %q, want azcli", got)
	}
}

func TestResolveContextOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := &config.Config{
		CurrentContext: "lab",
		Contexts: map[string]config.Context{
			"lab":   {Driver: "azcli", Location: "westeurope"},
			"local": {Driver: "dockersim"},
		},
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("save config: %v", err)
	}

	name, cctx, err := ResolveContext(Options{})
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if name != "lab" || cctx.Location != "westeurope" {
		t.Fatalf("resolved %q %+v, want lab in westeurope", name, cctx)
	}

	name, cctx, err = ResolveContext(Options{ContextName: "local", Driver: "memory"})
	if err != nil {
		t.Fatalf("ResolveContext with overrides: %v", err)
	}
	if name != "local" || cctx.DriverName() != "memory" {
		t.Fatalf("resolved %q driver %q, want local with memory", name, cctx.DriverName())
	}

	if _, _, err := ResolveContext(Options{ContextName: "missing"}); err == nil {
		t.Fatal("expected error for unknown context")
	}
}

func TestOpenUsesMemoryDriver(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	env, err := Open(Options{Driver: "memory", StatePath: t.TempDir() + "/state.db"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer env.Close()

	if env.Driver.Name() != "memory" {
		t.Fatalf("driver = %q, want memory", env.Driver.Name())
	}
}
