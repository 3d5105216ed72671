package config

import (
	"path/filepath"
	"testing"
)

func TestContextDefaults(t *testing.T) {
	var ctx Context
	if got := ctx.DriverName(); got != "azcli" {
		t.Fatalf("DriverName = %q, want azcli", got)
	}

	ctx.Driver = "dockersim"
	if got := ctx.DriverName(); got != "dockersim" {
		t.Fatalf("DriverName = %q, want dockersim", got)
	}

	ctx.StatePath = "/tmp/lab.db"
	if got := ctx.StateFile("lab"); got != "/tmp/lab.db" {
		t.Fatalf("StateFile = %q, want /tmp/lab.db", got)
	}

	ctx.StatePath = ""
	got := ctx.StateFile("lab")
	if filepath.Base(got) != "lab.db" {
		t.Fatalf("StateFile = %q, want per-context default", got)
	}
}

func TestConfigContexts(t *testing.T) {
	cfg := &Config{Contexts: make(map[string]Context)}

	if _, _, ok := cfg.Current(); ok {
		t.Fatal("Current reported a context on empty config")
	}
	if err := cfg.Use("lab"); err == nil {
		t.Fatal("Use of unknown context succeeded")
	}

	cfg.Set("lab", Context{Driver: "dockersim", Location: "westeurope"})
	if err := cfg.Use("lab"); err != nil {
		t.Fatalf("Use: %v", err)
	}
	name, ctx, ok := cfg.Current()
	if !ok || name != "lab" || ctx.Driver != "dockersim" {
		t.Fatalf("Current = %q %+v %v", name, ctx, ok)
	}

	if err := cfg.Remove("lab"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Fatalf("CurrentContext = %q after removing current, want empty", cfg.CurrentContext)
	}
	if err := cfg.Remove("lab"); err == nil {
		t.Fatal("Remove of absent context succeeded")
	}
}
