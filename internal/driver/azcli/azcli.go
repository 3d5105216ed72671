// Package azcli provisions resources by shelling out to the Azure CLI. It
// needs no SDK or credential handling of its own; whatever account `az login`
// established is what this driver acts as.
package azcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"stratus/internal/driver"
	"stratus/internal/manifest"
)

func init() {
	driver.Register("azcli", func() (driver.Driver, error) {
		return New(execRunner{bin: "az"}), nil
	})
}

// Runner executes one az invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	bin string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running az.", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("az %s: %s", strings.Join(args[:min(len(args), 3)], " "), msg)
	}
	return stdout.Bytes(), nil
}

// Driver drives the az CLI.
type Driver struct {
	runner Runner
}

func New(runner Runner) *Driver {
	return &Driver{runner: runner}
}

func (d *Driver) Name() string { return "azcli" }

// Begin needs no manifest-wide resolution: every spec is self-describing
// after the loader propagates resource groups and network parents.
func (d *Driver) Begin(ctx context.Context, m *manifest.Manifest) error { return nil }

// Ping verifies az is on PATH and logged in.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := exec.LookPath("az"); err != nil {
		return fmt.Errorf("azure cli not found on PATH (install az and run `az login`): %w", err)
	}
	if _, err := d.runner.Run(ctx, "account", "show", "-o", "json"); err != nil {
		return fmt.Errorf("azure cli is not logged in (run `az login`): %w", err)
	}
	return nil
}

func (d *Driver) Create(ctx context.Context, r manifest.Resource) (string, error) {
	args, err := createArgs(r)
	if err != nil {
		return "", err
	}
	out, err := d.runner.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", r.Address(), err)
	}
	return parseID(out), nil
}

func (d *Driver) Update(ctx context.Context, r manifest.Resource, providerID string) error {
	cmds, err := updateArgs(r)
	if err != nil {
		return err
	}
	for _, args := range cmds {
		if _, err := d.runner.Run(ctx, args...); err != nil {
			return fmt.Errorf("update %s: %w", r.Address(), err)
		}
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, r manifest.Resource, providerID string) error {
	args, err := deleteArgs(r)
	if err != nil {
		return err
	}
	if _, err := d.runner.Run(ctx, args...); err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", r.Address(), err)
	}
	return nil
}

func (d *Driver) Read(ctx context.Context, r manifest.Resource) (driver.Observation, error) {
	args, err := showArgs(r)
	if err != nil {
		return driver.Observation{}, err
	}
	out, err := d.runner.Run(ctx, args...)
	if err != nil {
		if notFound(err) {
			return driver.Observation{}, nil
		}
		return driver.Observation{}, fmt.Errorf("read %s: %w", r.Address(), err)
	}

	obs := driver.Observation{Exists: true, ProviderID: parseID(out)}
	if attrs := parseAttrs(out); len(attrs) > 0 {
		obs.Attrs = attrs
	}
	return obs, nil
}

// notFound matches the error text az emits for absent resources. Deleting
// or reading a resource that is already gone is not a failure.
func notFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"ResourceNotFound",
		"ResourceGroupNotFound",
		"NotFound",
		"could not be found",
		"does not exist",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// parseID extracts the ARM resource id from az's JSON output, searching
// nested objects in sorted key order so the result is deterministic for
// commands that wrap the resource (vnet create nests under "newVNet").
func parseID(out []byte) string {
	var doc any
	if err := json.Unmarshal(out, &doc); err != nil {
		return ""
	}
	return findID(doc)
}

func findID(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := obj["id"].(string); ok && id != "" {
		return id
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if id := findID(obj[k]); id != "" {
			return id
		}
	}
	return ""
}

// parseAttrs lifts the handful of top-level scalars useful for status output
// and probes (ipAddress, provisioningState and the like).
func parseAttrs(out []byte) map[string]string {
	var obj map[string]any
	if err := json.Unmarshal(out, &obj); err != nil {
		return nil
	}
	attrs := make(map[string]string)
	for _, key := range []string{"ipAddress", "provisioningState", "location", "powerState", "privateIpAddress"} {
		if v, ok := obj[key].(string); ok && v != "" {
			attrs[key] = v
		}
	}
	if props, ok := obj["properties"].(map[string]any); ok {
		for _, key := range []string{"ipAddress", "provisioningState"} {
			if v, ok := props[key].(string); ok && v != "" {
				attrs[key] = v
			}
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
