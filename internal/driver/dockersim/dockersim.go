// Package dockersim simulates the resource model on a local Docker daemon,
// so manifests can be exercised end to end without a cloud subscription.
// Virtual networks become bridge networks, virtual machines become
// long-running containers wired to them, and inbound allow rules become
// published ports. Purely logical kinds (resource groups, subnets, security
// groups, workspaces) have no Docker object and are tracked as labels on
// the resources that do.
package dockersim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"stratus/internal/driver"
	"stratus/internal/manifest"
)

const namePrefix = "stratus-"

func init() {
	driver.Register("dockersim", func() (driver.Driver, error) {
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("dockersim: connect to docker: %w", err)
		}
		return New(docker), nil
	})
}

// Driver provisions simulated resources on a Docker daemon.
type Driver struct {
	docker   client.APIClient
	manifest *manifest.Manifest
}

func New(docker client.APIClient) *Driver {
	return &Driver{docker: docker}
}

func (d *Driver) Name() string { return "dockersim" }

// Begin keeps the manifest for cross-resource resolution: a virtual machine's
// network and ports come from its NIC, subnet and security group chain.
func (d *Driver) Begin(ctx context.Context, m *manifest.Manifest) error {
	d.manifest = m
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.docker.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable (is dockerd running?): %w", err)
	}
	return nil
}

func (d *Driver) Create(ctx context.Context, r manifest.Resource) (string, error) {
	switch r.Kind {
	case manifest.KindVirtualNetwork:
		return d.createNetwork(ctx, r)
	case manifest.KindVirtualMachine:
		return d.createMachine(ctx, r)
	default:
		// Logical resource: exists only in state.
		return "sim-" + strings.ReplaceAll(r.Address(), "/", "-"), nil
	}
}

// Update is a no-op for everything the simulation cannot mutate in place.
// Rule and size changes would need a container restart to matter locally;
// state still converges so later plans stay clean.
func (d *Driver) Update(ctx context.Context, r manifest.Resource, providerID string) error {
	slog.Debug("Simulated update.", "resource", r.Address())
	return nil
}

func (d *Driver) Delete(ctx context.Context, r manifest.Resource, providerID string) error {
	switch r.Kind {
	case manifest.KindVirtualNetwork:
		if err := d.docker.NetworkRemove(ctx, namePrefix+r.Name); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove network %s: %w", r.Name, err)
		}
		return nil
	case manifest.KindVirtualMachine:
		name := namePrefix + r.Name
		if err := d.docker.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop machine %s: %w", r.Name, err)
		}
		if err := d.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove machine %s: %w", r.Name, err)
		}
		return nil
	default:
		return nil
	}
}

func (d *Driver) Read(ctx context.Context, r manifest.Resource) (driver.Observation, error) {
	switch r.Kind {
	case manifest.KindVirtualNetwork:
		info, err := d.docker.NetworkInspect(ctx, namePrefix+r.Name, network.InspectOptions{})
		if errdefs.IsNotFound(err) {
			return driver.Observation{}, nil
		}
		if err != nil {
			return driver.Observation{}, fmt.Errorf("inspect network %s: %w", r.Name, err)
		}
		return driver.Observation{Exists: true, ProviderID: info.ID}, nil

	case manifest.KindVirtualMachine:
		info, err := d.docker.ContainerInspect(ctx, namePrefix+r.Name)
		if errdefs.IsNotFound(err) {
			return driver.Observation{}, nil
		}
		if err != nil {
			return driver.Observation{}, fmt.Errorf("inspect machine %s: %w", r.Name, err)
		}
		attrs := map[string]string{"running": fmt.Sprint(info.State != nil && info.State.Running)}
		for netName, endpoint := range info.NetworkSettings.Networks {
			if endpoint.IPAddress != "" {
				attrs["ip:"+strings.TrimPrefix(netName, namePrefix)] = endpoint.IPAddress
			}
		}
		return driver.Observation{Exists: true, ProviderID: info.ID, Attrs: attrs}, nil

	default:
		// Logical resources exist as long as state says they do.
		return driver.Observation{Exists: true, ProviderID: "sim-" + strings.ReplaceAll(r.Address(), "/", "-")}, nil
	}
}

func (d *Driver) createNetwork(ctx context.Context, r manifest.Resource) (string, error) {
	resp, err := d.docker.NetworkCreate(ctx, namePrefix+r.Name, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: r.Spec.AddressSpace}},
		},
		Labels: simLabels(r),
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", r.Name, err)
	}
	return resp.ID, nil
}

func (d *Driver) createMachine(ctx context.Context, r manifest.Resource) (string, error) {
	netName, ports, err := d.resolveMachine(r)
	if err != nil {
		return "", err
	}

	img := machineImage(r.Spec.Image)
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: p.Port()}}
	}

	containerCfg := &container.Config{
		Image:        img,
		Cmd:          []string{"sleep", "infinity"},
		Labels:       simLabels(r),
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	var netCfg *network.NetworkingConfig
	if netName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{netName: {}},
		}
	}

	name := namePrefix + r.Name
	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("create machine %s: %w", r.Name, err)
		}
		if err := d.pullImage(ctx, img); err != nil {
			return "", err
		}
		if resp, err = d.docker.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name); err != nil {
			return "", fmt.Errorf("create machine %s after pull: %w", r.Name, err)
		}
	}
	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start machine %s: %w", r.Name, err)
	}
	return resp.ID, nil
}

func (d *Driver) pullImage(ctx context.Context, img string) error {
	slog.Info("Pulling machine image.", "image", img)
	resp, err := d.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", img, err)
	}
	return nil
}

// resolveMachine walks vm → nic → subnet → vnet for the network name, and
// vm → nic → nsg for inbound allow rules that become published ports.
func (d *Driver) resolveMachine(r manifest.Resource) (string, []nat.Port, error) {
	if d.manifest == nil {
		return "", nil, nil
	}
	nic, ok := d.manifest.Get(manifest.KindNetworkInterface, r.Spec.NetworkInterface)
	if !ok {
		return "", nil, fmt.Errorf("machine %s references unknown interface %q", r.Name, r.Spec.NetworkInterface)
	}

	var netName string
	if subnet, ok := d.manifest.Get(manifest.KindSubnet, nic.Spec.Subnet); ok {
		if subnet.Spec.VirtualNetwork != "" {
			netName = namePrefix + subnet.Spec.VirtualNetwork
		}
	}

	var ports []nat.Port
	if nic.Spec.SecurityGroup != "" {
		for _, rule := range d.manifest.Resources {
			if rule.Kind != manifest.KindSecurityRule || rule.Spec.SecurityGroup != nic.Spec.SecurityGroup {
				continue
			}
			if rule.Spec.Access != "allow" || rule.Spec.Direction != "inbound" {
				continue
			}
			p, ok := rulePort(rule.Spec)
			if ok {
				ports = append(ports, p)
			}
		}
	}
	return netName, ports, nil
}

// rulePort maps an allow rule to a single published port. Ranges publish
// their first port only; wildcard destinations publish nothing.
func rulePort(s manifest.Spec) (nat.Port, bool) {
	dest := s.DestinationPorts
	if dest == "" || dest == "*" {
		return "", false
	}
	if first, _, ok := strings.Cut(dest, "-"); ok {
		dest = first
	}
	proto := s.Protocol
	if proto != "tcp" && proto != "udp" {
		proto = "tcp"
	}
	p, err := nat.NewPort(proto, dest)
	if err != nil {
		return "", false
	}
	return p, true
}

// machineImage maps the manifest's image aliases to Docker images. Anything
// already carrying a tag passes through.
func machineImage(img string) string {
	switch strings.ToLower(img) {
	case "ubuntu2204":
		return "ubuntu:22.04"
	case "ubuntu2404":
		return "ubuntu:24.04"
	case "debian11":
		return "debian:11"
	case "debian12":
		return "debian:12"
	}
	if strings.Contains(img, ":") {
		return img
	}
	return "ubuntu:22.04"
}

func simLabels(r manifest.Resource) map[string]string {
	return map[string]string{
		"stratus.kind": string(r.Kind),
		"stratus.name": r.Name,
	}
}
