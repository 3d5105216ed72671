// Package verify probes applied resources from the operator's side of the
// network: can you actually SSH in, does the web endpoint answer, is the
// machine shipping diagnostics. Probe failures carry a remediation hint,
// because the common causes (NSG rules, stopped machines) are fixable from
// the manifest.
package verify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"stratus/internal/driver"
	"stratus/internal/manifest"
)

const defaultTimeout = 10 * time.Second

// Result is the outcome of one probe.
type Result struct {
	Name   string
	Target string
	OK     bool
	Detail string
	Hint   string
}

// Verifier runs probes derived from a manifest against live resources.
type Verifier struct {
	Driver  driver.Driver
	Timeout time.Duration
}

// Run probes every virtual machine that has a public IP: TCP reachability
// for each allowed inbound port (HTTPS gets a full request), plus a check
// that each diagnostic setting still exists in the backend.
func (v *Verifier) Run(ctx context.Context, m *manifest.Manifest) []Result {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var results []Result
	for _, vm := range m.Resources {
		if vm.Kind != manifest.KindVirtualMachine {
			continue
		}
		ip, ok := v.publicAddress(ctx, m, vm)
		if !ok {
			continue
		}
		for _, port := range inboundPorts(m, vm) {
			switch port {
			case 443:
				results = append(results, HTTPSReachable(ctx, "https://"+ip, timeout))
			case 22:
				r := TCPReachable(ctx, net.JoinHostPort(ip, "22"), timeout)
				r.Name = "ssh"
				if !r.OK {
					r.Hint = "check the security group allows inbound 22 from your address and the machine is running"
				}
				results = append(results, r)
			default:
				results = append(results, TCPReachable(ctx, net.JoinHostPort(ip, fmt.Sprint(port)), timeout))
			}
		}
	}

	for _, diag := range m.Resources {
		if diag.Kind != manifest.KindDiagnosticSetting {
			continue
		}
		results = append(results, v.diagnosticBound(ctx, diag))
	}
	return results
}

// TCPReachable dials addr once.
func TCPReachable(ctx context.Context, addr string, timeout time.Duration) Result {
	r := Result{Name: "tcp", Target: addr}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.Detail = err.Error()
		r.Hint = "check the security group allows the port inbound and the machine is running"
		return r
	}
	_ = conn.Close()
	r.OK = true
	r.Detail = "connected"
	return r
}

// HTTPSReachable issues a GET and accepts any HTTP response. Lab machines
// serve self-signed certificates, so verification is skipped; reachability
// is what is being probed, not trust.
func HTTPSReachable(ctx context.Context, url string, timeout time.Duration) Result {
	r := Result{Name: "https", Target: url}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	resp, err := client.Do(req)
	if err != nil {
		r.Detail = err.Error()
		r.Hint = "check the web server is listening on 443 and the security group allows it inbound; if setup never finished, read /var/log/cloud-init-output.log on the machine"
		return r
	}
	defer resp.Body.Close()
	r.OK = true
	r.Detail = resp.Status
	return r
}

func (v *Verifier) diagnosticBound(ctx context.Context, diag manifest.Resource) Result {
	r := Result{Name: "diagnostics", Target: diag.Address()}
	obs, err := v.Driver.Read(ctx, diag)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	if !obs.Exists {
		r.Detail = "diagnostic setting not found in backend"
		r.Hint = "re-run apply; the setting may have been removed outside this tool"
		return r
	}
	r.OK = true
	r.Detail = "bound to workspace " + diag.Spec.Workspace
	return r
}

// publicAddress resolves a machine's public IP by reading its interface's
// public ip resource from the driver.
func (v *Verifier) publicAddress(ctx context.Context, m *manifest.Manifest, vm manifest.Resource) (string, bool) {
	nic, ok := m.Get(manifest.KindNetworkInterface, vm.Spec.NetworkInterface)
	if !ok || nic.Spec.PublicIP == "" {
		return "", false
	}
	pip, ok := m.Get(manifest.KindPublicIP, nic.Spec.PublicIP)
	if !ok {
		return "", false
	}
	obs, err := v.Driver.Read(ctx, pip)
	if err != nil || !obs.Exists {
		return "", false
	}
	if ip := obs.Attrs["ipAddress"]; ip != "" {
		return ip, true
	}
	return "", false
}

// inboundPorts lists the single-port inbound allow rules reachable through
// the machine's interface, sorted ascending.
func inboundPorts(m *manifest.Manifest, vm manifest.Resource) []int {
	nic, ok := m.Get(manifest.KindNetworkInterface, vm.Spec.NetworkInterface)
	if !ok || nic.Spec.SecurityGroup == "" {
		return nil
	}
	var ports []int
	for _, rule := range m.Resources {
		if rule.Kind != manifest.KindSecurityRule || rule.Spec.SecurityGroup != nic.Spec.SecurityGroup {
			continue
		}
		if rule.Spec.Access != "allow" || rule.Spec.Direction != "inbound" {
			continue
		}
		port, err := strconv.Atoi(rule.Spec.DestinationPorts)
		if err != nil {
			continue
		}
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
