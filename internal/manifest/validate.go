package manifest

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

const (
	rulePriorityMin = 100
	rulePriorityMax = 4096

	retentionDaysMin = 30
	retentionDaysMax = 730
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Validate checks a loaded manifest for structural problems: bad names,
// dangling references, out-of-range values, overlapping rule priorities.
// The loader calls it; it is exported for callers that build manifests
// programmatically.
func Validate(m *Manifest) error {
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("manifest: invalid name %q", m.Name)
	}

	seen := make(map[string]bool, len(m.Resources))
	for _, r := range m.Resources {
		addr := r.Address()
		if err := validateName(r); err != nil {
			return err
		}
		if seen[addr] {
			return fmt.Errorf("%s: duplicate resource", addr)
		}
		seen[addr] = true
	}

	for _, r := range m.Resources {
		if err := validateReferences(m, r); err != nil {
			return err
		}
		if err := validateSpec(m, r); err != nil {
			return err
		}
	}

	return validateRulePriorities(m)
}

func validateName(r Resource) error {
	name := r.Name
	if r.Kind == KindSecurityRule {
		// Rule names carry their group prefix: "<nsg>/<rule>".
		nsg, rule, found := strings.Cut(name, "/")
		if !found || nsg == "" || rule == "" {
			return fmt.Errorf("%s: malformed rule name", r.Address())
		}
		if !namePattern.MatchString(nsg) || !namePattern.MatchString(rule) {
			return fmt.Errorf("%s: invalid rule name", r.Address())
		}
		return nil
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%s: invalid resource name %q", r.Address(), name)
	}
	return nil
}

func validateReferences(m *Manifest, r Resource) error {
	for _, ref := range r.References() {
		if _, ok := m.Lookup(ref); !ok {
			return fmt.Errorf("%s: references unknown resource %s", r.Address(), ref)
		}
	}
	for _, dep := range r.DependsOn {
		kind, name, err := SplitAddress(dep)
		if err != nil {
			return fmt.Errorf("%s: depends_on: %w", r.Address(), err)
		}
		if _, ok := m.Get(kind, name); !ok {
			return fmt.Errorf("%s: depends_on unknown resource %s", r.Address(), dep)
		}
	}
	return nil
}

func validateSpec(m *Manifest, r Resource) error {
	s := r.Spec
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%s: %s", r.Address(), fmt.Sprintf(format, args...))
	}

	switch r.Kind {
	case KindResourceGroup:
		if s.Location == "" {
			return fail("location is required")
		}

	case KindVirtualNetwork:
		if s.ResourceGroup == "" {
			return fail("resource_group is required")
		}
		if _, err := netip.ParsePrefix(s.AddressSpace); err != nil {
			return fail("invalid address_space %q: %v", s.AddressSpace, err)
		}

	case KindSubnet:
		if s.VirtualNetwork == "" {
			return fail("virtual_network is required")
		}
		prefix, err := netip.ParsePrefix(s.AddressPrefix)
		if err != nil {
			return fail("invalid address_prefix %q: %v", s.AddressPrefix, err)
		}
		if vnet, ok := m.Get(KindVirtualNetwork, s.VirtualNetwork); ok {
			if space, err := netip.ParsePrefix(vnet.Spec.AddressSpace); err == nil {
				if !space.Overlaps(prefix) || prefix.Bits() < space.Bits() {
					return fail("address_prefix %s is outside virtual network space %s", prefix, space)
				}
			}
		}

	case KindSecurityGroup:
		if s.ResourceGroup == "" {
			return fail("resource_group is required")
		}

	case KindSecurityRule:
		if s.Priority < rulePriorityMin || s.Priority > rulePriorityMax {
			return fail("priority %d out of range [%d, %d]", s.Priority, rulePriorityMin, rulePriorityMax)
		}
		if s.Direction != "inbound" && s.Direction != "outbound" {
			return fail("direction must be inbound or outbound, got %q", s.Direction)
		}
		if s.Access != "allow" && s.Access != "deny" {
			return fail("access must be allow or deny, got %q", s.Access)
		}
		switch s.Protocol {
		case "tcp", "udp", "icmp", "*":
		default:
			return fail("protocol must be tcp, udp, icmp or *, got %q", s.Protocol)
		}
		if err := validatePortRange(s.DestinationPorts); err != nil {
			return fail("destination_ports: %v", err)
		}
		if s.SourcePorts != "" {
			if err := validatePortRange(s.SourcePorts); err != nil {
				return fail("source_ports: %v", err)
			}
		}

	case KindPublicIP:
		if s.ResourceGroup == "" {
			return fail("resource_group is required")
		}
		if s.Allocation != "static" && s.Allocation != "dynamic" {
			return fail("allocation must be static or dynamic, got %q", s.Allocation)
		}

	case KindNetworkInterface:
		if s.Subnet == "" {
			return fail("subnet is required")
		}

	case KindVirtualMachine:
		if s.ResourceGroup == "" {
			return fail("resource_group is required")
		}
		if s.NetworkInterface == "" {
			return fail("network_interface is required")
		}
		if s.Image == "" {
			return fail("image is required")
		}
		if s.AdminUser == "" {
			return fail("admin_user is required")
		}

	case KindWorkspace:
		if s.ResourceGroup == "" {
			return fail("resource_group is required")
		}
		if s.RetentionDays != 0 && (s.RetentionDays < retentionDaysMin || s.RetentionDays > retentionDaysMax) {
			return fail("retention_days %d out of range [%d, %d]", s.RetentionDays, retentionDaysMin, retentionDaysMax)
		}

	case KindDiagnosticSetting:
		if s.Target == "" {
			return fail("target is required")
		}
		if s.Workspace == "" {
			return fail("workspace is required")
		}
		if len(s.Metrics) == 0 && len(s.Logs) == 0 {
			return fail("at least one metric or log category is required")
		}
	}

	return nil
}

// validateRulePriorities enforces unique priorities within each security
// group; the control plane rejects collisions only at apply time, which is
// too late.
func validateRulePriorities(m *Manifest) error {
	type slot struct {
		group    string
		priority int
	}
	owners := make(map[slot]string)
	for _, r := range m.Resources {
		if r.Kind != KindSecurityRule {
			continue
		}
		key := slot{group: r.Spec.SecurityGroup, priority: r.Spec.Priority}
		if other, taken := owners[key]; taken {
			return fmt.Errorf("%s: priority %d already used by %s", r.Address(), r.Spec.Priority, other)
		}
		owners[key] = r.Address()
	}
	return nil
}

// validatePortRange accepts "*", single ports and "lo-hi" ranges.
func validatePortRange(raw string) error {
	if raw == "" {
		return fmt.Errorf("port range is required")
	}
	if raw == "*" {
		return nil
	}
	lo, hi, isRange := strings.Cut(raw, "-")
	loPort, err := parsePort(lo)
	if err != nil {
		return err
	}
	if !isRange {
		return nil
	}
	hiPort, err := parsePort(hi)
	if err != nil {
		return err
	}
	if hiPort < loPort {
		return fmt.Errorf("range %q is inverted", raw)
	}
	return nil
}

func parsePort(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return n, nil
}
