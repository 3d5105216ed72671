package manifest

import "fmt"

// Kind identifies one of the managed cloud resource types.
type Kind string

const (
	KindResourceGroup     Kind = "resource_group"
	KindVirtualNetwork    Kind = "virtual_network"
	KindSubnet            Kind = "subnet"
	KindSecurityGroup     Kind = "network_security_group"
	KindSecurityRule      Kind = "nsg_rule"
	KindPublicIP          Kind = "public_ip"
	KindNetworkInterface  Kind = "network_interface"
	KindVirtualMachine    Kind = "virtual_machine"
	KindWorkspace         Kind = "log_analytics_workspace"
	KindDiagnosticSetting Kind = "diagnostic_setting"
)

// kindOrder fixes the iteration order for deterministic output. Parents
// come before anything that can reference them.
var kindOrder = []Kind{
	KindResourceGroup,
	KindVirtualNetwork,
	KindSubnet,
	KindSecurityGroup,
	KindSecurityRule,
	KindPublicIP,
	KindNetworkInterface,
	KindVirtualMachine,
	KindWorkspace,
	KindDiagnosticSetting,
}

// KindRank returns the position of k in the parent-first kind order.
// Unknown kinds sort last.
func KindRank(k Kind) int {
	for i, known := range kindOrder {
		if k == known {
			return i
		}
	}
	return len(kindOrder)
}

// KnownKind reports whether k names a managed resource type.
func KnownKind(k Kind) bool {
	for _, known := range kindOrder {
		if k == known {
			return true
		}
	}
	return false
}

// Spec holds the desired attributes of a resource. It is a flat union over
// all kinds; fields irrelevant to a kind stay zero and are omitted from the
// canonical JSON, so the same struct serves state storage and diffing.
type Spec struct {
	Location      string `json:"location,omitempty"`
	ResourceGroup string `json:"resource_group,omitempty"`

	// virtual_network / subnet
	AddressSpace   string `json:"address_space,omitempty"`
	VirtualNetwork string `json:"virtual_network,omitempty"`
	AddressPrefix  string `json:"address_prefix,omitempty"`

	// nsg_rule (SecurityGroup doubles as the NIC attachment below)
	SecurityGroup    string `json:"security_group,omitempty"`
	Priority         int    `json:"priority,omitempty"`
	Direction        string `json:"direction,omitempty"`
	Access           string `json:"access,omitempty"`
	Protocol         string `json:"protocol,omitempty"`
	SourcePrefix     string `json:"source_prefix,omitempty"`
	SourcePorts      string `json:"source_ports,omitempty"`
	DestinationPorts string `json:"destination_ports,omitempty"`

	// public_ip
	Allocation string `json:"allocation,omitempty"`
	SKU        string `json:"sku,omitempty"`

	// network_interface
	Subnet   string `json:"subnet,omitempty"`
	PublicIP string `json:"public_ip,omitempty"`

	// virtual_machine
	NetworkInterface string `json:"network_interface,omitempty"`
	Size             string `json:"size,omitempty"`
	Image            string `json:"image,omitempty"`
	AdminUser        string `json:"admin_user,omitempty"`
	SSHPublicKey     string `json:"ssh_public_key,omitempty"`
	CustomData       string `json:"custom_data,omitempty"`

	// log_analytics_workspace
	RetentionDays int `json:"retention_days,omitempty"`

	// diagnostic_setting
	Target    string   `json:"target,omitempty"`
	Workspace string   `json:"workspace,omitempty"`
	Metrics   []string `json:"metrics,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

// Resource is one desired cloud resource.
type Resource struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Spec Spec   `json:"spec"`

	// DependsOn holds explicit extra edges (addresses) beyond the implicit
	// ones derived from Spec references.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Address returns the unique "kind/name" identifier used in graphs,
// state rows and error messages.
func (r Resource) Address() string {
	return Address(r.Kind, r.Name)
}

// Address builds the "kind/name" identifier for a resource.
func Address(kind Kind, name string) string {
	return string(kind) + "/" + name
}

// References returns the addresses this resource implicitly depends on,
// derived from its spec fields.
func (r Resource) References() []string {
	var refs []string
	add := func(kind Kind, name string) {
		if name != "" {
			refs = append(refs, Address(kind, name))
		}
	}

	switch r.Kind {
	case KindVirtualNetwork, KindSecurityGroup, KindPublicIP, KindWorkspace:
		add(KindResourceGroup, r.Spec.ResourceGroup)
	case KindSubnet:
		add(KindVirtualNetwork, r.Spec.VirtualNetwork)
	case KindSecurityRule:
		add(KindSecurityGroup, r.Spec.SecurityGroup)
	case KindNetworkInterface:
		add(KindSubnet, r.Spec.Subnet)
		add(KindPublicIP, r.Spec.PublicIP)
		add(KindSecurityGroup, r.Spec.SecurityGroup)
	case KindVirtualMachine:
		add(KindResourceGroup, r.Spec.ResourceGroup)
		add(KindNetworkInterface, r.Spec.NetworkInterface)
	case KindDiagnosticSetting:
		add(KindVirtualMachine, r.Spec.Target)
		add(KindWorkspace, r.Spec.Workspace)
	}
	return refs
}

// Manifest is the full desired resource set for one environment.
type Manifest struct {
	Name      string
	Location  string
	Resources []Resource

	byAddress map[string]int
}

// Lookup returns the resource with the given address.
func (m *Manifest) Lookup(address string) (Resource, bool) {
	if m.byAddress == nil {
		m.reindex()
	}
	idx, ok := m.byAddress[address]
	if !ok {
		return Resource{}, false
	}
	return m.Resources[idx], true
}

// Get returns the named resource of the given kind.
func (m *Manifest) Get(kind Kind, name string) (Resource, bool) {
	return m.Lookup(Address(kind, name))
}

func (m *Manifest) reindex() {
	m.byAddress = make(map[string]int, len(m.Resources))
	for i, r := range m.Resources {
		m.byAddress[r.Address()] = i
	}
}

// SplitAddress parses a "kind/name" address. Rule names may themselves
// contain a slash ("nsg/rule"), so only the first separator splits.
func SplitAddress(address string) (Kind, string, error) {
	for i := 0; i < len(address); i++ {
		if address[i] == '/' {
			kind := Kind(address[:i])
			name := address[i+1:]
			if !KnownKind(kind) {
				return "", "", fmt.Errorf("unknown resource kind in address %q", address)
			}
			if name == "" {
				return "", "", fmt.Errorf("empty resource name in address %q", address)
			}
			return kind, name, nil
		}
	}
	return "", "", fmt.Errorf("malformed resource address %q (want kind/name)", address)
}
