package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"stratus/internal/cloudinit"
)

// document mirrors the manifest YAML layout: top-level defaults plus one
// section per resource kind, each a name-keyed map.
type document struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`

	ResourceGroups     map[string]resourceGroupDoc `yaml:"resource_groups"`
	VirtualNetworks    map[string]vnetDoc          `yaml:"virtual_networks"`
	Subnets            map[string]subnetDoc        `yaml:"subnets"`
	SecurityGroups     map[string]nsgDoc           `yaml:"security_groups"`
	PublicIPs          map[string]publicIPDoc      `yaml:"public_ips"`
	NetworkInterfaces  map[string]nicDoc           `yaml:"network_interfaces"`
	VirtualMachines    map[string]vmDoc            `yaml:"virtual_machines"`
	Workspaces         map[string]workspaceDoc     `yaml:"workspaces"`
	DiagnosticSettings map[string]diagnosticDoc    `yaml:"diagnostic_settings"`
}

type resourceGroupDoc struct {
	Location  string   `yaml:"location"`
	DependsOn []string `yaml:"depends_on"`
}

type vnetDoc struct {
	ResourceGroup string   `yaml:"resource_group"`
	Location      string   `yaml:"location"`
	AddressSpace  string   `yaml:"address_space"`
	DependsOn     []string `yaml:"depends_on"`
}

type subnetDoc struct {
	VirtualNetwork string   `yaml:"virtual_network"`
	AddressPrefix  string   `yaml:"address_prefix"`
	DependsOn      []string `yaml:"depends_on"`
}

type nsgDoc struct {
	ResourceGroup string             `yaml:"resource_group"`
	Rules         map[string]ruleDoc `yaml:"rules"`
	DependsOn     []string           `yaml:"depends_on"`
}

type ruleDoc struct {
	Priority         int    `yaml:"priority"`
	Direction        string `yaml:"direction"`
	Access           string `yaml:"access"`
	Protocol         string `yaml:"protocol"`
	SourcePrefix     string `yaml:"source_prefix"`
	SourcePorts      string `yaml:"source_ports"`
	DestinationPorts string `yaml:"destination_ports"`
}

type publicIPDoc struct {
	ResourceGroup string   `yaml:"resource_group"`
	Location      string   `yaml:"location"`
	Allocation    string   `yaml:"allocation"`
	SKU           string   `yaml:"sku"`
	DependsOn     []string `yaml:"depends_on"`
}

type nicDoc struct {
	Subnet        string   `yaml:"subnet"`
	PublicIP      string   `yaml:"public_ip"`
	SecurityGroup string   `yaml:"security_group"`
	DependsOn     []string `yaml:"depends_on"`
}

type vmDoc struct {
	ResourceGroup    string              `yaml:"resource_group"`
	Location         string              `yaml:"location"`
	NetworkInterface string              `yaml:"network_interface"`
	Size             string              `yaml:"size"`
	Image            string              `yaml:"image"`
	AdminUser        string              `yaml:"admin_user"`
	SSHPublicKey     string              `yaml:"ssh_public_key"`
	CloudInit        *cloudinit.Document `yaml:"cloud_init"`
	CloudInitFile    string              `yaml:"cloud_init_file"`
	DependsOn        []string            `yaml:"depends_on"`
}

type workspaceDoc struct {
	ResourceGroup string   `yaml:"resource_group"`
	Location      string   `yaml:"location"`
	RetentionDays int      `yaml:"retention_days"`
	DependsOn     []string `yaml:"depends_on"`
}

type diagnosticDoc struct {
	Target    string   `yaml:"target"`
	Workspace string   `yaml:"workspace"`
	Metrics   []string `yaml:"metrics"`
	Logs      []string `yaml:"logs"`
	DependsOn []string `yaml:"depends_on"`
}

// LoadFile reads and parses a manifest from disk. Relative cloud_init_file
// references resolve against the manifest's directory. defaultLocation
// fills in for manifests that omit a top-level location; pass "" when no
// fallback applies.
func LoadFile(path, defaultLocation string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return load(data, filepath.Dir(path), defaultLocation)
}

// Load parses a manifest document. baseDir anchors relative
// cloud_init_file paths; with an empty baseDir such references are
// rejected.
func Load(data []byte, baseDir string) (*Manifest, error) {
	return load(data, baseDir, "")
}

func load(data []byte, baseDir, defaultLocation string) (*Manifest, error) {
	var doc document
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("manifest: name is required")
	}

	m := &Manifest{
		Name:     strings.TrimSpace(doc.Name),
		Location: firstNonEmpty(strings.TrimSpace(doc.Location), defaultLocation),
	}

	for _, name := range sortedKeys(doc.ResourceGroups) {
		d := doc.ResourceGroups[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindResourceGroup,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec:      Spec{Location: firstNonEmpty(d.Location, m.Location)},
		})
	}

	for _, name := range sortedKeys(doc.VirtualNetworks) {
		d := doc.VirtualNetworks[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindVirtualNetwork,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				ResourceGroup: d.ResourceGroup,
				Location:      firstNonEmpty(d.Location, m.Location),
				AddressSpace:  d.AddressSpace,
			},
		})
	}

	for _, name := range sortedKeys(doc.Subnets) {
		d := doc.Subnets[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindSubnet,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				VirtualNetwork: d.VirtualNetwork,
				AddressPrefix:  d.AddressPrefix,
			},
		})
	}

	for _, name := range sortedKeys(doc.SecurityGroups) {
		d := doc.SecurityGroups[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindSecurityGroup,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				ResourceGroup: d.ResourceGroup,
				Location:      m.Location,
			},
		})

		// Rules are nested under their security group in the document but
		// are first-class resources in the model, named "<nsg>/<rule>".
		for _, ruleName := range sortedKeys(d.Rules) {
			r := d.Rules[ruleName]
			m.Resources = append(m.Resources, Resource{
				Kind: KindSecurityRule,
				Name: name + "/" + ruleName,
				Spec: Spec{
					SecurityGroup:    name,
					Priority:         r.Priority,
					Direction:        r.Direction,
					Access:           r.Access,
					Protocol:         r.Protocol,
					SourcePrefix:     r.SourcePrefix,
					SourcePorts:      r.SourcePorts,
					DestinationPorts: r.DestinationPorts,
				},
			})
		}
	}

	for _, name := range sortedKeys(doc.PublicIPs) {
		d := doc.PublicIPs[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindPublicIP,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				ResourceGroup: d.ResourceGroup,
				Location:      firstNonEmpty(d.Location, m.Location),
				Allocation:    d.Allocation,
				SKU:           d.SKU,
			},
		})
	}

	for _, name := range sortedKeys(doc.NetworkInterfaces) {
		d := doc.NetworkInterfaces[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindNetworkInterface,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				Subnet:        d.Subnet,
				PublicIP:      d.PublicIP,
				SecurityGroup: d.SecurityGroup,
				Location:      m.Location,
			},
		})
	}

	for _, name := range sortedKeys(doc.VirtualMachines) {
		d := doc.VirtualMachines[name]
		customData, err := resolveCloudInit(d, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", Address(KindVirtualMachine, name), err)
		}
		m.Resources = append(m.Resources, Resource{
			Kind:      KindVirtualMachine,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				ResourceGroup:    d.ResourceGroup,
				Location:         firstNonEmpty(d.Location, m.Location),
				NetworkInterface: d.NetworkInterface,
				Size:             d.Size,
				Image:            d.Image,
				AdminUser:        d.AdminUser,
				SSHPublicKey:     d.SSHPublicKey,
				CustomData:       customData,
			},
		})
	}

	for _, name := range sortedKeys(doc.Workspaces) {
		d := doc.Workspaces[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindWorkspace,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				ResourceGroup: d.ResourceGroup,
				Location:      firstNonEmpty(d.Location, m.Location),
				RetentionDays: d.RetentionDays,
			},
		})
	}

	for _, name := range sortedKeys(doc.DiagnosticSettings) {
		d := doc.DiagnosticSettings[name]
		m.Resources = append(m.Resources, Resource{
			Kind:      KindDiagnosticSetting,
			Name:      name,
			DependsOn: d.DependsOn,
			Spec: Spec{
				Target:    d.Target,
				Workspace: d.Workspace,
				Metrics:   d.Metrics,
				Logs:      d.Logs,
			},
		})
	}

	propagateResourceGroups(m)
	for i := range m.Resources {
		m.Resources[i].Spec = Canonical(m.Resources[i].Spec)
	}
	m.reindex()

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func resolveCloudInit(d vmDoc, baseDir string) (string, error) {
	if d.CloudInit != nil && d.CloudInitFile != "" {
		return "", fmt.Errorf("cloud_init and cloud_init_file are mutually exclusive")
	}
	if d.CloudInit != nil {
		return d.CloudInit.Render()
	}
	if d.CloudInitFile == "" {
		return "", nil
	}

	path := d.CloudInitFile
	if !filepath.IsAbs(path) {
		if baseDir == "" {
			return "", fmt.Errorf("cloud_init_file %q: relative path with no manifest directory", path)
		}
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read cloud_init_file: %w", err)
	}
	doc, err := cloudinit.Parse(data)
	if err != nil {
		return "", fmt.Errorf("cloud_init_file %q: %w", d.CloudInitFile, err)
	}
	return doc.Render()
}

// propagateResourceGroups fills in the owning resource group (and, for
// network interfaces, the parent virtual network) for resources that inherit
// them, so every spec is self-describing for drivers and state diffs.
func propagateResourceGroups(m *Manifest) {
	m.reindex()

	rgOfVnet := func(vnetName string) string {
		if vnet, ok := m.Get(KindVirtualNetwork, vnetName); ok {
			return vnet.Spec.ResourceGroup
		}
		return ""
	}

	for i := range m.Resources {
		r := &m.Resources[i]
		if r.Kind == KindNetworkInterface && r.Spec.VirtualNetwork == "" {
			if subnet, ok := m.Get(KindSubnet, r.Spec.Subnet); ok {
				r.Spec.VirtualNetwork = subnet.Spec.VirtualNetwork
			}
		}
		if r.Spec.ResourceGroup != "" {
			continue
		}
		switch r.Kind {
		case KindSubnet:
			r.Spec.ResourceGroup = rgOfVnet(r.Spec.VirtualNetwork)
		case KindSecurityRule:
			if nsg, ok := m.Get(KindSecurityGroup, r.Spec.SecurityGroup); ok {
				r.Spec.ResourceGroup = nsg.Spec.ResourceGroup
			}
		case KindNetworkInterface:
			if subnet, ok := m.Get(KindSubnet, r.Spec.Subnet); ok {
				r.Spec.ResourceGroup = rgOfVnet(subnet.Spec.VirtualNetwork)
			}
		case KindDiagnosticSetting:
			if vm, ok := m.Get(KindVirtualMachine, r.Spec.Target); ok {
				r.Spec.ResourceGroup = vm.Spec.ResourceGroup
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
