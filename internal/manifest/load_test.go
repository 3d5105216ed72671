package manifest

import (
	"strings"
	"testing"
)

const labManifest = `
name: weblab
location: eastus

resource_groups:
  rg-lab: {}

virtual_networks:
  vnet-lab:
    resource_group: rg-lab
    address_space: 10.0.0.0/16

subnets:
  snet-web:
    virtual_network: vnet-lab
    address_prefix: 10.0.1.0/24

security_groups:
  nsg-web:
    resource_group: rg-lab
    rules:
      allow-ssh:
        priority: 100
        direction: inbound
        access: allow
        protocol: tcp
        source_prefix: "*"
        destination_ports: "22"
      allow-https:
        priority: 110
        direction: inbound
        access: allow
        protocol: tcp
        source_prefix: "*"
        destination_ports: "443"

public_ips:
  pip-web:
    resource_group: rg-lab
    allocation: static
    sku: standard

network_interfaces:
  nic-web:
    subnet: snet-web
    public_ip: pip-web
    security_group: nsg-web

virtual_machines:
  vm-web:
    resource_group: rg-lab
    network_interface: nic-web
    size: Standard_B1s
    image: Ubuntu2204
    admin_user: azureuser
    cloud_init:
      package_update: true
      packages: [nginx]
      runcmd:
        - systemctl enable nginx
        - systemctl restart nginx

workspaces:
  log-weblab:
    resource_group: rg-lab
    retention_days: 30

diagnostic_settings:
  diag-vm-web:
    target: vm-web
    workspace: log-weblab
    metrics: [AllMetrics]
`

func TestLoad(t *testing.T) {
	m, err := Load([]byte(labManifest), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Name != "weblab" {
		t.Fatalf("m.Name = %q, want weblab", m.Name)
	}
	if len(m.Resources) != 11 {
		t.Fatalf("resource count = %d, want 11", len(m.Resources))
	}

	t.Run("location default propagates", func(t *testing.T) {
		rg, ok := m.Get(KindResourceGroup, "rg-lab")
		if !ok {
			t.Fatal("rg-lab not found")
		}
		if rg.Spec.Location != "eastus" {
			t.Fatalf("rg location = %q, want eastus", rg.Spec.Location)
		}
	})

	t.Run("rules flatten to first-class resources", func(t *testing.T) {
		rule, ok := m.Get(KindSecurityRule, "nsg-web/allow-ssh")
		if !ok {
			t.Fatal("nsg-web/allow-ssh not found")
		}
		if rule.Spec.SecurityGroup != "nsg-web" {
			t.Fatalf("rule security group = %q, want nsg-web", rule.Spec.SecurityGroup)
		}
		if rule.Spec.Priority != 100 || rule.Spec.DestinationPorts != "22" {
			t.Fatalf("rule spec = %+v", rule.Spec)
		}
	})

	t.Run("resource group inherited through parents", func(t *testing.T) {
		for _, addr := range []string{"subnet/snet-web", "nsg_rule/nsg-web/allow-https", "network_interface/nic-web", "diagnostic_setting/diag-vm-web"} {
			r, ok := m.Lookup(addr)
			if !ok {
				t.Fatalf("%s not found", addr)
			}
			if r.Spec.ResourceGroup != "rg-lab" {
				t.Fatalf("%s resource group = %q, want rg-lab", addr, r.Spec.ResourceGroup)
			}
		}
	})

	t.Run("cloud-init rendered into custom data", func(t *testing.T) {
		vm, ok := m.Get(KindVirtualMachine, "vm-web")
		if !ok {
			t.Fatal("vm-web not found")
		}
		if !strings.HasPrefix(vm.Spec.CustomData, "#cloud-config\n") {
			t.Fatalf("custom data missing header: %q", vm.Spec.CustomData)
		}
		if !strings.Contains(vm.Spec.CustomData, "- nginx") {
			t.Fatalf("custom data missing package: %q", vm.Spec.CustomData)
		}
	})

	t.Run("implicit references derived", func(t *testing.T) {
		nic, _ := m.Get(KindNetworkInterface, "nic-web")
		refs := nic.References()
		want := map[string]bool{
			"subnet/snet-web":                true,
			"public_ip/pip-web":              true,
			"network_security_group/nsg-web": true,
		}
		if len(refs) != len(want) {
			t.Fatalf("refs = %v, want %d entries", refs, len(want))
		}
		for _, ref := range refs {
			if !want[ref] {
				t.Fatalf("unexpected reference %q", ref)
			}
		}
	})
}

func TestLoadRejects(t *testing.T) {
	replace := func(old, new string) string {
		return strings.Replace(labManifest, old, new, 1)
	}

	cases := []struct {
		name     string
		manifest string
		wantIn   string
	}{
		{
			name:     "unknown field",
			manifest: replace("address_space: 10.0.0.0/16", "address_space: 10.0.0.0/16\n    dns_servers: [1.1.1.1]"),
			wantIn:   "field dns_servers not found",
		},
		{
			name:     "dangling reference",
			manifest: replace("virtual_network: vnet-lab", "virtual_network: vnet-missing"),
			wantIn:   "unknown resource virtual_network/vnet-missing",
		},
		{
			name:     "duplicate rule priority",
			manifest: replace("priority: 110", "priority: 100"),
			wantIn:   "priority 100 already used",
		},
		{
			name:     "priority out of range",
			manifest: replace("priority: 110", "priority: 50"),
			wantIn:   "out of range",
		},
		{
			name:     "subnet outside vnet space",
			manifest: replace("address_prefix: 10.0.1.0/24", "address_prefix: 192.168.0.0/24"),
			wantIn:   "outside virtual network space",
		},
		{
			name:     "bad allocation",
			manifest: replace("allocation: static", "allocation: elastic"),
			wantIn:   "allocation must be static or dynamic",
		},
		{
			name:     "missing admin user",
			manifest: replace("admin_user: azureuser", "admin_user: \"\""),
			wantIn:   "admin_user is required",
		},
		{
			name:     "diagnostic without categories",
			manifest: replace("metrics: [AllMetrics]", "metrics: []"),
			wantIn:   "at least one metric or log category",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.manifest), "")
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tc.wantIn) {
				t.Fatalf("Load() error = %q, want substring %q", err, tc.wantIn)
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	t.Run("hash stable under formatting noise", func(t *testing.T) {
		a := Spec{Direction: "Inbound", Access: " Allow", Protocol: "TCP", AddressPrefix: "10.0.1.5/24", Metrics: []string{"b", "a", "a"}}
		b := Spec{Direction: "inbound", Access: "allow", Protocol: "tcp", AddressPrefix: "10.0.1.0/24", Metrics: []string{"a", "b"}}
		if Hash(a) != Hash(b) {
			t.Fatalf("Hash(a) = %s, Hash(b) = %s, want equal", Hash(a), Hash(b))
		}
		if !SpecEqual(a, b) {
			t.Fatal("SpecEqual(a, b) = false, want true")
		}
	})

	t.Run("distinct specs hash apart", func(t *testing.T) {
		a := Spec{DestinationPorts: "22"}
		b := Spec{DestinationPorts: "443"}
		if Hash(a) == Hash(b) {
			t.Fatal("distinct specs produced equal hashes")
		}
	})

	t.Run("canonical is idempotent", func(t *testing.T) {
		s := Spec{Direction: "INBOUND", Metrics: []string{"z", "a"}}
		once := Canonical(s)
		twice := Canonical(once)
		if !SpecEqual(once, twice) {
			t.Fatalf("Canonical not idempotent: %+v vs %+v", once, twice)
		}
	})
}

func TestSplitAddress(t *testing.T) {
	kind, name, err := SplitAddress("nsg_rule/nsg-web/allow-ssh")
	if err != nil {
		t.Fatalf("SplitAddress() error = %v", err)
	}
	if kind != KindSecurityRule || name != "nsg-web/allow-ssh" {
		t.Fatalf("SplitAddress() = %s %s", kind, name)
	}

	for _, bad := range []string{"", "virtual_machine", "mystery_kind/x", "virtual_machine/"} {
		if _, _, err := SplitAddress(bad); err == nil {
			t.Fatalf("SplitAddress(%q) expected error", bad)
		}
	}
}
