package azcli

import (
	"errors"
	"strings"
	"testing"

	"stratus/internal/manifest"
)

func TestCreateArgs(t *testing.T) {
	tests := []struct {
		name     string
		resource manifest.Resource
		want     string
	}{
		{
			name: "resource group",
			resource: manifest.Resource{
				Kind: manifest.KindResourceGroup,
				Name: "rg-lab",
				Spec: manifest.Spec{Location: "westeurope"},
			},
			want: "group create --name rg-lab --location westeurope -o json",
		},
		{
			name: "virtual network",
			resource: manifest.Resource{
				Kind: manifest.KindVirtualNetwork,
				Name: "vnet-lab",
				Spec: manifest.Spec{Location: "westeurope", ResourceGroup: "rg-lab", AddressSpace: "10.0.0.0/16"},
			},
			want: "network vnet create --resource-group rg-lab --name vnet-lab --location westeurope --address-prefix 10.0.0.0/16 -o json",
		},
		{
			name: "nsg rule",
			resource: manifest.Resource{
				Kind: manifest.KindSecurityRule,
				Name: "nsg-web/allow-ssh",
				Spec: manifest.Spec{
					ResourceGroup: "rg-lab", SecurityGroup: "nsg-web",
					Priority: 100, Direction: "inbound", Access: "allow", Protocol: "tcp",
					SourcePrefix: "*", SourcePorts: "*", DestinationPorts: "22",
				},
			},
			want: "network nsg rule create --resource-group rg-lab --nsg-name nsg-web --name allow-ssh --priority 100 --direction Inbound --access Allow --protocol Tcp --source-address-prefixes * --source-port-ranges * --destination-port-ranges 22 -o json",
		},
		{
			name: "public ip",
			resource: manifest.Resource{
				Kind: manifest.KindPublicIP,
				Name: "pip-web",
				Spec: manifest.Spec{Location: "westeurope", ResourceGroup: "rg-lab", Allocation: "static", SKU: "standard"},
			},
			want: "network public-ip create --resource-group rg-lab --name pip-web --location westeurope --allocation-method Static --sku Standard -o json",
		},
		{
			name: "virtual machine",
			resource: manifest.Resource{
				Kind: manifest.KindVirtualMachine,
				Name: "vm-web",
				Spec: manifest.Spec{
					Location: "westeurope", ResourceGroup: "rg-lab",
					NetworkInterface: "nic-web", Size: "Standard_B2s",
					Image: "Ubuntu2204", AdminUser: "azureuser",
				},
			},
			want: "vm create --resource-group rg-lab --name vm-web --location westeurope --image Ubuntu2204 --size Standard_B2s --nics nic-web --admin-username azureuser --generate-ssh-keys -o json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := createArgs(tt.resource)
			if err != nil {
				t.Fatalf("createArgs: %v", err)
			}
			if got := strings.Join(args, " "); got != tt.want {
				t.Fatalf("args =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestDeleteArgsRuleName(t *testing.T) {
	args, err := deleteArgs(manifest.Resource{
		Kind: manifest.KindSecurityRule,
		Name: "nsg-web/allow-ssh",
		Spec: manifest.Spec{ResourceGroup: "rg-lab", SecurityGroup: "nsg-web"},
	})
	if err != nil {
		t.Fatalf("deleteArgs: %v", err)
	}
	got := strings.Join(args, " ")
	want := "network nsg rule delete --resource-group rg-lab --nsg-name nsg-web --name allow-ssh"
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
}

func TestUpdateArgsImmutableKind(t *testing.T) {
	_, err := updateArgs(manifest.Resource{Kind: manifest.KindResourceGroup, Name: "rg-lab"})
	if err == nil {
		t.Fatal("expected error for kind with no mutable fields")
	}
}

func TestDiagnosticArgsCategories(t *testing.T) {
	args, err := createArgs(manifest.Resource{
		Kind: manifest.KindDiagnosticSetting,
		Name: "diag-vm-web",
		Spec: manifest.Spec{
			ResourceGroup: "rg-lab", Target: "vm-web", Workspace: "log-weblab",
			Metrics: []string{"AllMetrics"},
		},
	})
	if err != nil {
		t.Fatalf("createArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, `--metrics [{"category":"AllMetrics","enabled":true}]`) {
		t.Fatalf("metrics payload missing from %q", joined)
	}
	if !strings.Contains(joined, "--resource-type Microsoft.Compute/virtualMachines") {
		t.Fatalf("resource type missing from %q", joined)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"top level", `{"id":"/subscriptions/s/resourceGroups/rg-lab","location":"westeurope"}`, "/subscriptions/s/resourceGroups/rg-lab"},
		{"nested under newVNet", `{"newVNet":{"id":"/subscriptions/s/vnet","name":"vnet-lab"}}`, "/subscriptions/s/vnet"},
		{"absent", `{"name":"x"}`, ""},
		{"not json", `done`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseID([]byte(tt.out)); got != tt.want {
				t.Fatalf("parseID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	if !notFound(errors.New("az group show: (ResourceGroupNotFound) Resource group 'rg-x' could not be found.")) {
		t.Fatal("ResourceGroupNotFound not detected")
	}
	if notFound(errors.New("az group show: (AuthorizationFailed) no permission")) {
		t.Fatal("authorization failure misread as not-found")
	}
	if notFound(nil) {
		t.Fatal("nil error misread as not-found")
	}
}
