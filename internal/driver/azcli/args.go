package azcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"stratus/internal/manifest"
)

// createArgs builds the az invocation that provisions r. The builders are
// pure so tests can assert exact argv without a CLI on PATH.
func createArgs(r manifest.Resource) ([]string, error) {
	s := r.Spec
	switch r.Kind {
	case manifest.KindResourceGroup:
		return []string{
			"group", "create",
			"--name", r.Name,
			"--location", s.Location,
			"-o", "json",
		}, nil

	case manifest.KindVirtualNetwork:
		return []string{
			"network", "vnet", "create",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--location", s.Location,
			"--address-prefix", s.AddressSpace,
			"-o", "json",
		}, nil

	case manifest.KindSubnet:
		return []string{
			"network", "vnet", "subnet", "create",
			"--resource-group", s.ResourceGroup,
			"--vnet-name", s.VirtualNetwork,
			"--name", r.Name,
			"--address-prefix", s.AddressPrefix,
			"-o", "json",
		}, nil

	case manifest.KindSecurityGroup:
		return []string{
			"network", "nsg", "create",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--location", s.Location,
			"-o", "json",
		}, nil

	case manifest.KindSecurityRule:
		return ruleArgs("create", r)

	case manifest.KindPublicIP:
		return []string{
			"network", "public-ip", "create",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--location", s.Location,
			"--allocation-method", titleCase(s.Allocation),
			"--sku", titleCase(s.SKU),
			"-o", "json",
		}, nil

	case manifest.KindNetworkInterface:
		args := []string{
			"network", "nic", "create",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--location", s.Location,
			"--vnet-name", s.VirtualNetwork,
			"--subnet", s.Subnet,
		}
		if s.PublicIP != "" {
			args = append(args, "--public-ip-address", s.PublicIP)
		}
		if s.SecurityGroup != "" {
			args = append(args, "--network-security-group", s.SecurityGroup)
		}
		return append(args, "-o", "json"), nil

	case manifest.KindVirtualMachine:
		args := []string{
			"vm", "create",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--location", s.Location,
			"--image", s.Image,
			"--size", s.Size,
			"--nics", s.NetworkInterface,
			"--admin-username", s.AdminUser,
		}
		if s.SSHPublicKey != "" {
			args = append(args, "--ssh-key-values", s.SSHPublicKey)
		} else {
			args = append(args, "--generate-ssh-keys")
		}
		if s.CustomData != "" {
			args = append(args, "--custom-data", s.CustomData)
		}
		return append(args, "-o", "json"), nil

	case manifest.KindWorkspace:
		args := []string{
			"monitor", "log-analytics", "workspace", "create",
			"--resource-group", s.ResourceGroup,
			"--workspace-name", r.Name,
			"--location", s.Location,
		}
		if s.RetentionDays > 0 {
			args = append(args, "--retention-time", fmt.Sprint(s.RetentionDays))
		}
		return append(args, "-o", "json"), nil

	case manifest.KindDiagnosticSetting:
		return diagnosticArgs("create", r)
	}
	return nil, fmt.Errorf("azcli: no create command for kind %s", r.Kind)
}

// updateArgs builds the az invocations that converge an existing resource
// to r's spec. Most kinds have no mutable fields and report an error, which
// the plan layer avoids by classifying those changes as replacements.
func updateArgs(r manifest.Resource) ([][]string, error) {
	s := r.Spec
	switch r.Kind {
	case manifest.KindSecurityRule:
		args, err := ruleArgs("update", r)
		if err != nil {
			return nil, err
		}
		return [][]string{args}, nil

	case manifest.KindNetworkInterface:
		var cmds [][]string
		ipconfig := []string{
			"network", "nic", "ip-config", "update",
			"--resource-group", s.ResourceGroup,
			"--nic-name", r.Name,
			"--name", "ipconfig1",
		}
		if s.PublicIP != "" {
			ipconfig = append(ipconfig, "--public-ip-address", s.PublicIP)
		} else {
			ipconfig = append(ipconfig, "--remove", "publicIpAddress")
		}
		cmds = append(cmds, append(ipconfig, "-o", "json"))

		nic := []string{
			"network", "nic", "update",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
		}
		if s.SecurityGroup != "" {
			nic = append(nic, "--network-security-group", s.SecurityGroup)
		} else {
			nic = append(nic, "--remove", "networkSecurityGroup")
		}
		cmds = append(cmds, append(nic, "-o", "json"))
		return cmds, nil

	case manifest.KindVirtualMachine:
		return [][]string{{
			"vm", "resize",
			"--resource-group", s.ResourceGroup,
			"--name", r.Name,
			"--size", s.Size,
			"-o", "json",
		}}, nil

	case manifest.KindWorkspace:
		return [][]string{{
			"monitor", "log-analytics", "workspace", "update",
			"--resource-group", s.ResourceGroup,
			"--workspace-name", r.Name,
			"--retention-time", fmt.Sprint(s.RetentionDays),
			"-o", "json",
		}}, nil

	case manifest.KindDiagnosticSetting:
		// Recreating with the same name overwrites the existing setting.
		args, err := diagnosticArgs("create", r)
		if err != nil {
			return nil, err
		}
		return [][]string{args}, nil
	}
	return nil, fmt.Errorf("azcli: kind %s has no mutable fields", r.Kind)
}

func deleteArgs(r manifest.Resource) ([]string, error) {
	s := r.Spec
	switch r.Kind {
	case manifest.KindResourceGroup:
		return []string{"group", "delete", "--name", r.Name, "--yes"}, nil
	case manifest.KindVirtualNetwork:
		return []string{"network", "vnet", "delete", "--resource-group", s.ResourceGroup, "--name", r.Name}, nil
	case manifest.KindSubnet:
		return []string{
			"network", "vnet", "subnet", "delete",
			"--resource-group", s.ResourceGroup,
			"--vnet-name", s.VirtualNetwork,
			"--name", r.Name,
		}, nil
	case manifest.KindSecurityGroup:
		return []string{"network", "nsg", "delete", "--resource-group", s.ResourceGroup, "--name", r.Name}, nil
	case manifest.KindSecurityRule:
		rule, err := ruleName(r.Name)
		if err != nil {
			return nil, err
		}
		return []string{
			"network", "nsg", "rule", "delete",
			"--resource-group", s.ResourceGroup,
			"--nsg-name", s.SecurityGroup,
			"--name", rule,
		}, nil
	case manifest.KindPublicIP:
		return []string{"network", "public-ip", "delete", "--resource-group", s.ResourceGroup, "--name", r.Name}, nil
	case manifest.KindNetworkInterface:
		return []string{"network", "nic", "delete", "--resource-group", s.ResourceGroup, "--name", r.Name}, nil
	case manifest.KindVirtualMachine:
		return []string{"vm", "delete", "--resource-group", s.ResourceGroup, "--name", r.Name, "--yes"}, nil
	case manifest.KindWorkspace:
		return []string{
			"monitor", "log-analytics", "workspace", "delete",
			"--resource-group", s.ResourceGroup,
			"--workspace-name", r.Name,
			"--yes", "--force", "true",
		}, nil
	case manifest.KindDiagnosticSetting:
		return []string{
			"monitor", "diagnostic-settings", "delete",
			"--resource", s.Target,
			"--resource-group", s.ResourceGroup,
			"--resource-type", "Microsoft.Compute/virtualMachines",
			"--name", r.Name,
		}, nil
	}
	return nil, fmt.Errorf("azcli: no delete command for kind %s", r.Kind)
}

func showArgs(r manifest.Resource) ([]string, error) {
	s := r.Spec
	switch r.Kind {
	case manifest.KindResourceGroup:
		return []string{"group", "show", "--name", r.Name, "-o", "json"}, nil
	case manifest.KindVirtualNetwork:
		return []string{"network", "vnet", "show", "--resource-group", s.ResourceGroup, "--name", r.Name, "-o", "json"}, nil
	case manifest.KindSubnet:
		return []string{
			"network", "vnet", "subnet", "show",
			"--resource-group", s.ResourceGroup,
			"--vnet-name", s.VirtualNetwork,
			"--name", r.Name,
			"-o", "json",
		}, nil
	case manifest.KindSecurityGroup:
		return []string{"network", "nsg", "show", "--resource-group", s.ResourceGroup, "--name", r.Name, "-o", "json"}, nil
	case manifest.KindSecurityRule:
		rule, err := ruleName(r.Name)
		if err != nil {
			return nil, err
		}
		return []string{
			"network", "nsg", "rule", "show",
			"--resource-group", s.ResourceGroup,
			"--nsg-name", s.SecurityGroup,
			"--name", rule,
			"-o", "json",
		}, nil
	case manifest.KindPublicIP:
		return []string{"network", "public-ip", "show", "--resource-group", s.ResourceGroup, "--name", r.Name, "-o", "json"}, nil
	case manifest.KindNetworkInterface:
		return []string{"network", "nic", "show", "--resource-group", s.ResourceGroup, "--name", r.Name, "-o", "json"}, nil
	case manifest.KindVirtualMachine:
		return []string{"vm", "show", "--resource-group", s.ResourceGroup, "--name", r.Name, "-o", "json"}, nil
	case manifest.KindWorkspace:
		return []string{
			"monitor", "log-analytics", "workspace", "show",
			"--resource-group", s.ResourceGroup,
			"--workspace-name", r.Name,
			"-o", "json",
		}, nil
	case manifest.KindDiagnosticSetting:
		return []string{
			"monitor", "diagnostic-settings", "show",
			"--resource", s.Target,
			"--resource-group", s.ResourceGroup,
			"--resource-type", "Microsoft.Compute/virtualMachines",
			"--name", r.Name,
			"-o", "json",
		}, nil
	}
	return nil, fmt.Errorf("azcli: no show command for kind %s", r.Kind)
}

func ruleArgs(verb string, r manifest.Resource) ([]string, error) {
	s := r.Spec
	rule, err := ruleName(r.Name)
	if err != nil {
		return nil, err
	}
	return []string{
		"network", "nsg", "rule", verb,
		"--resource-group", s.ResourceGroup,
		"--nsg-name", s.SecurityGroup,
		"--name", rule,
		"--priority", fmt.Sprint(s.Priority),
		"--direction", titleCase(s.Direction),
		"--access", titleCase(s.Access),
		"--protocol", titleCase(s.Protocol),
		"--source-address-prefixes", s.SourcePrefix,
		"--source-port-ranges", s.SourcePorts,
		"--destination-port-ranges", s.DestinationPorts,
		"-o", "json",
	}, nil
}

func diagnosticArgs(verb string, r manifest.Resource) ([]string, error) {
	s := r.Spec
	args := []string{
		"monitor", "diagnostic-settings", verb,
		"--resource", s.Target,
		"--resource-group", s.ResourceGroup,
		"--resource-type", "Microsoft.Compute/virtualMachines",
		"--name", r.Name,
		"--workspace", s.Workspace,
	}
	if len(s.Metrics) > 0 {
		raw, err := categoriesJSON(s.Metrics)
		if err != nil {
			return nil, err
		}
		args = append(args, "--metrics", raw)
	}
	if len(s.Logs) > 0 {
		raw, err := categoriesJSON(s.Logs)
		if err != nil {
			return nil, err
		}
		args = append(args, "--logs", raw)
	}
	return append(args, "-o", "json"), nil
}

func categoriesJSON(categories []string) (string, error) {
	type category struct {
		Category string `json:"category"`
		Enabled  bool   `json:"enabled"`
	}
	out := make([]category, 0, len(categories))
	for _, c := range categories {
		out = append(out, category{Category: c, Enabled: true})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode diagnostic categories: %w", err)
	}
	return string(raw), nil
}

// ruleName extracts the rule's own name from its "nsg/rule" address name.
func ruleName(name string) (string, error) {
	_, rule, ok := strings.Cut(name, "/")
	if !ok || rule == "" {
		return "", fmt.Errorf("azcli: malformed rule name %q (want nsg/rule)", name)
	}
	return rule, nil
}

// titleCase maps canonical lowercase enums to the casing az expects
// (inbound → Inbound, tcp → Tcp). "*" passes through.
func titleCase(v string) string {
	if v == "" || v == "*" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}
