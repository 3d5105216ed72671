package plan

import (
	"fmt"
	"strings"

	"stratus/internal/manifest"
)

// Classify decides how to reconcile one resource whose recorded and desired
// specs may differ. Both specs must already be canonical. Fields the provider
// can mutate in place yield Update; immutable fields force Replace.
func Classify(kind manifest.Kind, current, desired manifest.Spec) (Action, string) {
	if manifest.SpecEqual(current, desired) {
		return NoOp, "up-to-date"
	}
	if current.Location != desired.Location {
		return Replace, fmt.Sprintf("location changed: %s → %s", current.Location, desired.Location)
	}
	if current.ResourceGroup != desired.ResourceGroup {
		return Replace, fmt.Sprintf("resource group changed: %s → %s", current.ResourceGroup, desired.ResourceGroup)
	}

	switch kind {
	case manifest.KindVirtualNetwork:
		if current.AddressSpace != desired.AddressSpace {
			return Replace, fmt.Sprintf("address space changed: %s → %s", current.AddressSpace, desired.AddressSpace)
		}
	case manifest.KindSubnet:
		if current.AddressPrefix != desired.AddressPrefix {
			return Replace, fmt.Sprintf("address prefix changed: %s → %s", current.AddressPrefix, desired.AddressPrefix)
		}
	case manifest.KindSecurityRule:
		return Update, ruleUpdateReason(current, desired)
	case manifest.KindPublicIP:
		if current.Allocation != desired.Allocation {
			return Replace, fmt.Sprintf("allocation changed: %s → %s", current.Allocation, desired.Allocation)
		}
		if current.SKU != desired.SKU {
			return Replace, fmt.Sprintf("sku changed: %s → %s", current.SKU, desired.SKU)
		}
	case manifest.KindNetworkInterface:
		if current.Subnet != desired.Subnet {
			return Replace, fmt.Sprintf("subnet changed: %s → %s", current.Subnet, desired.Subnet)
		}
		if current.PublicIP != desired.PublicIP {
			return Update, "public ip attachment changed"
		}
		if current.SecurityGroup != desired.SecurityGroup {
			return Update, "security group attachment changed"
		}
	case manifest.KindVirtualMachine:
		if current.Image != desired.Image {
			return Replace, fmt.Sprintf("image changed: %s → %s", current.Image, desired.Image)
		}
		if current.CustomData != desired.CustomData {
			return Replace, "custom data changed"
		}
		if current.AdminUser != desired.AdminUser {
			return Replace, fmt.Sprintf("admin user changed: %s → %s", current.AdminUser, desired.AdminUser)
		}
		if current.SSHPublicKey != desired.SSHPublicKey {
			return Replace, "ssh public key changed"
		}
		if current.NetworkInterface != desired.NetworkInterface {
			return Replace, "network interface attachment changed"
		}
		if current.Size != desired.Size {
			return Update, fmt.Sprintf("size changed: %s → %s", current.Size, desired.Size)
		}
	case manifest.KindWorkspace:
		if current.RetentionDays != desired.RetentionDays {
			return Update, fmt.Sprintf("retention changed: %d → %d days", current.RetentionDays, desired.RetentionDays)
		}
	case manifest.KindDiagnosticSetting:
		if current.Target != desired.Target {
			return Replace, fmt.Sprintf("target changed: %s → %s", current.Target, desired.Target)
		}
		if current.Workspace != desired.Workspace {
			return Replace, fmt.Sprintf("workspace changed: %s → %s", current.Workspace, desired.Workspace)
		}
		return Update, "diagnostic categories changed"
	}

	return Update, "spec changed"
}

func ruleUpdateReason(current, desired manifest.Spec) string {
	if current.Priority != desired.Priority {
		return fmt.Sprintf("priority changed: %d → %d", current.Priority, desired.Priority)
	}
	if current.Access != desired.Access {
		return fmt.Sprintf("access changed: %s → %s", current.Access, desired.Access)
	}
	if current.Direction != desired.Direction {
		return fmt.Sprintf("direction changed: %s → %s", current.Direction, desired.Direction)
	}
	if current.Protocol != desired.Protocol {
		return fmt.Sprintf("protocol changed: %s → %s", current.Protocol, desired.Protocol)
	}
	var changed []string
	if current.SourcePrefix != desired.SourcePrefix {
		changed = append(changed, "source prefix")
	}
	if current.SourcePorts != desired.SourcePorts {
		changed = append(changed, "source ports")
	}
	if current.DestinationPorts != desired.DestinationPorts {
		changed = append(changed, "destination ports")
	}
	if len(changed) > 0 {
		return strings.Join(changed, ", ") + " changed"
	}
	return "rule changed"
}
