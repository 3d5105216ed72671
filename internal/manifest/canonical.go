package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/netip"
	"reflect"
	"slices"
	"strings"
)

// Canonical normalizes a spec so that semantically equal specs compare and
// hash equal: whitespace trimmed, enumerations lowercased, CIDRs in
// canonical form, list fields sorted.
func Canonical(s Spec) Spec {
	out := Spec{
		Location:      strings.ToLower(strings.TrimSpace(s.Location)),
		ResourceGroup: strings.TrimSpace(s.ResourceGroup),

		AddressSpace:   canonicalCIDR(s.AddressSpace),
		VirtualNetwork: strings.TrimSpace(s.VirtualNetwork),
		AddressPrefix:  canonicalCIDR(s.AddressPrefix),

		SecurityGroup:    strings.TrimSpace(s.SecurityGroup),
		Priority:         s.Priority,
		Direction:        strings.ToLower(strings.TrimSpace(s.Direction)),
		Access:           strings.ToLower(strings.TrimSpace(s.Access)),
		Protocol:         strings.ToLower(strings.TrimSpace(s.Protocol)),
		SourcePrefix:     strings.TrimSpace(s.SourcePrefix),
		SourcePorts:      strings.TrimSpace(s.SourcePorts),
		DestinationPorts: strings.TrimSpace(s.DestinationPorts),

		Allocation: strings.ToLower(strings.TrimSpace(s.Allocation)),
		SKU:        strings.ToLower(strings.TrimSpace(s.SKU)),

		Subnet:   strings.TrimSpace(s.Subnet),
		PublicIP: strings.TrimSpace(s.PublicIP),

		NetworkInterface: strings.TrimSpace(s.NetworkInterface),
		Size:             strings.TrimSpace(s.Size),
		Image:            strings.TrimSpace(s.Image),
		AdminUser:        strings.TrimSpace(s.AdminUser),
		SSHPublicKey:     strings.TrimSpace(s.SSHPublicKey),
		CustomData:       s.CustomData,

		RetentionDays: s.RetentionDays,

		Target:    strings.TrimSpace(s.Target),
		Workspace: strings.TrimSpace(s.Workspace),
		Metrics:   canonicalStrings(s.Metrics),
		Logs:      canonicalStrings(s.Logs),
	}
	return out
}

// SpecEqual reports whether two specs are functionally identical.
func SpecEqual(a, b Spec) bool {
	return reflect.DeepEqual(Canonical(a), Canonical(b))
}

// Hash returns a stable hex digest of the canonical spec, used for
// idempotency checks against the state store.
func Hash(s Spec) string {
	data, err := json.Marshal(Canonical(s))
	if err != nil {
		// Spec contains only plain strings, ints and string slices;
		// marshalling cannot fail for real inputs.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// MarshalSpec returns the canonical JSON form stored in state rows.
func MarshalSpec(s Spec) (string, error) {
	data, err := json.Marshal(Canonical(s))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalSpec decodes a state row's spec JSON back into canonical form.
func UnmarshalSpec(raw string) (Spec, error) {
	var s Spec
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Spec{}, err
	}
	return Canonical(s), nil
}

func canonicalCIDR(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	pfx, err := netip.ParsePrefix(raw)
	if err != nil {
		// Left as written; Validate reports the parse failure with context.
		return raw
	}
	return pfx.Masked().String()
}

func canonicalStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}
