package manifest

import (
	"reflect"
	"strings"
	"testing"
)

func FuzzCanonical(f *testing.F) {
	f.Add("westeurope", "rg-lab", "10.0.0.0/16", "Allow", "Standard", " AuditLogs ", 30)
	f.Add("  WestEurope", "rg", "10.0.0.5/16", "deny", "basic", "", 0)
	f.Add("", "", "not-a-cidr", "", "", "\tSecurityEvent", -7)

	f.Fuzz(func(t *testing.T, location, group, cidr, access, sku, logEntry string, retention int) {
		location = strings.ToValidUTF8(location, "")
		group = strings.ToValidUTF8(group, "")
		cidr = strings.ToValidUTF8(cidr, "")
		access = strings.ToValidUTF8(access, "")
		sku = strings.ToValidUTF8(sku, "")
		logEntry = strings.ToValidUTF8(logEntry, "")

		s := Spec{
			Location:      location,
			ResourceGroup: group,
			AddressSpace:  cidr,
			Access:        access,
			SKU:           sku,
			Logs:          []string{logEntry, logEntry},
			RetentionDays: retention,
		}

		once := Canonical(s)
		twice := Canonical(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("Canonical not idempotent: once=%+v twice=%+v", once, twice)
		}

		if !SpecEqual(s, s) {
			t.Fatalf("SpecEqual(s, s) = false for %+v", s)
		}
		if !SpecEqual(s, once) {
			t.Fatalf("canonicalization changed spec identity: %+v vs %+v", s, once)
		}
		if Hash(s) != Hash(once) {
			t.Fatalf("Hash(s) = %s, Hash(Canonical(s)) = %s", Hash(s), Hash(once))
		}

		raw, err := MarshalSpec(s)
		if err != nil {
			t.Fatalf("MarshalSpec() error = %v", err)
		}
		decoded, err := UnmarshalSpec(raw)
		if err != nil {
			t.Fatalf("UnmarshalSpec() error = %v", err)
		}
		if !reflect.DeepEqual(once, decoded) {
			t.Fatalf("round-trip mismatch: canonical=%+v decoded=%+v", once, decoded)
		}
	})
}
