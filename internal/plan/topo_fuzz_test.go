package plan

import (
	"fmt"
	"reflect"
	"testing"

	"stratus/internal/manifest"
)

func FuzzTopologicalSort(f *testing.F) {
	f.Add(uint8(4), []byte{0x01, 0x12, 0x23})
	f.Add(uint8(6), []byte{0x10, 0x01})
	f.Add(uint8(1), []byte{})
	f.Add(uint8(8), []byte{0x07, 0x70})

	f.Fuzz(func(t *testing.T, n uint8, edges []byte) {
		count := int(n%8) + 1
		resources := make([]manifest.Resource, count)
		for i := range resources {
			resources[i] = manifest.Resource{
				Kind: manifest.KindResourceGroup,
				Name: fmt.Sprintf("rg-%d", i),
			}
		}
		// Each byte encodes one edge: high nibble depends on low nibble.
		for _, e := range edges {
			from := int(e&0x0f) % count
			to := int(e>>4) % count
			resources[to].DependsOn = append(resources[to].DependsOn, resources[from].Address())
		}

		tiers, err := TopologicalSort(resources)
		if err != nil {
			// Self-edges and cycles are legal fuzz inputs; they must be
			// reported, never sorted.
			return
		}

		tierOf := make(map[string]int, count)
		for i, tier := range tiers {
			for _, r := range tier {
				addr := r.Address()
				if _, dup := tierOf[addr]; dup {
					t.Fatalf("resource %s placed in two tiers", addr)
				}
				tierOf[addr] = i
			}
		}
		if len(tierOf) != count {
			t.Fatalf("sorted %d resources, want %d", len(tierOf), count)
		}
		for _, r := range resources {
			for _, dep := range r.DependsOn {
				if tierOf[dep] >= tierOf[r.Address()] {
					t.Fatalf("%s in tier %d, want before dependent %s in tier %d",
						dep, tierOf[dep], r.Address(), tierOf[r.Address()])
				}
			}
		}

		again, err := TopologicalSort(resources)
		if err != nil {
			t.Fatalf("second sort of same input failed: %v", err)
		}
		if !reflect.DeepEqual(tiers, again) {
			t.Fatalf("sort not deterministic: first=%+v second=%+v", tiers, again)
		}
	})
}
