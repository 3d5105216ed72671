package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"stratus/internal/manifest"
	"stratus/internal/state"
)

// Build computes the apply plan for a manifest against the recorded state.
// Resources present in state but absent from the manifest get a trailing
// delete tier, child kinds first.
func Build(m *manifest.Manifest, current []state.ResourceRow) (Plan, error) {
	tiers, err := TopologicalSort(m.Resources)
	if err != nil {
		return Plan{}, err
	}

	currentByAddress := make(map[string]state.ResourceRow, len(current))
	for _, row := range current {
		currentByAddress[row.Address] = row
	}

	desiredAddresses := make(map[string]bool, len(m.Resources))
	planTiers := make([]Tier, 0, len(tiers)+1)

	for _, tierResources := range tiers {
		tier := Tier{Entries: make([]Entry, 0, len(tierResources))}
		for _, r := range tierResources {
			addr := r.Address()
			desiredAddresses[addr] = true
			desired := r.Spec

			entry := Entry{
				Address: addr,
				Kind:    r.Kind,
				Name:    r.Name,
				Desired: &desired,
			}

			row, exists := currentByAddress[addr]
			if !exists {
				entry.Action = Create
				entry.Reason = "new resource"
				tier.Entries = append(tier.Entries, entry)
				continue
			}

			entry.Current = cloneRow(row)
			currentSpec, parseErr := manifest.UnmarshalSpec(row.SpecJSON)
			if parseErr != nil {
				entry.Action = Replace
				entry.Reason = fmt.Sprintf("recorded spec decode failed: %v", parseErr)
				tier.Entries = append(tier.Entries, entry)
				continue
			}

			entry.Action, entry.Reason = Classify(r.Kind, currentSpec, desired)
			tier.Entries = append(tier.Entries, entry)
		}
		planTiers = append(planTiers, tier)
	}

	if deletes := removedEntries(current, desiredAddresses); len(deletes) > 0 {
		planTiers = append(planTiers, Tier{Entries: deletes})
	}

	p := Plan{
		Manifest: m.Name,
		Op:       "apply",
		Tiers:    planTiers,
	}
	p.ID = deterministicPlanID(p)
	return p, nil
}

// BuildDestroy plans the removal of everything in state, child kinds first.
// State rows carry no dependency edges, so ordering falls back to the fixed
// kind hierarchy, one tier per kind.
func BuildDestroy(manifestName string, current []state.ResourceRow) Plan {
	byKind := make(map[manifest.Kind][]state.ResourceRow)
	for _, row := range current {
		k := manifest.Kind(row.Kind)
		byKind[k] = append(byKind[k], row)
	}

	kinds := make([]manifest.Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return manifest.KindRank(kinds[i]) > manifest.KindRank(kinds[j])
	})

	tiers := make([]Tier, 0, len(kinds))
	for _, k := range kinds {
		rows := byKind[k]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })

		tier := Tier{Entries: make([]Entry, 0, len(rows))}
		for _, row := range rows {
			tier.Entries = append(tier.Entries, Entry{
				Address: row.Address,
				Kind:    k,
				Name:    row.Name,
				Action:  Delete,
				Reason:  "destroy",
				Current: cloneRow(row),
			})
		}
		tiers = append(tiers, tier)
	}

	p := Plan{Manifest: manifestName, Op: "destroy", Tiers: tiers}
	p.ID = deterministicPlanID(p)
	return p
}

// removedEntries plans deletes for state rows no longer in the manifest,
// ordered child kinds first so dependents go before their parents.
func removedEntries(current []state.ResourceRow, desired map[string]bool) []Entry {
	var removed []state.ResourceRow
	for _, row := range current {
		if !desired[row.Address] {
			removed = append(removed, row)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		ri, rj := manifest.KindRank(manifest.Kind(removed[i].Kind)), manifest.KindRank(manifest.Kind(removed[j].Kind))
		if ri != rj {
			return ri > rj
		}
		return removed[i].Address < removed[j].Address
	})

	entries := make([]Entry, 0, len(removed))
	for _, row := range removed {
		entries = append(entries, Entry{
			Address: row.Address,
			Kind:    manifest.Kind(row.Kind),
			Name:    row.Name,
			Action:  Delete,
			Reason:  "removed from manifest",
			Current: cloneRow(row),
		})
	}
	return entries
}

func cloneRow(row state.ResourceRow) *state.ResourceRow {
	out := row
	return &out
}

// deterministicPlanID hashes the plan's operations so identical plans against
// identical state produce identical identifiers.
func deterministicPlanID(p Plan) string {
	h := sha256.New()
	h.Write([]byte(p.Manifest))
	h.Write([]byte{'\n'})
	h.Write([]byte(p.Op))
	h.Write([]byte{'\n'})
	for _, tier := range p.Tiers {
		for _, e := range tier.Entries {
			h.Write([]byte(e.Address))
			h.Write([]byte{':'})
			h.Write([]byte(e.Action.String()))
			if e.Desired != nil {
				h.Write([]byte{':'})
				h.Write([]byte(manifest.Hash(*e.Desired)))
			}
			h.Write([]byte{';'})
		}
		h.Write([]byte{'\n'})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
