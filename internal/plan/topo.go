package plan

import (
	"fmt"
	"sort"

	"stratus/internal/manifest"
)

// TopologicalSort groups resources into dependency tiers using both the
// implicit references derived from specs and explicit depends_on edges.
// Tier membership and order are deterministic for a given manifest.
func TopologicalSort(resources []manifest.Resource) ([][]manifest.Resource, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	byAddress := make(map[string]manifest.Resource, len(resources))
	inDegree := make(map[string]int, len(resources))
	adj := make(map[string][]string, len(resources))

	for _, r := range resources {
		addr := r.Address()
		if _, exists := byAddress[addr]; exists {
			return nil, fmt.Errorf("topological sort: duplicate resource %s", addr)
		}
		byAddress[addr] = r
		inDegree[addr] = 0
		adj[addr] = nil
	}

	for _, r := range resources {
		addr := r.Address()
		deps := append(r.References(), r.DependsOn...)
		seen := make(map[string]bool, len(deps))
		for _, dep := range deps {
			if dep == "" || seen[dep] {
				continue
			}
			seen[dep] = true
			if dep == addr {
				return nil, fmt.Errorf("topological sort: resource %s depends on itself", addr)
			}
			if _, ok := byAddress[dep]; !ok {
				return nil, fmt.Errorf("topological sort: resource %s depends on unknown resource %s", addr, dep)
			}
			adj[dep] = append(adj[dep], addr)
			inDegree[addr]++
		}
	}

	for addr := range adj {
		sort.Strings(adj[addr])
	}

	ready := make([]string, 0, len(resources))
	for addr, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, addr)
		}
	}
	sortAddresses(ready, byAddress)

	processed := 0
	tiers := make([][]manifest.Resource, 0)
	for len(ready) > 0 {
		tierAddrs := append([]string(nil), ready...)
		ready = ready[:0]

		tier := make([]manifest.Resource, 0, len(tierAddrs))
		for _, addr := range tierAddrs {
			tier = append(tier, byAddress[addr])
			processed++
			for _, dependent := range adj[addr] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
		sortAddresses(ready, byAddress)
		tiers = append(tiers, tier)
	}

	if processed != len(resources) {
		remaining := make([]string, 0, len(resources)-processed)
		for addr, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, addr)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("topological sort: dependency cycle detected among resources %v", remaining)
	}

	return tiers, nil
}

// sortAddresses orders addresses parent-kind first, then lexically, so tiers
// read naturally (resource groups before NICs before diagnostics).
func sortAddresses(addrs []string, byAddress map[string]manifest.Resource) {
	sort.Slice(addrs, func(i, j int) bool {
		ri, rj := byAddress[addrs[i]], byAddress[addrs[j]]
		if a, b := manifest.KindRank(ri.Kind), manifest.KindRank(rj.Kind); a != b {
			return a < b
		}
		return addrs[i] < addrs[j]
	})
}
