package resolver

import (
	"strings"

	"github.com/nexis-project/nexispm/internal/config"
	"github.com/nexis-project/nexispm/internal/types"
)

// topologicalOrder runs Kahn's algorithm over the declared dependency
// graph: edges point from a package to its dependencies, and the returned
// order satisfies spec.md §8 invariant 6 — for edge (a -> b), position(b)
// < position(a), i.e. a package never appears before any package it
// depends on.
//
// The ready queue is kept sorted by name (via the teacher's types.Sorted)
// so that among several simultaneously-ready packages the output order is
// deterministic rather than a function of map iteration.
func topologicalOrder(packages []config.PackageConfig) ([]string, error) {
	byName := make(map[string]config.PackageConfig, len(packages))
	for _, p := range packages {
		byName[p.Name] = p
	}

	// dependents[x] = packages that declare x as a dependency; processing x
	// decrements the in-degree of everything in dependents[x].
	dependents := make(map[string][]string, len(packages))
	inDegree := make(map[string]int, len(packages))
	for _, p := range packages {
		inDegree[p.Name] = 0
	}
	for _, p := range packages {
		for _, dep := range p.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, &ResolutionError{Kind: KindDependencyNotFound, Package: p.Name, Detail: dep}
			}
			dependents[dep] = append(dependents[dep], p.Name)
			inDegree[p.Name]++
		}
	}

	ready := make([]string, 0, len(packages))
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(packages))
	for len(ready) > 0 {
		sorted := types.NewSorted(ready, func(s string) string { return s })
		next := sorted.First()
		ready = removeOne(sorted.Items(), next)

		order = append(order, next)
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(packages) {
		remaining := make([]string, 0, len(packages)-len(order))
		processed := make(map[string]bool, len(order))
		for _, name := range order {
			processed[name] = true
		}
		for _, p := range packages {
			if !processed[p.Name] {
				remaining = append(remaining, p.Name)
			}
		}
		return nil, &ResolutionError{Kind: KindCircularDependency, Detail: strings.Join(remaining, " -> ")}
	}

	return order, nil
}

// removeOne returns items without its first occurrence of target.
func removeOne(items []string, target string) []string {
	out := make([]string, 0, len(items)-1)
	removed := false
	for _, item := range items {
		if !removed && item == target {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out
}
