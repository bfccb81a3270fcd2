// Package graph derives the service dependency graph from a parsed compose
// document and computes the deterministic start and stop orders the
// orchestrator executes. The graph is recomputed per invocation and never
// persisted.
package graph

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
)

// DefaultNetwork is the implicit network joining services that declare no
// networks of their own, mirroring compose semantics.
const DefaultNetwork = "default"

// =============================================================================
// Graph
// =============================================================================

// Graph is the directed dependency graph over service names. An edge A -> B
// means A depends on B and B must be running first.
type Graph struct {
	order      []string // declaration order
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	networks   map[string][]string // network name -> members, declaration order
	start      []string
	warnings   []string
}

// New builds the graph from a document and computes the start order. It fails
// with a CycleError before any ordering is exposed when the dependencies are
// cyclic, and with an UnknownDependencyError when a depends_on entry names an
// undeclared service.
func New(doc *compose.Document) (*Graph, error) {
	g := &Graph{
		order:      make([]string, 0, len(doc.Services)),
		index:      make(map[string]int, len(doc.Services)),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		networks:   make(map[string][]string),
	}

	for i, svc := range doc.Services {
		g.order = append(g.order, svc.Name)
		g.index[svc.Name] = i
	}

	for _, svc := range doc.Services {
		for _, dep := range svc.DependsOn {
			if _, ok := g.index[dep.Service]; !ok {
				return nil, &UnknownDependencyError{Service: svc.Name, Target: dep.Service}
			}
			g.deps[svc.Name] = append(g.deps[svc.Name], dep.Service)
			g.dependents[dep.Service] = append(g.dependents[dep.Service], svc.Name)

			// The runtime has no healthcheck gating; stronger conditions
			// degrade to started.
			if dep.Condition == compose.ConditionHealthy || dep.Condition == compose.ConditionCompleted {
				g.warnings = append(g.warnings, fmt.Sprintf(
					"service %q: treating %s condition on %q as %s",
					svc.Name, dep.Condition, dep.Service, compose.ConditionStarted))
			}
		}

		for _, net := range effectiveNetworks(svc) {
			g.networks[net] = append(g.networks[net], svc.Name)
		}
	}

	start, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}
	g.start = start

	return g, nil
}

// effectiveNetworks returns the networks a service participates in. Services
// without explicit networks share the implicit default network; an explicit
// network_mode opts the service out of name resolution entirely.
func effectiveNetworks(svc compose.Service) []string {
	if svc.NetworkMode != "" {
		return nil
	}
	if len(svc.Networks) == 0 {
		return []string{DefaultNetwork}
	}
	return svc.Networks
}

// topologicalOrder runs Kahn's algorithm over the dependency edges. Ties
// among ready services are broken by declaration order, which keeps the
// result stable across runs.
func (g *Graph) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		inDegree[name] = len(g.deps[name])
	}

	var ready []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if g.index[ready[i]] < g.index[ready[best]] {
				best = i
			}
		}
		name := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		result = append(result, name)

		for _, dep := range g.dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(result) < len(g.order) {
		return nil, &CycleError{Members: g.cycleMembers(result)}
	}
	return result, nil
}

// cycleMembers isolates the services actually on a cycle from the leftover
// set, which also contains their transitive dependents. Nodes nothing in the
// leftover depends on cannot be on a cycle and are peeled off until only
// cycle participants remain.
func (g *Graph) cycleMembers(resolved []string) []string {
	remaining := make(map[string]bool, len(g.order))
	for _, name := range g.order {
		remaining[name] = true
	}
	for _, name := range resolved {
		delete(remaining, name)
	}

	for changed := true; changed; {
		changed = false
		for _, name := range g.order {
			if !remaining[name] {
				continue
			}
			hasDependent := false
			for _, d := range g.dependents[name] {
				if remaining[d] {
					hasDependent = true
					break
				}
			}
			if !hasDependent {
				delete(remaining, name)
				changed = true
			}
		}
	}

	members := lo.Filter(g.order, func(name string, _ int) bool {
		return remaining[name]
	})
	return members
}

// =============================================================================
// Orderings
// =============================================================================

// StartOrder returns the full start sequence, dependencies strictly before
// dependents.
func (g *Graph) StartOrder() []string {
	order := make([]string, len(g.start))
	copy(order, g.start)
	return order
}

// StopOrder is the exact reverse of StartOrder.
func (g *Graph) StopOrder() []string {
	order := g.StartOrder()
	lo.Reverse(order)
	return order
}

// Waves partitions the start order into stages by dependency depth. Any
// dependency path between two services places them in different stages, so
// the members of one stage are mutually independent and may start
// concurrently once every earlier stage is running.
func (g *Graph) Waves() [][]string {
	depth := make(map[string]int, len(g.start))
	for _, name := range g.start {
		d := 0
		for _, dep := range g.deps[name] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
	}

	var waves [][]string
	for _, name := range g.start {
		d := depth[name]
		for len(waves) <= d {
			waves = append(waves, nil)
		}
		waves[d] = append(waves[d], name)
	}
	return waves
}

// Services returns the service names in declaration order.
func (g *Graph) Services() []string {
	order := make([]string, len(g.order))
	copy(order, g.order)
	return order
}

// Warnings reports non-fatal findings from graph construction.
func (g *Graph) Warnings() []string {
	return g.warnings
}

// =============================================================================
// Relations
// =============================================================================

// Dependencies returns the direct dependencies of a service.
func (g *Graph) Dependencies(name string) []string {
	deps := make([]string, len(g.deps[name]))
	copy(deps, g.deps[name])
	return deps
}

// Dependents returns the services directly depending on a service.
func (g *Graph) Dependents(name string) []string {
	deps := make([]string, len(g.dependents[name]))
	copy(deps, g.dependents[name])
	return deps
}

// Subtree returns the service plus every transitive dependent, in start
// order. This is the set pruned when the root fails.
func (g *Graph) Subtree(root string) []string {
	member := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[name] {
			if !member[d] {
				member[d] = true
				queue = append(queue, d)
			}
		}
	}
	return lo.Filter(g.start, func(name string, _ int) bool {
		return member[name]
	})
}

// Independent reports whether no dependency path exists between two services
// in either direction. Only independent services may start concurrently.
func (g *Graph) Independent(a, b string) bool {
	if _, ok := g.index[a]; !ok {
		return false
	}
	if _, ok := g.index[b]; !ok {
		return false
	}
	return !g.reaches(a, b) && !g.reaches(b, a)
}

// reaches walks dependency edges from src looking for dst.
func (g *Graph) reaches(src, dst string) bool {
	seen := map[string]bool{src: true}
	queue := []string{src}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[name] {
			if dep == dst {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false
}

// SharedNetworkPeers returns the services sharing at least one network with
// the named service, in declaration order. The orchestrator uses this set to
// emulate per-network name resolution.
func (g *Graph) SharedNetworkPeers(name string) []string {
	peer := make(map[string]bool)
	for _, members := range g.networks {
		if !lo.Contains(members, name) {
			continue
		}
		for _, m := range members {
			if m != name {
				peer[m] = true
			}
		}
	}
	return lo.Filter(g.order, func(svc string, _ int) bool {
		return peer[svc]
	})
}

// NetworkMembers returns the members of a declared network in declaration
// order.
func (g *Graph) NetworkMembers(network string) []string {
	members := make([]string, len(g.networks[network]))
	copy(members, g.networks[network])
	return members
}
