// Package resolver computes safe construction orderings over declared service
// dependencies: referential completeness, cycle detection with full paths,
// topological ordering with deterministic tie-breaking, and dependency-true
// parallel batches.
package resolver

import (
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// heavyDependencyThreshold flags nodes with an unusually wide direct fan-in.
const heavyDependencyThreshold = 10

type node struct {
	def        service.Definition
	deps       []string
	dependents []string
	level      int
}

type graph struct {
	nodes map[string]*node
	names []string
}

// Resolver orders definitions for registration.
type Resolver struct {
	logger *zap.Logger
}

// New builds a Resolver.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// ResolveOrder returns the definitions in an order where every dependency
// precedes its dependents. Ties within a wave are broken by priority, then
// name, so the result is reproducible across runs.
func (r *Resolver) ResolveOrder(defs []service.Definition) ([]service.Definition, error) {
	g, err := buildGraph(defs)
	if err != nil {
		return nil, err
	}
	if err := validateComplete(g); err != nil {
		return nil, err
	}
	if err := detectCycle(g); err != nil {
		return nil, err
	}
	ordered, err := topoSort(g)
	if err != nil {
		return nil, err
	}

	// Nodes in the same discovery wave are mutually independent, so sorting
	// within a wave cannot break the topological invariant.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := g.nodes[ordered[i].Name], g.nodes[ordered[j].Name]
		if a.level != b.level {
			return a.level < b.level
		}
		if a.def.Priority != b.def.Priority {
			return a.def.Priority < b.def.Priority
		}
		return a.def.Name < b.def.Name
	})
	return ordered, nil
}

// SafeBatches partitions the definitions into waves where every member of
// wave k has all dependencies satisfied by waves before k. An empty wave with
// work remaining means a residual cycle survived validation.
func (r *Resolver) SafeBatches(defs []service.Definition) ([][]service.Definition, error) {
	g, err := buildGraph(defs)
	if err != nil {
		return nil, err
	}
	if err := validateComplete(g); err != nil {
		return nil, err
	}

	satisfied := make(map[string]bool, len(g.names))
	remaining := make(map[string]bool, len(g.names))
	for _, name := range g.names {
		remaining[name] = true
	}

	var batches [][]service.Definition
	for len(remaining) > 0 {
		var wave []service.Definition
		for _, name := range g.names {
			if !remaining[name] {
				continue
			}
			ready := true
			for _, dep := range g.nodes[name].deps {
				if !satisfied[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, g.nodes[name].def)
			}
		}
		if len(wave) == 0 {
			stuck := make([]string, 0, len(remaining))
			for name := range remaining {
				stuck = append(stuck, name)
			}
			sort.Strings(stuck)
			return nil, service.NewCircularDependency(stuck)
		}
		sort.SliceStable(wave, func(i, j int) bool {
			if wave[i].Priority != wave[j].Priority {
				return wave[i].Priority < wave[j].Priority
			}
			return wave[i].Name < wave[j].Name
		})
		for _, def := range wave {
			satisfied[def.Name] = true
			delete(remaining, def.Name)
		}
		batches = append(batches, wave)
	}
	return batches, nil
}

// Diagnostics reports non-fatal graph oddities: isolated nodes (no
// dependencies and no dependents) and nodes with unusually many direct
// dependencies.
type Diagnostics struct {
	Isolated []string
	Heavy    map[string]int
}

// Inspect computes diagnostics and logs them; it never fails.
func (r *Resolver) Inspect(defs []service.Definition) Diagnostics {
	diag := Diagnostics{Heavy: make(map[string]int)}
	g, err := buildGraph(defs)
	if err != nil {
		return diag
	}
	for _, name := range g.names {
		n := g.nodes[name]
		if len(n.deps) == 0 && len(n.dependents) == 0 {
			diag.Isolated = append(diag.Isolated, name)
		}
		if len(n.deps) >= heavyDependencyThreshold {
			diag.Heavy[name] = len(n.deps)
		}
	}
	sort.Strings(diag.Isolated)
	if len(diag.Isolated) > 0 {
		r.logger.Debug("isolated services in dependency graph",
			zap.Strings("services", diag.Isolated))
	}
	for name, count := range diag.Heavy {
		r.logger.Warn("service declares unusually many direct dependencies",
			zap.String("service", name),
			zap.Int("dependencies", count))
	}
	return diag
}

func buildGraph(defs []service.Definition) (*graph, error) {
	g := &graph{nodes: make(map[string]*node, len(defs))}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, ok := g.nodes[def.Name]; ok {
			return nil, service.NewValidationFailed(def.Name, "duplicate definition name", nil)
		}
		g.nodes[def.Name] = &node{def: def, deps: def.Dependencies}
		g.names = append(g.names, def.Name)
	}
	for _, name := range g.names {
		for _, dep := range g.nodes[name].deps {
			if target, ok := g.nodes[dep]; ok {
				target.dependents = append(target.dependents, name)
			}
		}
	}
	return g, nil
}

// validateComplete collects every reference to a name outside the batch into
// a single error, rather than stopping at the first offender.
func validateComplete(g *graph) error {
	var missing []string
	for _, name := range g.names {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				missing = append(missing, name+" -> "+dep)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return service.NewMissingDependencies(missing)
	}
	return nil
}

// detectCycle walks depth-first with a recursion stack and reports the full
// cycle path the first time a stack member is revisited.
func detectCycle(g *graph) error {
	visited := make(map[string]bool, len(g.names))
	onStack := make(map[string]bool, len(g.names))

	var walk func(name string, path []string) error
	walk = func(name string, path []string) error {
		if onStack[name] {
			cycle := append(append([]string(nil), path...), name)
			for i, n := range cycle {
				if n == name {
					return service.NewCircularDependency(cycle[i:])
				}
			}
			return service.NewCircularDependency(cycle)
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		onStack[name] = true
		defer func() { onStack[name] = false }()
		for _, dep := range g.nodes[name].deps {
			next := append(append([]string(nil), path...), name)
			if err := walk(dep, next); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range g.names {
		if visited[name] {
			continue
		}
		if err := walk(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm, tracking the discovery wave of each node as
// max(dependency waves) + 1. A result shorter than the graph means a residual
// inconsistency survived the earlier checks.
func topoSort(g *graph) ([]service.Definition, error) {
	inDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegree[name] = len(g.nodes[name].deps)
	}

	var queue []string
	for _, name := range g.names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
			g.nodes[name].level = 0
		}
	}

	ordered := make([]service.Definition, 0, len(g.names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		n := g.nodes[name]
		ordered = append(ordered, n.def)
		for _, dependent := range n.dependents {
			d := g.nodes[dependent]
			if d.level < n.level+1 {
				d.level = n.level + 1
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if len(ordered) != len(g.names) {
		var stuck []string
		for name, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, service.NewCircularDependency(stuck)
	}
	return ordered, nil
}
