package control

import (
	"sort"

	"github.com/ftahirops/qplane/model"
)

const (
	maxPathDepth  = 3
	keepWorstPaths = 5
)

// criticalPathsLocked walks the topology from the configured seed
// modules and keeps the lowest-health root-to-leaf paths. Depth counts
// edges from the seed; a cycle or the cap ends the path.
func (e *CorrelationEngine) criticalPathsLocked(windows map[model.ModuleID][]model.ModuleMetrics) []model.CriticalPath {
	latest := make(map[model.ModuleID]model.ModuleMetrics, len(windows))
	for id, ring := range windows {
		latest[id] = ring[len(ring)-1]
	}

	var found []model.CriticalPath
	for _, seed := range e.cfg.SeedModules {
		root := model.ModuleID(seed)
		visited := map[model.ModuleID]bool{root: true}
		e.walkLocked(root, []model.ModuleID{root}, visited, 0, latest, &found)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].PathHealth != found[j].PathHealth {
			return found[i].PathHealth < found[j].PathHealth
		}
		return lessModulePath(found[i].Modules, found[j].Modules)
	})
	if len(found) > keepWorstPaths {
		found = found[:keepWorstPaths]
	}
	return found
}

func (e *CorrelationEngine) walkLocked(at model.ModuleID, path []model.ModuleID, visited map[model.ModuleID]bool, depth int, latest map[model.ModuleID]model.ModuleMetrics, out *[]model.CriticalPath) {
	deps := e.topology[at]
	extended := false
	if depth < maxPathDepth {
		for _, next := range deps {
			if visited[next] {
				continue
			}
			visited[next] = true
			e.walkLocked(next, append(path, next), visited, depth+1, latest, out)
			delete(visited, next)
			extended = true
		}
	}
	if extended {
		return
	}

	modules := append([]model.ModuleID(nil), path...)
	*out = append(*out, model.CriticalPath{
		Modules:     modules,
		PathHealth:  pathHealth(modules, latest),
		Bottlenecks: bottlenecks(modules, latest),
	})
}

func pathHealth(modules []model.ModuleID, latest map[model.ModuleID]model.ModuleMetrics) float64 {
	if len(modules) == 0 {
		return 0
	}
	var sum float64
	for _, id := range modules {
		m, ok := latest[id]
		if !ok {
			sum += model.HealthUnknown.Score()
			continue
		}
		sum += model.HealthFromMetrics(m).Score()
	}
	return sum / float64(len(modules))
}

// bottlenecks flags modules whose latest sample breaches any of the
// hard limits: p95 over 2s, errors over 5%, cpu or memory over 90%.
func bottlenecks(modules []model.ModuleID, latest map[model.ModuleID]model.ModuleMetrics) []model.ModuleID {
	var out []model.ModuleID
	for _, id := range modules {
		m, ok := latest[id]
		if !ok {
			continue
		}
		if m.LatencyP95 > 2000 || m.ErrorRate > 0.05 || m.CPUUtilization > 0.9 || m.MemoryUtilization > 0.9 {
			out = append(out, id)
		}
	}
	return out
}

func lessModulePath(a, b []model.ModuleID) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
