package engine

import (
	"fmt"
	"sort"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/pkg/core"
)

// Unit is one (query, partition) scheduled for execution.
type Unit struct {
	Query *core.Query
	Key   core.PartitionKey
	// Reason is the drift state that put the unit in the plan.
	Reason drift.State
	// CausedBy names the upstream query for cascaded units.
	CausedBy string
}

// Group is a plan's units for one query, in ascending key order.
// Partitions within a group execute strictly sequentially: they write
// the same table.
type Group struct {
	Query *core.Query
	// Level is the query's dependency level; groups at the same level
	// may execute in parallel.
	Level int
	Units []Unit
}

// Plan is an ordered execution plan: groups in topological order,
// annotated with dependency levels.
type Plan struct {
	Groups []Group
	// Skipped records cascade targets that could not be mapped onto a
	// downstream partition (e.g. range downstream of a time
	// partition).
	Skipped []string
}

// Empty reports whether the plan has no units.
func (p *Plan) Empty() bool { return len(p.Groups) == 0 }

// UnitCount sums units across groups.
func (p *Plan) UnitCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Units)
	}
	return n
}

// Expand turns a seed set of drifted partitions into an ordered plan.
// With cascade off the seeds are grouped and ordered as-is. With
// cascade on, every downstream of a seed gains a unit for the
// partition containing the seed's, labeled upstream_changed unless the
// downstream partition is already in the plan for another reason, and
// the expansion runs to a fixed point.
func (e *Engine) Expand(seeds []drift.PartitionDrift, cascade bool) (*Plan, error) {
	type slot struct {
		unit Unit
		seed bool
	}
	units := map[string]map[string]slot{} // query -> key -> slot

	add := func(q *core.Query, key core.PartitionKey, reason drift.State, causedBy string, seed bool) bool {
		byKey := units[q.Name]
		if byKey == nil {
			byKey = map[string]slot{}
			units[q.Name] = byKey
		}
		if existing, ok := byKey[key.String()]; ok {
			// Seeds carry their own drift reason; a cascade never
			// overwrites it.
			if !seed || existing.seed {
				return false
			}
		}
		byKey[key.String()] = slot{unit: Unit{Query: q, Key: key, Reason: reason, CausedBy: causedBy}, seed: seed}
		return true
	}

	plan := &Plan{}
	var worklist []Unit
	for _, s := range seeds {
		q, ok := e.repo.Query(s.QueryName)
		if !ok {
			return nil, fmt.Errorf("plan seed references unknown query %q", s.QueryName)
		}
		if add(q, s.PartitionKey, s.Label, s.CausedBy, true) {
			worklist = append(worklist, Unit{Query: q, Key: s.PartitionKey})
		}
	}

	if cascade {
		for len(worklist) > 0 {
			u := worklist[0]
			worklist = worklist[1:]
			for _, name := range e.repo.Graph.Downstream(u.Query.Name) {
				d, ok := e.repo.Query(name)
				if !ok {
					continue
				}
				lo, hi, ok := core.MapToSpec(u.Key, d.Destination.Partition)
				if !ok || lo != hi {
					plan.Skipped = append(plan.Skipped, fmt.Sprintf("%s: no partition mapping from %s %s", name, u.Query.Name, u.Key))
					continue
				}
				if add(d, lo, drift.StateUpstreamChanged, u.Query.Name, false) {
					worklist = append(worklist, Unit{Query: d, Key: lo})
				}
			}
		}
	}

	order, err := e.repo.Graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	levels, err := e.repo.Graph.Levels()
	if err != nil {
		return nil, err
	}
	levelOf := map[string]int{}
	for i, level := range levels {
		for _, name := range level {
			levelOf[name] = i
		}
	}

	for _, name := range order {
		byKey, ok := units[name]
		if !ok {
			continue
		}
		g := Group{Query: e.repo.ByName[name], Level: levelOf[name]}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			g.Units = append(g.Units, byKey[k].unit)
		}
		plan.Groups = append(plan.Groups, g)
	}
	return plan, nil
}

// PlanRange builds a plan covering every partition of one query in
// [lo, hi], regardless of drift. Used by backfill.
func (e *Engine) PlanRange(q *core.Query, lo, hi core.PartitionKey, reason drift.State) *Plan {
	levels, _ := e.repo.Graph.Levels()
	levelOf := map[string]int{}
	for i, level := range levels {
		for _, name := range level {
			levelOf[name] = i
		}
	}
	g := Group{Query: q, Level: levelOf[q.Name]}
	for _, key := range core.Keys(lo, hi, q.Destination.Partition.Interval) {
		g.Units = append(g.Units, Unit{Query: q, Key: key, Reason: reason})
	}
	return &Plan{Groups: []Group{g}}
}
