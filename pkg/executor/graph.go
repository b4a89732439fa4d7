package executor

import (
	"context"
	"fmt"
)

// Unit is one piece of work in a Graph. Deps are indices of units that must
// finish successfully before this one starts.
type Unit struct {
	Name string
	Deps []int
	Run  func(ctx context.Context) error
}

// Graph is a DAG of units submitted as one run.
type Graph struct {
	Name  string
	Units []Unit
}

// Validate checks dependency indices and rejects cycles.
func Validate(g Graph) error {
	if len(g.Units) == 0 {
		return fmt.Errorf("graph %q has no units", g.Name)
	}

	for i, u := range g.Units {
		if u.Run == nil {
			return fmt.Errorf("unit %q has no run function", u.Name)
		}
		for _, d := range u.Deps {
			if d < 0 || d >= len(g.Units) {
				return fmt.Errorf("unit %q depends on non-existent unit %d", u.Name, d)
			}
			if d == i {
				return fmt.Errorf("unit %q depends on itself", u.Name)
			}
		}
	}

	visited := make([]bool, len(g.Units))
	onStack := make([]bool, len(g.Units))

	var hasCycle func(int) bool
	hasCycle = func(i int) bool {
		visited[i] = true
		onStack[i] = true
		for _, d := range g.Units[i].Deps {
			if !visited[d] {
				if hasCycle(d) {
					return true
				}
			} else if onStack[d] {
				return true
			}
		}
		onStack[i] = false
		return false
	}

	for i := range g.Units {
		if !visited[i] && hasCycle(i) {
			return fmt.Errorf("circular dependency detected involving unit: %s", g.Units[i].Name)
		}
	}

	return nil
}

// Levels returns unit indices grouped by dependency depth. Units in the same
// level never depend on each other. On cycles the levels ordered so far are
// returned with the error.
func Levels(g Graph) ([][]int, error) {
	dependents := make([][]int, len(g.Units))
	inDegree := make([]int, len(g.Units))

	for i, u := range g.Units {
		for _, d := range u.Deps {
			if d < 0 || d >= len(g.Units) {
				return nil, fmt.Errorf("unit %q depends on non-existent unit %d", u.Name, d)
			}
			dependents[d] = append(dependents[d], i)
			inDegree[i]++
		}
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var levels [][]int
	total := 0
	for len(queue) > 0 {
		level := append([]int(nil), queue...)
		levels = append(levels, level)
		total += len(level)

		var next []int
		for _, i := range queue {
			for _, dep := range dependents[i] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if total != len(g.Units) {
		return levels, fmt.Errorf("cannot determine execution order: circular dependencies")
	}

	return levels, nil
}
