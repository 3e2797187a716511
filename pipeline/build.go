package pipeline

import (
	"context"
	"fmt"

	"github.com/vk/taskmesh/internal/dag"
	"github.com/vk/taskmesh/task"
)

// Build resolves doc against reg into a live *task.Graph: one task per
// step, wired by the step's declared edge kind. Build validates the
// document's topology (unknown handlers, unknown dependencies, cycles)
// before creating a single task, so a malformed document never leaves a
// partially-built graph behind.
func Build(ctx context.Context, doc *Document, reg Registry) (*task.Graph, error) {
	topology := dag.New()
	for _, step := range doc.Steps {
		topology.AddNode(step.Name)
	}
	for _, step := range doc.Steps {
		if _, ok := reg[step.Uses]; !ok {
			return nil, fmt.Errorf("pipeline: step %q uses unknown handler %q", step.Name, step.Uses)
		}
		for _, dep := range step.DependsOn {
			if err := topology.AddEdge(dep, step.Name); err != nil {
				return nil, fmt.Errorf("pipeline: step %q: %w", step.Name, err)
			}
		}
	}
	if err := topology.DetectCycles(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	graph := task.NewGraph()
	for _, step := range doc.Steps {
		handler := reg[step.Uses]
		t := task.New(func() (any, error) {
			return handler(ctx)
		}).Erase()
		if err := graph.Add(step.Name, t); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	for _, step := range doc.Steps {
		successor, _ := graph.Get(step.Name)
		deps, err := topology.Dependencies(step.Name)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		for _, dep := range deps {
			predecessor, _ := graph.Get(dep)
			switch step.Edge {
			case "finally":
				predecessor.Finally(successor)
			default:
				predecessor.Then(successor)
			}
		}
	}

	return graph, nil
}
