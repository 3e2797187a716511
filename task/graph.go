package task

import (
	"fmt"
	"sync"

	"github.com/vk/taskmesh/pool"
)

// Graph is a named collection of type-erased tasks, built once (typically
// by the pipeline package from a declarative document) and then run to
// completion as a unit.
type Graph struct {
	mu    sync.Mutex
	tasks map[string]*ErasedTask
	order []string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*ErasedTask)}
}

// Add registers t under name. It returns an error if name is already
// taken.
func (g *Graph) Add(name string, t *ErasedTask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[name]; exists {
		return fmt.Errorf("task: duplicate node name %q", name)
	}
	g.tasks[name] = t
	g.order = append(g.order, name)
	return nil
}

// Get returns the task registered under name, if any.
func (g *Graph) Get(name string) (*ErasedTask, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[name]
	return t, ok
}

// Roots returns the names of every task with no outstanding predecessors,
// i.e. every task that RunAll will schedule directly.
func (g *Graph) Roots() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var roots []string
	for _, name := range g.order {
		if !g.tasks[name].hasPendingPredecessors() {
			roots = append(roots, name)
		}
	}
	return roots
}

// RunAll schedules every root task on p, waits for every task in the graph
// to finish, and returns the first non-nil error encountered, wrapped with
// the name of the node it came from. A node skipped because an upstream
// conditional predecessor failed reports that predecessor's error, so
// RunAll surfaces the original root cause rather than every downstream
// symptom.
//
// The wait phase fans out one goroutine per node so that waiting on an
// early node in insertion order never delays discovering a failure that
// finished sooner on a later one; the first failure is then picked out by
// a deterministic scan in declaration order rather than by whichever
// goroutine happens to finish first, so the reported node name never
// depends on scheduling luck.
func (g *Graph) RunAll(p *pool.Pool) error {
	g.mu.Lock()
	order := append([]string(nil), g.order...)
	tasks := make(map[string]*ErasedTask, len(g.tasks))
	for k, v := range g.tasks {
		tasks[k] = v
	}
	g.mu.Unlock()

	for _, name := range order {
		if !tasks[name].hasPendingPredecessors() {
			tasks[name].Schedule(p)
		}
	}

	errs := make([]error, len(order))
	var wg sync.WaitGroup
	wg.Add(len(order))
	for i, name := range order {
		i, name := i, name
		go func() {
			defer wg.Done()
			if _, err := tasks[name].GetResult(); err != nil {
				errs[i] = fmt.Errorf("node %q: %w", name, err)
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
