package unwind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fortressi/unwind/set"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Plan declares a transaction's steps and their ordering constraints before
// anything runs. Compile resolves the constraints into a Schedule: a single,
// deterministic linear order. Execution stays strictly sequential; the graph
// only expresses which steps must come before which.
type Plan struct {
	name   string
	graph  *simple.DirectedGraph
	steps  map[int64]*planStep
	byName map[string]int64
	order  []int64
	names  *set.Set[string]
	errs   []error
}

type planStep struct {
	name         string
	action       ActionFunc
	compensation CompensationFunc
	deps         []string
}

// NewPlan creates an empty plan.
func NewPlan(name string) *Plan {
	return &Plan{
		name:   name,
		graph:  simple.NewDirectedGraph(),
		steps:  make(map[int64]*planStep),
		byName: make(map[string]int64),
		names:  set.New[string](),
	}
}

// AddStep declares a step. Dependencies name steps that must run before this
// one; a dependency may be declared after the steps that reference it.
// Builder errors are deferred and surfaced by Compile.
func (p *Plan) AddStep(name string, action ActionFunc, compensation CompensationFunc, deps ...string) *Plan {
	if p.names.Contains(name) {
		p.errs = append(p.errs, fmt.Errorf("plan %q already has a step named %q", p.name, name))
		return p
	}
	p.names.Insert(name)

	node := p.graph.NewNode()
	p.graph.AddNode(node)
	p.steps[node.ID()] = &planStep{
		name:         name,
		action:       action,
		compensation: compensation,
		deps:         deps,
	}
	p.byName[name] = node.ID()
	p.order = append(p.order, node.ID())
	return p
}

// Compile resolves the plan into a Schedule. The order is deterministic: a
// stabilized topological sort with declaration order breaking ties. Unknown
// dependencies, self-dependencies, and cycles are rejected.
func (p *Plan) Compile() (*Schedule, error) {
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	for _, id := range p.order {
		step := p.steps[id]
		for _, dep := range step.deps {
			depID, ok := p.byName[dep]
			if !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", step.name, dep)
			}
			if depID == id {
				return nil, fmt.Errorf("step %q depends on itself", step.name)
			}
			p.graph.SetEdge(simple.Edge{F: p.graph.Node(depID), T: p.graph.Node(id)})
		}
	}

	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		// Node IDs follow declaration order, so this keeps ties stable.
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("plan %q has no valid order (dependency cycle?): %w", p.name, err)
	}

	steps := make([]*planStep, 0, len(sorted))
	for _, node := range sorted {
		steps = append(steps, p.steps[node.ID()])
	}
	return &Schedule{name: p.name, steps: steps}, nil
}

// Schedule is a compiled plan: the steps in their final execution order.
type Schedule struct {
	name  string
	steps []*planStep
}

// Steps returns the step names in execution order.
func (s *Schedule) Steps() []string {
	names := make([]string, len(s.steps))
	for i, step := range s.steps {
		names[i] = step.name
	}
	return names
}

// Apply executes the schedule's steps, in order, through the given
// transaction. It stops at the first failure, leaving the rollback decision
// to the enclosing scope.
func (s *Schedule) Apply(ctx context.Context, txn *Transaction) error {
	for _, step := range s.steps {
		if _, err := txn.Execute(ctx, step.name, step.action, step.compensation); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the schedule inside a new scoped transaction named after the
// plan and returns the transaction's terminal status.
func (s *Schedule) Run(ctx context.Context, logger *slog.Logger) (TransactionStatus, error) {
	txn := NewTransaction(s.name, logger)
	err := runScoped(ctx, txn, func(txn *Transaction) error {
		return s.Apply(ctx, txn)
	})
	return txn.Status(), err
}
