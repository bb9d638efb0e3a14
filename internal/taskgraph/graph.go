// Package taskgraph registers named tasks with dependencies and runs them in
// dependency order with bounded parallelism.
//
// A failed task marks its transitive dependents SKIPPED; every other task
// keeps running, so unrelated pipelines are isolated from each other.
package taskgraph

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action is the work a task performs.
type Action func(ctx context.Context) error

// EventType distinguishes emitted events.
type EventType int

const (
	EventTaskStarted EventType = iota
	EventTaskCompleted
	EventTaskFailed
	EventTaskSkipped
)

func (t EventType) String() string {
	switch t {
	case EventTaskStarted:
		return "started"
	case EventTaskCompleted:
		return "completed"
	case EventTaskFailed:
		return "failed"
	case EventTaskSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event captures task lifecycle milestones.
type Event struct {
	Type     EventType
	Task     string
	Group    string
	Err      error
	When     time.Time
	Duration time.Duration
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name        string   `json:"name"`
	Group       string   `json:"group,omitempty"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	FinalizedBy []string `json:"finalizedBy,omitempty"`
}

type node struct {
	index       int
	info        TaskInfo
	action      Action
	finalizedBy []string
}

// Option configures a Graph.
type Option func(*config)

type config struct {
	concurrency int
	onEvent     []func(Event)
	logger      *zap.Logger
}

// WithConcurrency caps the number of tasks running at once. Values below one
// select GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithOnEvent registers a callback for emitted events. Callbacks run on the
// scheduler goroutine and must not block.
func WithOnEvent(fn func(Event)) Option {
	return func(c *config) {
		if fn != nil {
			c.onEvent = append(c.onEvent, fn)
		}
	}
}

// WithLogger sets the logger used for scheduling decisions.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Graph is a registry of tasks. Registration and Run may be called from
// different goroutines.
type Graph struct {
	cfg config

	mu    sync.RWMutex
	nodes map[string]*node
	order []*node
}

// New constructs an empty graph.
func New(opts ...Option) *Graph {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = runtime.GOMAXPROCS(0)
	}
	return &Graph{cfg: cfg, nodes: make(map[string]*node)}
}

// Register adds a task. Every name in dependsOn must already be registered,
// which also rules out cycles.
func (g *Graph) Register(name string, dependsOn []string, action Action) error {
	return g.RegisterTask(TaskInfo{Name: name, DependsOn: dependsOn}, action)
}

// RegisterTask adds a task with its group and description.
func (g *Graph) RegisterTask(info TaskInfo, action Action) error {
	if info.Name == "" {
		return invalidf("task name is required")
	}
	if action == nil {
		return invalidf("task %q has no action", info.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[info.Name]; exists {
		return invalidf("duplicate task name: %q", info.Name)
	}
	seen := make(map[string]struct{}, len(info.DependsOn))
	for _, dep := range info.DependsOn {
		if dep == info.Name {
			return invalidf("self-dependency: %q", dep)
		}
		if _, ok := g.nodes[dep]; !ok {
			return unknownf("%q depends on unregistered task %q", info.Name, dep)
		}
		if _, dup := seen[dep]; dup {
			return invalidf("duplicate dependency: %q -> %q", info.Name, dep)
		}
		seen[dep] = struct{}{}
	}

	info.DependsOn = append([]string(nil), info.DependsOn...)
	info.FinalizedBy = nil
	n := &node{index: len(g.order), info: info, action: action}
	g.nodes[info.Name] = n
	g.order = append(g.order, n)
	g.cfg.logger.Debug("task registered", zap.String("task", info.Name), zap.Strings("dependsOn", info.DependsOn))
	return nil
}

// FinalizedBy schedules finalizer whenever task is scheduled. The finalizer
// runs once task is terminal.
func (g *Graph) FinalizedBy(task, finalizer string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[task]
	if !ok {
		return unknownf("cannot finalize unregistered task %q", task)
	}
	if _, ok := g.nodes[finalizer]; !ok {
		return unknownf("finalizer %q is not registered", finalizer)
	}
	if task == finalizer {
		return invalidf("task %q cannot finalize itself", task)
	}
	for _, f := range n.finalizedBy {
		if f == finalizer {
			return nil
		}
	}
	n.finalizedBy = append(n.finalizedBy, finalizer)
	return nil
}

// Has reports whether name is registered.
func (g *Graph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[name]
	return ok
}

// Task returns the description of a registered task.
func (g *Graph) Task(name string) (TaskInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	if !ok {
		return TaskInfo{}, false
	}
	return n.describe(), true
}

// Tasks returns every registered task in registration order.
func (g *Graph) Tasks() []TaskInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]TaskInfo, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, n.describe())
	}
	return out
}

// TasksInGroup returns the names of tasks in group, in registration order.
func (g *Graph) TasksInGroup(group string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, n := range g.order {
		if n.info.Group == group {
			out = append(out, n.info.Name)
		}
	}
	return out
}

func (n *node) describe() TaskInfo {
	info := n.info
	info.DependsOn = append([]string(nil), n.info.DependsOn...)
	info.FinalizedBy = append([]string(nil), n.finalizedBy...)
	return info
}

// plan returns the closure of targets over dependencies and finalizers,
// sorted by registration order.
func (g *Graph) plan(targets []string) ([]*node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	selected := make(map[string]*node)
	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := selected[name]; ok {
			return nil
		}
		n, ok := g.nodes[name]
		if !ok {
			return unknownf("%q", name)
		}
		selected[name] = n
		for _, dep := range n.info.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		for _, f := range n.finalizedBy {
			if err := visit(f); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range targets {
		if err := visit(t); err != nil {
			return nil, err
		}
	}

	out := make([]*node, 0, len(selected))
	for _, n := range selected {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })

	// Snapshot finalizer lists while the read lock is held.
	snap := make([]*node, len(out))
	for i, n := range out {
		cp := *n
		cp.finalizedBy = append([]string(nil), n.finalizedBy...)
		snap[i] = &cp
	}
	return snap, nil
}
