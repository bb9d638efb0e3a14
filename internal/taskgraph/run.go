package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one Run.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	States     ExecutionState
	Errors     map[string]error
	Durations  map[string]time.Duration
	Order      []string // tasks in completion order, skipped tasks included
}

// Failed returns failed task names in completion order.
func (r *Result) Failed() []string {
	var out []string
	for _, name := range r.Order {
		if r.States[name] == TaskFailed {
			out = append(out, name)
		}
	}
	return out
}

type completion struct {
	name string
	err  error
	dur  time.Duration
}

// Run executes targets and everything they need. A task starts only after
// every dependency COMPLETED and every task it finalizes is terminal. The
// returned error is a *RunError when any task failed, or the context error
// when the run was cancelled; the Result is always non-nil once planning
// succeeds.
func (g *Graph) Run(ctx context.Context, targets ...string) (*Result, error) {
	if len(targets) == 0 {
		return nil, invalidf("no targets")
	}
	plan, err := g.plan(targets)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*node, len(plan))
	for _, n := range plan {
		byName[n.info.Name] = n
	}

	// prereqs: dependencies plus tasks this one finalizes.
	waiting := make(map[string]int, len(plan))
	dependents := make(map[string][]string, len(plan))
	for _, n := range plan {
		for _, dep := range n.info.DependsOn {
			waiting[n.info.Name]++
			dependents[dep] = append(dependents[dep], n.info.Name)
		}
		for _, f := range n.finalizedBy {
			if _, ok := byName[f]; ok {
				waiting[f]++
				dependents[n.info.Name] = append(dependents[n.info.Name], f)
			}
		}
	}

	res := &Result{
		StartedAt: time.Now(),
		States:    make(ExecutionState, len(plan)),
		Errors:    make(map[string]error),
		Durations: make(map[string]time.Duration),
	}
	var ready []*node
	for _, n := range plan {
		res.States[n.info.Name] = TaskPending
		if waiting[n.info.Name] == 0 {
			ready = append(ready, n)
		}
	}

	log := g.cfg.logger
	done := make(chan completion)
	running := 0
	var failed []string
	var errs []error

	// settle resolves tasks whose prerequisites just became terminal.
	var settle func(name string)
	settle = func(name string) {
		for _, d := range dependents[name] {
			waiting[d]--
			if waiting[d] > 0 {
				continue
			}
			n := byName[d]
			if blocker := g.blockedBy(n, res.States); blocker != "" {
				_ = Transition(res.States, d, TaskPending, TaskSkipped)
				res.Order = append(res.Order, d)
				log.Debug("task skipped", zap.String("task", d), zap.String("blockedBy", blocker))
				g.emit(Event{Type: EventTaskSkipped, Task: d, Group: n.info.Group, When: time.Now()})
				settle(d)
				continue
			}
			ready = insertByIndex(ready, n)
		}
	}

	for {
		for len(ready) > 0 && running < g.cfg.concurrency && ctx.Err() == nil {
			n := ready[0]
			ready = ready[1:]
			if err := Transition(res.States, n.info.Name, TaskPending, TaskRunning); err != nil {
				return res, err
			}
			running++
			log.Debug("task started", zap.String("task", n.info.Name))
			g.emit(Event{Type: EventTaskStarted, Task: n.info.Name, Group: n.info.Group, When: time.Now()})
			go func(n *node) {
				start := time.Now()
				err := n.action(ctx)
				done <- completion{name: n.info.Name, err: err, dur: time.Since(start)}
			}(n)
		}
		if running == 0 {
			break
		}

		c := <-done
		running--
		n := byName[c.name]
		res.Durations[c.name] = c.dur
		res.Order = append(res.Order, c.name)
		if c.err != nil {
			_ = Transition(res.States, c.name, TaskRunning, TaskFailed)
			res.Errors[c.name] = c.err
			failed = append(failed, c.name)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, c.err))
			log.Warn("task failed", zap.String("task", c.name), zap.Duration("duration", c.dur), zap.Error(c.err))
			g.emit(Event{Type: EventTaskFailed, Task: c.name, Group: n.info.Group, Err: c.err, When: time.Now(), Duration: c.dur})
		} else {
			_ = Transition(res.States, c.name, TaskRunning, TaskCompleted)
			log.Debug("task completed", zap.String("task", c.name), zap.Duration("duration", c.dur))
			g.emit(Event{Type: EventTaskCompleted, Task: c.name, Group: n.info.Group, When: time.Now(), Duration: c.dur})
		}
		settle(c.name)
	}
	res.FinishedAt = time.Now()

	if err := ctx.Err(); err != nil {
		if len(failed) > 0 {
			return res, errors.Join(err, &RunError{failed: failed, errs: errs})
		}
		return res, err
	}
	if len(failed) > 0 {
		return res, &RunError{failed: failed, errs: errs}
	}
	return res, nil
}

// blockedBy returns the first dependency of n that did not complete.
func (g *Graph) blockedBy(n *node, states ExecutionState) string {
	for _, dep := range n.info.DependsOn {
		if states[dep] != TaskCompleted {
			return dep
		}
	}
	return ""
}

func (g *Graph) emit(evt Event) {
	for _, fn := range g.cfg.onEvent {
		fn(evt)
	}
}

func insertByIndex(ready []*node, n *node) []*node {
	i := sort.Search(len(ready), func(i int) bool { return ready[i].index > n.index })
	ready = append(ready, nil)
	copy(ready[i+1:], ready[i:])
	ready[i] = n
	return ready
}
