// Package sched orders a loaded IR into a compiled Plan: a
// combinational assign order safe to run front-to-back, and per-clock
// groups of register/memory updates for the simulation kernel to
// drive on rising edges.
//
// The "reads" graph is walked with an iterative (explicit-stack)
// Tarjan SCC, the same discipline the pack's ooo scheduler applies to
// its dependency matrix: an explicit bitmap/stack instead of deep
// recursion, here chosen so a netlist with thousands of assigns can't
// blow the Go call stack.
package sched

import (
	"fmt"
	"sort"

	"github.com/jyane/hdlsim/ir"
)

// ClockGroup holds everything that happens on one clock signal's
// rising edge, in IR load order.
type ClockGroup struct {
	ClockSignal int
	Processes   []int // indices into IR.Processes
	WritePorts  []MemPortRef
	ReadPorts   []MemPortRef
}

// MemPortRef points at one write or read port of one memory.
type MemPortRef struct {
	Memory int // index into IR.Memories
	Port   int // index into the memory's WritePorts/ReadPorts
}

// Plan is the compiled scheduling result: a safe combinational order
// plus clock groups, shared by every execution backend — only the
// interpreter in package sim consumes it today, but nothing here is
// interpreter-specific.
type Plan struct {
	CombinationalOrder []int // indices into IR.Assigns, safe execution order
	ClockGroups        map[int]*ClockGroup
	ClockOrder         []int // clock signal indices, in first-seen order
}

// CombinationalCycleError reports a non-trivial strongly connected
// component in the assign dependency graph.
type CombinationalCycleError struct {
	Signals []string
}

func (e *CombinationalCycleError) Error() string {
	return fmt.Sprintf("combinational cycle among signals: %v", e.Signals)
}

// Compile builds a Plan from a loaded IR, or returns
// *CombinationalCycleError if the assigns form a cycle.
func Compile(doc *ir.IR) (*Plan, error) {
	order, err := topoSortAssigns(doc)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		CombinationalOrder: order,
		ClockGroups:        make(map[int]*ClockGroup),
	}

	groupFor := func(clockSignal int) *ClockGroup {
		g, ok := plan.ClockGroups[clockSignal]
		if !ok {
			g = &ClockGroup{ClockSignal: clockSignal}
			plan.ClockGroups[clockSignal] = g
			plan.ClockOrder = append(plan.ClockOrder, clockSignal)
		}
		return g
	}

	for i, proc := range doc.Processes {
		g := groupFor(proc.Clock)
		g.Processes = append(g.Processes, i)
	}
	for mi, mem := range doc.Memories {
		for pi := range mem.WritePorts {
			g := groupFor(mem.WritePorts[pi].Clock)
			g.WritePorts = append(g.WritePorts, MemPortRef{Memory: mi, Port: pi})
		}
		for pi := range mem.ReadPorts {
			g := groupFor(mem.ReadPorts[pi].Clock)
			g.ReadPorts = append(g.ReadPorts, MemPortRef{Memory: mi, Port: pi})
		}
	}

	return plan, nil
}

// topoSortAssigns runs Tarjan SCC over the assign "reads" graph: node
// i is ir.Assigns[i], with an edge i -> j whenever assign i reads a
// signal driven by assign j. Any SCC larger than one node, or a
// self-loop, is a combinational cycle.
func topoSortAssigns(doc *ir.IR) ([]int, error) {
	n := len(doc.Assigns)

	// driverOfSignal maps a driven signal index to the assign that
	// drives it, so reads can be translated into assign-to-assign
	// edges.
	driverOfSignal := make(map[int]int, n)
	for i, a := range doc.Assigns {
		driverOfSignal[a.Target] = i
	}

	adj := make([][]int, n)
	for i, a := range doc.Assigns {
		reads := make(map[int]bool)
		ir.ReadSignals(doc.Arena, a.Expr, reads)
		seen := make(map[int]bool)
		for sig := range reads {
			if j, ok := driverOfSignal[sig]; ok {
				if j == i {
					return nil, &CombinationalCycleError{Signals: []string{doc.Signals[a.Target].Name}}
				}
				if !seen[j] {
					seen[j] = true
					adj[i] = append(adj[i], j)
				}
			}
		}
	}

	tj := newTarjan(n, adj)
	sccs := tj.run()

	order := make([]int, 0, n)
	for _, scc := range sccs {
		if len(scc) > 1 {
			names := make([]string, 0, len(scc))
			for _, idx := range scc {
				names = append(names, doc.Signals[doc.Assigns[idx].Target].Name)
			}
			sort.Strings(names)
			return nil, &CombinationalCycleError{Signals: names}
		}
		order = append(order, scc[0])
	}
	// Edge i -> j means assign i reads a signal j drives, i.e. i
	// depends on j. Tarjan completes (and appends to sccs) a node's
	// component only once every component it has edges into has
	// already completed, so sccs is already emitted dependency-first:
	// j appears before i. That is exactly the order assigns must run
	// in, so no further reversal is needed.
	return order, nil
}

// tarjan is an iterative (explicit stack) strongly-connected
// components solver, avoiding recursion depth proportional to
// netlist size.
type tarjan struct {
	adj     [][]int
	index   []int
	low     []int
	onStack []bool
	stack   []int
	counter int
	sccs    [][]int
}

func newTarjan(n int, adj [][]int) *tarjan {
	t := &tarjan{adj: adj}
	t.index = make([]int, n)
	t.low = make([]int, n)
	t.onStack = make([]bool, n)
	for i := range t.index {
		t.index[i] = -1
	}
	return t
}

type frame struct {
	node     int
	childPos int
}

func (t *tarjan) run() [][]int {
	for v := range t.adj {
		if t.index[v] == -1 {
			t.strongConnect(v)
		}
	}
	return t.sccs
}

func (t *tarjan) strongConnect(start int) {
	var work []frame
	work = append(work, frame{node: start})
	t.visit(start)

	for len(work) > 0 {
		top := &work[len(work)-1]
		v := top.node
		if top.childPos < len(t.adj[v]) {
			w := t.adj[v][top.childPos]
			top.childPos++
			if t.index[w] == -1 {
				t.visit(w)
				work = append(work, frame{node: w})
			} else if t.onStack[w] {
				if t.index[w] < t.low[v] {
					t.low[v] = t.index[w]
				}
			}
			continue
		}
		// all children processed; pop and propagate low-link
		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := work[len(work)-1].node
			if t.low[v] < t.low[parent] {
				t.low[parent] = t.low[v]
			}
		}
		if t.low[v] == t.index[v] {
			var scc []int
			for {
				w := t.stack[len(t.stack)-1]
				t.stack = t.stack[:len(t.stack)-1]
				t.onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			t.sccs = append(t.sccs, scc)
		}
	}
}

func (t *tarjan) visit(v int) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true
}
