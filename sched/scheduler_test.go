package sched

import (
	"testing"

	"github.com/jyane/hdlsim/ir"
)

func TestCompileOrdersAssignsDependencyFirst(t *testing.T) {
	// c = a + b; d = c + 1  (d depends on c, c depends on a and b)
	doc := []byte(`{
		"ports": [
			{"name": "a", "width": 8, "dir": "in"},
			{"name": "b", "width": 8, "dir": "in"},
			{"name": "d", "width": 8, "dir": "out"}
		],
		"nets": [{"name": "c", "width": 8}],
		"assigns": [
			{"target": "d", "expr": {"kind": "binary", "op": "+",
				"l": {"kind": "signal", "signal": "c"},
				"r": {"kind": "literal", "value": 1, "width": 8}}},
			{"target": "c", "expr": {"kind": "binary", "op": "+",
				"l": {"kind": "signal", "signal": "a"},
				"r": {"kind": "signal", "signal": "b"}}}
		]
	}`)
	out, err := ir.Load(doc)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	plan, err := Compile(out)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cIdx := out.GetSignalIdx("c")
	dIdx := out.GetSignalIdx("d")
	posOf := func(target int) int {
		for pos, assignIdx := range plan.CombinationalOrder {
			if out.Assigns[assignIdx].Target == target {
				return pos
			}
		}
		t.Fatalf("target signal %d not found in CombinationalOrder", target)
		return -1
	}
	cPos, dPos := posOf(cIdx), posOf(dIdx)
	if cPos >= dPos {
		t.Fatalf("assign order: c at position %d, d at position %d; want c before d", cPos, dPos)
	}
}

func TestCompileRejectsCombinationalCycle(t *testing.T) {
	// x = y; y = x  -- a direct two-node cycle.
	doc := []byte(`{
		"nets": [{"name": "x", "width": 1}, {"name": "y", "width": 1}],
		"assigns": [
			{"target": "x", "expr": {"kind": "signal", "signal": "y"}},
			{"target": "y", "expr": {"kind": "signal", "signal": "x"}}
		]
	}`)
	out, err := ir.Load(doc)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	_, err = Compile(out)
	if err == nil {
		t.Fatalf("Compile with a combinational cycle: got nil error")
	}
	if _, ok := err.(*CombinationalCycleError); !ok {
		t.Fatalf("Compile error type = %T, want *CombinationalCycleError", err)
	}
}

func TestCompileGroupsProcessesByClock(t *testing.T) {
	doc := []byte(`{
		"ports": [{"name": "clk", "width": 1, "dir": "in"}],
		"regs": [
			{"name": "r1", "width": 8, "clock": "clk",
			 "next": {"kind": "literal", "value": 1, "width": 8}},
			{"name": "r2", "width": 8, "clock": "clk",
			 "next": {"kind": "literal", "value": 2, "width": 8}}
		]
	}`)
	out, err := ir.Load(doc)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	plan, err := Compile(out)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got, want := len(plan.ClockOrder), 1; got != want {
		t.Fatalf("len(ClockOrder) = %d, want %d (one distinct clock)", got, want)
	}
	clkIdx := out.GetSignalIdx("clk")
	group, ok := plan.ClockGroups[clkIdx]
	if !ok {
		t.Fatalf("ClockGroups missing entry for clk")
	}
	if got, want := len(group.Processes), 2; got != want {
		t.Fatalf("len(group.Processes) = %d, want %d (each standalone reg gets its own implicit process)", got, want)
	}
}
