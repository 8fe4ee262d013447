package ir

import "testing"

func TestLoadSimpleCombinationalAssign(t *testing.T) {
	doc := []byte(`{
		"ports": [
			{"name": "a", "width": 8, "dir": "in"},
			{"name": "b", "width": 8, "dir": "in"},
			{"name": "sum", "width": 8, "dir": "out"}
		],
		"assigns": [
			{"target": "sum", "expr": {"kind": "binary", "op": "+",
				"l": {"kind": "signal", "signal": "a"},
				"r": {"kind": "signal", "signal": "b"}}}
		]
	}`)
	out, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := out.SignalCount(), 3; got != want {
		t.Fatalf("SignalCount() = %d, want %d", got, want)
	}
	if got, want := len(out.Assigns), 1; got != want {
		t.Fatalf("len(Assigns) = %d, want %d", got, want)
	}
	if idx := out.GetSignalIdx("sum"); idx < 0 {
		t.Fatalf("GetSignalIdx(sum) = -1, want a valid index")
	}
}

func TestLoadRegisterWithResetAndEnable(t *testing.T) {
	doc := []byte(`{
		"ports": [
			{"name": "clk", "width": 1, "dir": "in"},
			{"name": "rst", "width": 1, "dir": "in"},
			{"name": "en", "width": 1, "dir": "in"}
		],
		"regs": [
			{"name": "counter", "width": 8, "clock": "clk", "reset": "rst",
			 "reset_active_level": 1, "reset_value": 0,
			 "enable": {"kind": "signal", "signal": "en"},
			 "next": {"kind": "binary", "op": "+",
				"l": {"kind": "signal", "signal": "counter"},
				"r": {"kind": "literal", "value": 1, "width": 8}}}
		]
	}`)
	out, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := out.RegCount(), 1; got != want {
		t.Fatalf("RegCount() = %d, want %d", got, want)
	}
	reg := out.Registers[0]
	if reg.Enable < 0 {
		t.Fatalf("Registers[0].Enable = %d, want a valid ExprID", reg.Enable)
	}
	if reg.Reset < 0 {
		t.Fatalf("Registers[0].Reset = %d, want a valid signal index", reg.Reset)
	}
}

func TestLoadDuplicateSignalRejected(t *testing.T) {
	doc := []byte(`{
		"ports": [
			{"name": "a", "width": 1, "dir": "in"}
		],
		"nets": [
			{"name": "a", "width": 1}
		]
	}`)
	_, err := Load(doc)
	if err == nil {
		t.Fatalf("Load with duplicate signal name: got nil error")
	}
	if _, ok := err.(*DuplicateSignalError); !ok {
		t.Fatalf("Load error type = %T, want *DuplicateSignalError", err)
	}
}

func TestLoadUnknownSignalReferenceRejected(t *testing.T) {
	doc := []byte(`{
		"ports": [{"name": "out", "width": 1, "dir": "out"}],
		"assigns": [
			{"target": "out", "expr": {"kind": "signal", "signal": "never_declared"}}
		]
	}`)
	_, err := Load(doc)
	if err == nil {
		t.Fatalf("Load with unknown signal reference: got nil error")
	}
	if _, ok := err.(*UnknownSignalReferenceError); !ok {
		t.Fatalf("Load error type = %T, want *UnknownSignalReferenceError", err)
	}
}

func TestLoadMultipleDriversRejected(t *testing.T) {
	doc := []byte(`{
		"ports": [{"name": "out", "width": 1, "dir": "out"}],
		"nets": [{"name": "x", "width": 1}],
		"assigns": [
			{"target": "out", "expr": {"kind": "signal", "signal": "x"}},
			{"target": "out", "expr": {"kind": "literal", "value": 1, "width": 1}}
		]
	}`)
	_, err := Load(doc)
	if err == nil {
		t.Fatalf("Load with two drivers of the same signal: got nil error")
	}
	if _, ok := err.(*MultipleDriversError); !ok {
		t.Fatalf("Load error type = %T, want *MultipleDriversError", err)
	}
}

func TestLoadDivisionRejectedAsUnsupported(t *testing.T) {
	doc := []byte(`{
		"ports": [
			{"name": "a", "width": 8, "dir": "in"},
			{"name": "out", "width": 8, "dir": "out"}
		],
		"assigns": [
			{"target": "out", "expr": {"kind": "binary", "op": "/",
				"l": {"kind": "signal", "signal": "a"},
				"r": {"kind": "literal", "value": 2, "width": 8}}}
		]
	}`)
	_, err := Load(doc)
	if err == nil {
		t.Fatalf("Load with division operator: got nil error")
	}
	if _, ok := err.(*UnsupportedOperationError); !ok {
		t.Fatalf("Load error type = %T, want *UnsupportedOperationError", err)
	}
}

func TestLoadMalformedJSONRejected(t *testing.T) {
	_, err := Load([]byte(`{not valid json`))
	if err == nil {
		t.Fatalf("Load with malformed JSON: got nil error")
	}
	if _, ok := err.(*MalformedJSONError); !ok {
		t.Fatalf("Load error type = %T, want *MalformedJSONError", err)
	}
}

func TestLoadHierarchyFlattensChildNames(t *testing.T) {
	doc := []byte(`{
		"ports": [{"name": "top_in", "width": 1, "dir": "in"}],
		"children": [
			{"name": "sub", "doc": {
				"nets": [{"name": "inner", "width": 1}],
				"assigns": [
					{"target": "inner", "expr": {"kind": "literal", "value": 1, "width": 1}}
				]
			}}
		]
	}`)
	out, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !out.HasSignal("sub__inner") {
		t.Fatalf("flattened hierarchy: HasSignal(sub__inner) = false, want true")
	}
}
