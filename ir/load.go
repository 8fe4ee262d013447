package ir

import (
	"encoding/json"
	"fmt"
)

// The flattening separator joins a child module's local name onto its
// parent's path.
const hierarchySeparator = "__"

// jsonExpr mirrors the tagged-variant expression shape as it appears
// on the wire; Load walks it recursively into the flat ExprArena.
type jsonExpr struct {
	Kind string `json:"kind"`

	Signal string `json:"signal,omitempty"`

	Value *uint64 `json:"value,omitempty"`
	Width int     `json:"width,omitempty"`

	Op string      `json:"op,omitempty"`
	L  *jsonExpr   `json:"l,omitempty"`
	R  *jsonExpr   `json:"r,omitempty"`
	X  *jsonExpr   `json:"x,omitempty"`

	Hi int `json:"hi,omitempty"`
	Lo int `json:"lo,omitempty"`

	Parts []*jsonExpr `json:"parts,omitempty"`

	Selector *jsonExpr       `json:"selector,omitempty"`
	Cases    []jsonMuxCase   `json:"cases,omitempty"`
	Default  *jsonExpr       `json:"default,omitempty"`

	NewWidth int  `json:"new_width,omitempty"`
	Signed   bool `json:"signed,omitempty"`
}

type jsonMuxCase struct {
	Value uint64    `json:"value"`
	Expr  *jsonExpr `json:"expr"`
}

type jsonPort struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
	Dir   string `json:"dir"` // "in" or "out"
}

type jsonNet struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
}

type jsonReg struct {
	Name             string  `json:"name"`
	Width            int     `json:"width"`
	Next             jsonExpr `json:"next"`
	Clock            string  `json:"clock"`
	Reset            string  `json:"reset,omitempty"`
	ResetActiveLevel uint64  `json:"reset_active_level,omitempty"`
	ResetValue       uint64  `json:"reset_value,omitempty"`
	Enable           *jsonExpr `json:"enable,omitempty"`
}

type jsonMemWritePort struct {
	Addr   jsonExpr `json:"addr"`
	Data   jsonExpr `json:"data"`
	Enable jsonExpr `json:"enable"`
	Clock  string   `json:"clock"`
}

type jsonMemReadPort struct {
	Addr       jsonExpr `json:"addr"`
	Enable     jsonExpr `json:"enable"`
	Clock      string   `json:"clock"`
	DataSignal string   `json:"data_signal"`
}

type jsonMemory struct {
	Name         string             `json:"name"`
	Depth        int                `json:"depth"`
	ElementWidth int                `json:"element_width"`
	WritePorts   []jsonMemWritePort `json:"write_ports,omitempty"`
	ReadPorts    []jsonMemReadPort  `json:"read_ports,omitempty"`
}

type jsonAssign struct {
	Target string   `json:"target"`
	Expr   jsonExpr `json:"expr"`
}

type jsonProcStmt struct {
	Target string    `json:"target"`
	Next   jsonExpr  `json:"next"`
	Enable *jsonExpr `json:"enable,omitempty"`
}

type jsonProcess struct {
	Clock            string         `json:"clock"`
	Reset            string         `json:"reset,omitempty"`
	ResetActiveLevel uint64         `json:"reset_active_level,omitempty"`
	Body             []jsonProcStmt `json:"body"`
}

type jsonDoc struct {
	Ports      []jsonPort    `json:"ports,omitempty"`
	Nets       []jsonNet     `json:"nets,omitempty"`
	Regs       []jsonReg     `json:"regs,omitempty"`
	Memories   []jsonMemory  `json:"memories,omitempty"`
	Assigns    []jsonAssign  `json:"assigns,omitempty"`
	Processes  []jsonProcess `json:"processes,omitempty"`
	Children   []jsonChild   `json:"children,omitempty"`
}

type jsonChild struct {
	Name string  `json:"name"`
	Doc  jsonDoc `json:"doc"`
}

// Load parses a JSON IR document, flattens any hierarchy, validates
// it, and returns a fully resolved IR ready for scheduling.
func Load(data []byte) (*IR, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedJSONError{Err: err}
	}

	flat := jsonDoc{}
	flatten("", doc, &flat)

	out := &IR{
		Arena:          NewExprArena(),
		nameToIndex:    make(map[string]int),
		clockListIndex: make(map[int]int),
	}

	if err := declareSignals(out, flat); err != nil {
		return nil, err
	}

	driven := make(map[int]bool)

	for _, a := range flat.Assigns {
		targetIdx, err := resolve(out, a.Target)
		if err != nil {
			return nil, err
		}
		if driven[targetIdx] {
			return nil, &MultipleDriversError{Signal: a.Target}
		}
		driven[targetIdx] = true
		exprID, err := buildExpr(out, &a.Expr)
		if err != nil {
			return nil, err
		}
		out.Assigns = append(out.Assigns, Assign{Target: targetIdx, Expr: exprID})
	}

	if err := loadRegs(out, flat, driven); err != nil {
		return nil, err
	}
	if err := loadMemories(out, flat, driven); err != nil {
		return nil, err
	}
	if err := loadProcesses(out, flat); err != nil {
		return nil, err
	}
	synthesizeImplicitProcesses(out)

	finalizeNameTables(out)
	return out, nil
}

// synthesizeImplicitProcesses wraps every register not already driven
// by an explicit "processes" entry in a single-statement Process of
// its own, using the Next/Enable/Reset the register's own JSON entry
// declared. A register is free-standing like this whenever its update
// rule never needed to share a clocked block with another register.
func synthesizeImplicitProcesses(out *IR) {
	covered := make(map[int]bool, len(out.Registers))
	for _, proc := range out.Processes {
		for _, stmt := range proc.Body {
			covered[stmt.Target] = true
		}
	}
	for i, reg := range out.Registers {
		if covered[i] {
			continue
		}
		out.Processes = append(out.Processes, Process{
			Clock:            reg.Clock,
			Reset:            reg.Reset,
			ResetActiveLevel: reg.ResetActiveLevel,
			Body: []ProcStmt{
				{Target: i, Next: reg.Next, Enable: reg.Enable},
			},
		})
		registerClock(out, reg.Clock)
	}
}

func flatten(prefix string, doc jsonDoc, out *jsonDoc) {
	qualify := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + hierarchySeparator + name
	}
	for _, p := range doc.Ports {
		p.Name = qualify(p.Name)
		out.Ports = append(out.Ports, p)
	}
	for _, n := range doc.Nets {
		n.Name = qualify(n.Name)
		out.Nets = append(out.Nets, n)
	}
	for _, r := range doc.Regs {
		r.Name = qualify(r.Name)
		r.Clock = qualify(r.Clock)
		if r.Reset != "" {
			r.Reset = qualify(r.Reset)
		}
		qualifyExpr(&r.Next, prefix)
		if r.Enable != nil {
			qualifyExpr(r.Enable, prefix)
		}
		out.Regs = append(out.Regs, r)
	}
	for _, m := range doc.Memories {
		m.Name = qualify(m.Name)
		for i := range m.WritePorts {
			m.WritePorts[i].Clock = qualify(m.WritePorts[i].Clock)
			qualifyExpr(&m.WritePorts[i].Addr, prefix)
			qualifyExpr(&m.WritePorts[i].Data, prefix)
			qualifyExpr(&m.WritePorts[i].Enable, prefix)
		}
		for i := range m.ReadPorts {
			m.ReadPorts[i].Clock = qualify(m.ReadPorts[i].Clock)
			m.ReadPorts[i].DataSignal = qualify(m.ReadPorts[i].DataSignal)
			qualifyExpr(&m.ReadPorts[i].Addr, prefix)
			qualifyExpr(&m.ReadPorts[i].Enable, prefix)
		}
		out.Memories = append(out.Memories, m)
	}
	for _, a := range doc.Assigns {
		a.Target = qualify(a.Target)
		qualifyExpr(&a.Expr, prefix)
		out.Assigns = append(out.Assigns, a)
	}
	for _, proc := range doc.Processes {
		proc.Clock = qualify(proc.Clock)
		if proc.Reset != "" {
			proc.Reset = qualify(proc.Reset)
		}
		for i := range proc.Body {
			proc.Body[i].Target = qualify(proc.Body[i].Target)
			qualifyExpr(&proc.Body[i].Next, prefix)
			if proc.Body[i].Enable != nil {
				qualifyExpr(proc.Body[i].Enable, prefix)
			}
		}
		out.Processes = append(out.Processes, proc)
	}
	for _, child := range doc.Children {
		childPrefix := qualify(child.Name)
		flatten(childPrefix, child.Doc, out)
	}
}

func qualifyExpr(e *jsonExpr, prefix string) {
	if e == nil || prefix == "" {
		return
	}
	qualify := func(name string) string { return prefix + hierarchySeparator + name }
	if e.Kind == "signal" {
		e.Signal = qualify(e.Signal)
	}
	qualifyExpr(e.L, prefix)
	qualifyExpr(e.R, prefix)
	qualifyExpr(e.X, prefix)
	for _, p := range e.Parts {
		qualifyExpr(p, prefix)
	}
	qualifyExpr(e.Selector, prefix)
	for i := range e.Cases {
		qualifyExpr(e.Cases[i].Expr, prefix)
	}
	qualifyExpr(e.Default, prefix)
}

func declareSignals(out *IR, flat jsonDoc) error {
	declare := func(name string, width int, kind SignalKind) error {
		if _, exists := out.nameToIndex[name]; exists {
			return &DuplicateSignalError{Name: name}
		}
		idx := len(out.Signals)
		out.Signals = append(out.Signals, Signal{Name: name, Width: width, Kind: kind, Index: idx})
		out.nameToIndex[name] = idx
		return nil
	}
	for _, p := range flat.Ports {
		kind := PortIn
		if p.Dir == "out" {
			kind = PortOut
		}
		if err := declare(p.Name, p.Width, kind); err != nil {
			return err
		}
	}
	for _, n := range flat.Nets {
		if err := declare(n.Name, n.Width, Net); err != nil {
			return err
		}
	}
	for _, r := range flat.Regs {
		if err := declare(r.Name, r.Width, Reg); err != nil {
			return err
		}
	}
	for _, m := range flat.Memories {
		for _, rp := range m.ReadPorts {
			// Read-port data signals are declared as regular nets by
			// the IR author; we only require they already exist.
			_ = rp
		}
	}
	return nil
}

func resolve(out *IR, name string) (int, error) {
	idx, ok := out.nameToIndex[name]
	if !ok {
		return 0, &UnknownSignalReferenceError{Name: name}
	}
	return idx, nil
}

func buildExpr(out *IR, e *jsonExpr) (ExprID, error) {
	switch e.Kind {
	case "signal":
		idx, err := resolve(out, e.Signal)
		if err != nil {
			return 0, err
		}
		return out.Arena.Signal(idx), nil
	case "literal":
		var v uint64
		if e.Value != nil {
			v = *e.Value
		}
		if e.Width <= 0 || e.Width > MaxWidth {
			return 0, &WidthMismatchError{Target: "literal", Want: MaxWidth, Got: e.Width}
		}
		return out.Arena.Literal(v, e.Width), nil
	case "binary":
		op, err := resolveBinOp(e.Op)
		if err != nil {
			return 0, err
		}
		l, err := buildExpr(out, e.L)
		if err != nil {
			return 0, err
		}
		r, err := buildExpr(out, e.R)
		if err != nil {
			return 0, err
		}
		return out.Arena.Binary(op, l, r), nil
	case "unary":
		op, err := resolveUnOp(e.Op)
		if err != nil {
			return 0, err
		}
		x, err := buildExpr(out, e.X)
		if err != nil {
			return 0, err
		}
		return out.Arena.Unary(op, x), nil
	case "slice":
		x, err := buildExpr(out, e.X)
		if err != nil {
			return 0, err
		}
		if e.Lo < 0 || e.Hi < e.Lo {
			return 0, &WidthMismatchError{Target: "slice", Want: e.Hi, Got: e.Lo}
		}
		return out.Arena.Slice(x, e.Hi, e.Lo), nil
	case "concat":
		parts := make([]ExprID, 0, len(e.Parts))
		for _, p := range e.Parts {
			id, err := buildExpr(out, p)
			if err != nil {
				return 0, err
			}
			parts = append(parts, id)
		}
		return out.Arena.Concat(parts), nil
	case "mux":
		sel, err := buildExpr(out, e.Selector)
		if err != nil {
			return 0, err
		}
		cases := make([]MuxCase, 0, len(e.Cases))
		for _, c := range e.Cases {
			cid, err := buildExpr(out, c.Expr)
			if err != nil {
				return 0, err
			}
			cases = append(cases, MuxCase{Value: c.Value, Expr: cid})
		}
		deflt, err := buildExpr(out, e.Default)
		if err != nil {
			return 0, err
		}
		return out.Arena.Mux(sel, cases, deflt), nil
	case "extend":
		x, err := buildExpr(out, e.X)
		if err != nil {
			return 0, err
		}
		return out.Arena.Extend(x, e.NewWidth, e.Signed), nil
	default:
		return 0, &MalformedJSONError{Err: fmt.Errorf("unknown expression kind %q", e.Kind)}
	}
}

func resolveBinOp(op string) (BinOp, error) {
	switch op {
	case "+":
		return OpAdd, nil
	case "-":
		return OpSub, nil
	case "*":
		return OpMul, nil
	case "&":
		return OpAnd, nil
	case "|":
		return OpOr, nil
	case "^":
		return OpXor, nil
	case "==":
		return OpEq, nil
	case "!=":
		return OpNeq, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "<<":
		return OpShl, nil
	case ">>":
		return OpShr, nil
	case ">>>":
		return OpShrSigned, nil
	case "/", "%":
		return 0, &UnsupportedOperationError{Op: op}
	default:
		return 0, &MalformedJSONError{Err: fmt.Errorf("unknown binary op %q", op)}
	}
}

func resolveUnOp(op string) (UnOp, error) {
	switch op {
	case "~":
		return OpNot, nil
	case "-":
		return OpNeg, nil
	case "!":
		return OpLogicalNot, nil
	case "&":
		return OpReduceAnd, nil
	case "|":
		return OpReduceOr, nil
	case "^":
		return OpReduceXor, nil
	default:
		return 0, &MalformedJSONError{Err: fmt.Errorf("unknown unary op %q", op)}
	}
}

func loadRegs(out *IR, flat jsonDoc, driven map[int]bool) error {
	for _, r := range flat.Regs {
		regIdx := out.nameToIndex[r.Name]
		clockIdx, err := resolve(out, r.Clock)
		if err != nil {
			return err
		}
		resetIdx := -1
		if r.Reset != "" {
			resetIdx, err = resolve(out, r.Reset)
			if err != nil {
				return err
			}
		}
		nextID, err := buildExpr(out, &r.Next)
		if err != nil {
			return err
		}
		enableID := ExprID(-1)
		if r.Enable != nil {
			enableID, err = buildExpr(out, r.Enable)
			if err != nil {
				return err
			}
		}
		out.Registers = append(out.Registers, Register{
			Signal:           regIdx,
			Next:             nextID,
			Clock:            clockIdx,
			Reset:            resetIdx,
			ResetActiveLevel: r.ResetActiveLevel,
			ResetValue:       r.ResetValue,
			Enable:           enableID,
		})
		registerClock(out, clockIdx)
	}
	return nil
}

func loadMemories(out *IR, flat jsonDoc, driven map[int]bool) error {
	for _, m := range flat.Memories {
		mem := Memory{
			Name:         m.Name,
			Depth:        m.Depth,
			ElementWidth: m.ElementWidth,
			Data:         make([]uint64, m.Depth),
		}
		for _, wp := range m.WritePorts {
			clockIdx, err := resolve(out, wp.Clock)
			if err != nil {
				return err
			}
			addrID, err := buildExpr(out, &wp.Addr)
			if err != nil {
				return err
			}
			dataID, err := buildExpr(out, &wp.Data)
			if err != nil {
				return err
			}
			enableID, err := buildExpr(out, &wp.Enable)
			if err != nil {
				return err
			}
			mem.WritePorts = append(mem.WritePorts, MemWritePort{
				Addr: addrID, Data: dataID, Enable: enableID, Clock: clockIdx,
			})
			registerClock(out, clockIdx)
		}
		for _, rp := range m.ReadPorts {
			clockIdx, err := resolve(out, rp.Clock)
			if err != nil {
				return err
			}
			dataSigIdx, err := resolve(out, rp.DataSignal)
			if err != nil {
				return err
			}
			if driven[dataSigIdx] {
				return &MultipleDriversError{Signal: rp.DataSignal}
			}
			driven[dataSigIdx] = true
			addrID, err := buildExpr(out, &rp.Addr)
			if err != nil {
				return err
			}
			enableID, err := buildExpr(out, &rp.Enable)
			if err != nil {
				return err
			}
			mem.ReadPorts = append(mem.ReadPorts, MemReadPort{
				Addr: addrID, Enable: enableID, Clock: clockIdx, DataSignal: dataSigIdx,
			})
			registerClock(out, clockIdx)
		}
		out.Memories = append(out.Memories, mem)
	}
	return nil
}

func loadProcesses(out *IR, flat jsonDoc) error {
	for _, p := range flat.Processes {
		clockIdx, err := resolve(out, p.Clock)
		if err != nil {
			return err
		}
		resetIdx := -1
		if p.Reset != "" {
			resetIdx, err = resolve(out, p.Reset)
			if err != nil {
				return err
			}
		}
		proc := Process{Clock: clockIdx, Reset: resetIdx, ResetActiveLevel: p.ResetActiveLevel}
		for _, stmt := range p.Body {
			regSignalIdx, err := resolve(out, stmt.Target)
			if err != nil {
				return err
			}
			regIdx := -1
			for i := range out.Registers {
				if out.Registers[i].Signal == regSignalIdx {
					regIdx = i
					break
				}
			}
			if regIdx == -1 {
				return &UnknownSignalReferenceError{Name: stmt.Target}
			}
			nextID, err := buildExpr(out, &stmt.Next)
			if err != nil {
				return err
			}
			enableID := ExprID(-1)
			if stmt.Enable != nil {
				enableID, err = buildExpr(out, stmt.Enable)
				if err != nil {
					return err
				}
			}
			proc.Body = append(proc.Body, ProcStmt{Target: regIdx, Next: nextID, Enable: enableID})
		}
		out.Processes = append(out.Processes, proc)
		registerClock(out, clockIdx)
	}
	return nil
}

func registerClock(out *IR, signalIdx int) {
	if _, ok := out.clockListIndex[signalIdx]; ok {
		return
	}
	out.clockListIndex[signalIdx] = len(out.clockSignals)
	out.clockSignals = append(out.clockSignals, signalIdx)
}

func finalizeNameTables(out *IR) {
	for _, s := range out.Signals {
		switch s.Kind {
		case PortIn:
			out.inputNames = append(out.inputNames, s.Name)
		case PortOut:
			out.outputNames = append(out.outputNames, s.Name)
		}
	}
}
