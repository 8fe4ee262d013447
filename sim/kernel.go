// Package sim implements the simulation kernel: it
// owns the signal vector, register shadow and memory arrays, and
// exposes poke/peek/evaluate/tick/reset over a compiled sched.Plan.
//
// Grounded on nes.NesConsole.Step's "drive cycles, service memory,
// accumulate host counters" shape (jyane-jnes nes/console.go),
// generalized from a fixed NES clock ratio to an arbitrary number of
// IR-declared clocks.
package sim

import (
	"fmt"

	"github.com/jyane/hdlsim/ir"
	"github.com/jyane/hdlsim/sched"
	"github.com/jyane/hdlsim/trace"
)

// UnknownClockError is returned by TickForced for an unregistered
// clock-list index; it is a non-fatal no-op.
type UnknownClockError struct{ ClockListIdx int }

func (e *UnknownClockError) Error() string {
	return fmt.Sprintf("unknown clock list index: %d", e.ClockListIdx)
}

// OutOfBoundsSliceError and ShiftAmountTooLargeError should never
// occur against a well-formed IR, whose validator guarantees it; if
// they do, the kernel is marked fatal.
type OutOfBoundsSliceError struct{ Hi, Lo int }

func (e *OutOfBoundsSliceError) Error() string {
	return fmt.Sprintf("slice out of bounds: hi=%d lo=%d", e.Hi, e.Lo)
}

type ShiftAmountTooLargeError struct{ Amount uint64 }

func (e *ShiftAmountTooLargeError) Error() string {
	return fmt.Sprintf("shift amount too large: %d", e.Amount)
}

// Kernel owns all mutable simulation state for one netlist instance.
// A Kernel is single-threaded: the caller must not invoke it
// concurrently from more than one goroutine, but independent Kernels
// share no state and may run on independent goroutines freely.
type Kernel struct {
	doc  *ir.IR
	plan *sched.Plan

	v      []uint64 // signal vector, dense by signal index
	widths []int    // cached per-signal widths, parallel to v

	shadow    []uint64 // staged register next-values between sample and commit
	shadowSet []bool

	prevLevel map[int]bool // clock signal index -> previous sampled level

	timeTick uint64

	recorder *trace.Recorder

	fatal error
}

// KernelOption configures a Kernel at construction time.
type KernelOption func(*Kernel)

// WithTrace attaches a trace recorder; every Evaluate/Tick captures a
// sample into it automatically.
func WithTrace(r *trace.Recorder) KernelOption {
	return func(k *Kernel) { k.recorder = r }
}

// NewKernel allocates a Kernel's state for doc, compiled per plan.
func NewKernel(doc *ir.IR, plan *sched.Plan, opts ...KernelOption) *Kernel {
	k := &Kernel{
		doc:       doc,
		plan:      plan,
		v:         make([]uint64, doc.SignalCount()),
		widths:    make([]int, doc.SignalCount()),
		shadow:    make([]uint64, doc.RegCount()),
		shadowSet: make([]bool, doc.RegCount()),
		prevLevel: make(map[int]bool, doc.NumClocks()),
	}
	for i, s := range doc.Signals {
		k.widths[i] = s.Width
	}
	for _, opts := range opts {
		opts(k)
	}
	return k
}

// IR returns the loaded netlist this kernel runs.
func (k *Kernel) IR() *ir.IR { return k.doc }

// TimeTick returns the kernel's monotonic tick counter.
func (k *Kernel) TimeTick() uint64 { return k.timeTick }

// Err returns the sticky fatal error, if the kernel has been marked
// unusable by a runtime failure that should never occur against
// well-formed IR.
func (k *Kernel) Err() error { return k.fatal }

func (k *Kernel) fail(err error) error {
	if k.fatal == nil {
		k.fatal = err
	}
	return err
}

// Poke writes value, masked to the signal's declared width, into the
// signal vector. No combinational propagation happens until the next
// Evaluate or Tick.
func (k *Kernel) Poke(signalIdx int, value uint64) error {
	if k.fatal != nil {
		return k.fatal
	}
	k.v[signalIdx] = maskTo(value, k.widths[signalIdx])
	return nil
}

// PokeByName resolves name and pokes it.
func (k *Kernel) PokeByName(name string, value uint64) error {
	idx := k.doc.GetSignalIdx(name)
	if idx < 0 {
		return &ir.UnknownSignalReferenceError{Name: name}
	}
	return k.Poke(idx, value)
}

// Peek returns the signal's current value, masked to its declared
// width.
func (k *Kernel) Peek(signalIdx int) uint64 {
	return maskTo(k.v[signalIdx], k.widths[signalIdx])
}

// PeekByName resolves name and peeks it; returns 0 if unknown.
func (k *Kernel) PeekByName(name string) uint64 {
	idx := k.doc.GetSignalIdx(name)
	if idx < 0 {
		return 0
	}
	return k.Peek(idx)
}

// Evaluate runs the combinational order once, in sequence, and
// increments TimeTick by 1. This is one linear pass, never a
// fixed-point loop: the scheduler's topological order already
// guarantees a settled result. Every clock found low after the pass
// has its previous level cleared, so the next Tick that sees it high
// counts a rising edge; a clock found high is left for Tick to sample.
func (k *Kernel) Evaluate() error {
	if k.fatal != nil {
		return k.fatal
	}
	for _, assignIdx := range k.plan.CombinationalOrder {
		a := k.doc.Assigns[assignIdx]
		val := ir.Eval(k.doc.Arena, a.Expr, k.v, k.widths)
		k.v[a.Target] = maskTo(val, k.widths[a.Target])
	}
	for _, clockSignal := range k.plan.ClockOrder {
		if k.v[clockSignal] == 0 {
			k.prevLevel[clockSignal] = false
		}
	}
	k.timeTick++
	k.capture()
	return nil
}

// Tick performs one rising-edge step on every active clock: stage
// register next-values from a pre-edge snapshot, commit, service
// memory ports, update previous-level bits, then Evaluate.
func (k *Kernel) Tick() error {
	if k.fatal != nil {
		return k.fatal
	}
	for _, clockSignal := range k.plan.ClockOrder {
		if err := k.tickClock(clockSignal); err != nil {
			return k.fail(err)
		}
	}
	k.timeTick++
	return k.Evaluate()
}

// TickForced performs one rising-edge step restricted to a single
// registered clock, for harnesses driving one clock deterministically.
// An unregistered clockListIdx is a no-op returning *UnknownClockError.
func (k *Kernel) TickForced(clockListIdx int) error {
	if k.fatal != nil {
		return k.fatal
	}
	clockSignal := k.doc.ClockSignal(clockListIdx)
	if clockSignal < 0 {
		return &UnknownClockError{ClockListIdx: clockListIdx}
	}
	if err := k.tickClock(clockSignal); err != nil {
		return k.fail(err)
	}
	k.timeTick++
	return k.Evaluate()
}

// tickClock samples and commits a single clock's rising edge, if one
// occurred, and services its memory ports. Register sampling reads a
// pre-edge snapshot of v: no staged value from this same edge is ever
// visible to another statement sampled on the same edge.
func (k *Kernel) tickClock(clockSignal int) error {
	rose := k.v[clockSignal] == 1 && !k.prevLevel[clockSignal]
	group, hasGroup := k.plan.ClockGroups[clockSignal]
	if !rose {
		k.prevLevel[clockSignal] = k.v[clockSignal] == 1
		return nil
	}

	if hasGroup {
		for _, procIdx := range group.Processes {
			proc := k.doc.Processes[procIdx]
			resetActive := proc.Reset >= 0 && k.v[proc.Reset] == proc.ResetActiveLevel
			for _, stmt := range proc.Body {
				reg := k.doc.Registers[stmt.Target]
				var next uint64
				switch {
				case resetActive:
					next = reg.ResetValue
				case stmt.Enable >= 0 && ir.Eval(k.doc.Arena, stmt.Enable, k.v, k.widths) == 0:
					next = k.v[reg.Signal] // enable low: hold
				default:
					next = ir.Eval(k.doc.Arena, stmt.Next, k.v, k.widths)
				}
				k.shadow[stmt.Target] = maskTo(next, k.widths[reg.Signal])
				k.shadowSet[stmt.Target] = true
			}
		}
		for _, procIdx := range group.Processes {
			for _, stmt := range k.doc.Processes[procIdx].Body {
				if k.shadowSet[stmt.Target] {
					reg := k.doc.Registers[stmt.Target]
					k.v[reg.Signal] = k.shadow[stmt.Target]
					k.shadowSet[stmt.Target] = false
				}
			}
		}

		// Stage writes but don't commit them yet: read ports below must
		// still see the pre-edge snapshot, so a write on this edge is
		// never observed by a read on this same edge.
		type pendingWrite struct {
			memIdx, addr int
			data         uint64
		}
		var writes []pendingWrite
		for _, ref := range group.WritePorts {
			mem := &k.doc.Memories[ref.Memory]
			wp := mem.WritePorts[ref.Port]
			if ir.Eval(k.doc.Arena, wp.Enable, k.v, k.widths) == 0 {
				continue
			}
			addr := int(ir.Eval(k.doc.Arena, wp.Addr, k.v, k.widths))
			data := maskTo(ir.Eval(k.doc.Arena, wp.Data, k.v, k.widths), mem.ElementWidth)
			writes = append(writes, pendingWrite{memIdx: ref.Memory, addr: addr, data: data})
		}
		for _, ref := range group.ReadPorts {
			mem := &k.doc.Memories[ref.Memory]
			rp := mem.ReadPorts[ref.Port]
			if ir.Eval(k.doc.Arena, rp.Enable, k.v, k.widths) == 0 {
				continue
			}
			addr := int(ir.Eval(k.doc.Arena, rp.Addr, k.v, k.widths))
			var data uint64
			if addr >= 0 && addr < len(mem.Data) {
				data = mem.Data[addr]
			}
			k.v[rp.DataSignal] = maskTo(data, k.widths[rp.DataSignal])
		}

		for _, w := range writes {
			mem := &k.doc.Memories[w.memIdx]
			if w.addr >= 0 && w.addr < len(mem.Data) {
				mem.Data[w.addr] = w.data
			}
		}
	}

	k.prevLevel[clockSignal] = true
	return nil
}

// Reset zeroes every register and memory, runs one Evaluate, and
// clears the trace buffer while preserving the trace subscription.
// Input ports are left untouched; callers must re-drive them.
func (k *Kernel) Reset() error {
	if k.fatal != nil {
		return k.fatal
	}
	for _, reg := range k.doc.Registers {
		k.v[reg.Signal] = 0
	}
	for i := range k.doc.Memories {
		mem := &k.doc.Memories[i]
		for j := range mem.Data {
			mem.Data[j] = 0
		}
	}
	for clockSignal := range k.prevLevel {
		k.prevLevel[clockSignal] = false
	}
	if k.recorder != nil {
		k.recorder.Clear()
	}
	return k.Evaluate()
}

func (k *Kernel) capture() {
	if k.recorder != nil {
		k.recorder.Capture(k.timeTick, k.v)
	}
}

func maskTo(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}
