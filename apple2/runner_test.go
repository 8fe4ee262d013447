package apple2

import (
	"bytes"
	"testing"

	"github.com/jyane/hdlsim/ir"
	"github.com/jyane/hdlsim/sched"
	"github.com/jyane/hdlsim/sim"
)

// testIR builds a small Apple-II-shaped netlist exercising the
// canonical bus names: an incrementing address counter drives
// ram_addr, two toggling registers drive ram_we and speaker, and
// read_key mirrors the top bit of k, giving RunCPUCycles something
// concrete to decode, write and detect edges on.
func testIR(t *testing.T) (*ir.IR, *sched.Plan) {
	t.Helper()
	doc := []byte(`{
		"ports": [
			{"name": "clk_14m", "width": 1, "dir": "in"},
			{"name": "ram_do", "width": 8, "dir": "in"},
			{"name": "k", "width": 8, "dir": "in"},
			{"name": "ram_addr", "width": 16, "dir": "out"},
			{"name": "ram_we", "width": 1, "dir": "out"},
			{"name": "d", "width": 8, "dir": "out"},
			{"name": "speaker", "width": 1, "dir": "out"},
			{"name": "read_key", "width": 1, "dir": "out"}
		],
		"regs": [
			{"name": "addrctr", "width": 16, "clock": "clk_14m",
			 "next": {"kind": "binary", "op": "+",
				"l": {"kind": "signal", "signal": "addrctr"},
				"r": {"kind": "literal", "value": 1, "width": 16}}},
			{"name": "we_reg", "width": 1, "clock": "clk_14m",
			 "next": {"kind": "unary", "op": "~", "x": {"kind": "signal", "signal": "we_reg"}}},
			{"name": "speaker_reg", "width": 1, "clock": "clk_14m",
			 "next": {"kind": "unary", "op": "~", "x": {"kind": "signal", "signal": "speaker_reg"}}}
		],
		"assigns": [
			{"target": "ram_addr", "expr": {"kind": "signal", "signal": "addrctr"}},
			{"target": "ram_we", "expr": {"kind": "signal", "signal": "we_reg"}},
			{"target": "d", "expr": {"kind": "slice", "x": {"kind": "signal", "signal": "addrctr"}, "hi": 7, "lo": 0}},
			{"target": "speaker", "expr": {"kind": "signal", "signal": "speaker_reg"}},
			{"target": "read_key", "expr": {"kind": "slice", "x": {"kind": "signal", "signal": "k"}, "hi": 7, "lo": 7}}
		]
	}`)
	out, err := ir.Load(doc)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	plan, err := sched.Compile(out)
	if err != nil {
		t.Fatalf("sched.Compile: %v", err)
	}
	return out, plan
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	doc, plan := testIR(t)
	k := sim.NewKernel(doc, plan)
	if err := k.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return NewRunner(k, DefaultSignalNames())
}

func TestRunCPUCyclesWritesDecodedRAMAddress(t *testing.T) {
	r := newTestRunner(t)
	r.SetSubCyclesPerCPUCycle(1)
	if _, err := r.RunCPUCycles(1, 0, false); err != nil {
		t.Fatalf("RunCPUCycles: %v", err)
	}
	// After one rising edge, addrctr=1, we_reg=1, d=1: RAM[1] must hold 1.
	got := r.ReadRAM(1, 1)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("ReadRAM(1, 1) = %v, want [1]", got)
	}
}

func TestRunCPUCyclesCountsSpeakerToggles(t *testing.T) {
	r := newTestRunner(t)
	r.SetSubCyclesPerCPUCycle(1)
	result, err := r.RunCPUCycles(4, 0, false)
	if err != nil {
		t.Fatalf("RunCPUCycles: %v", err)
	}
	// speaker_reg inverts every sub-cycle, so every one of 4 sub-cycles toggles it.
	if got, want := result.SpeakerToggles, 4; got != want {
		t.Fatalf("result.SpeakerToggles = %d, want %d", got, want)
	}
	if got, want := r.SpeakerToggles(), uint64(4); got != want {
		t.Fatalf("SpeakerToggles() = %d, want %d", got, want)
	}
}

func TestRunCPUCyclesDetectsKeyReadyRisingEdge(t *testing.T) {
	r := newTestRunner(t)
	r.SetSubCyclesPerCPUCycle(2)
	result, err := r.RunCPUCycles(1, 0, true)
	if err != nil {
		t.Fatalf("RunCPUCycles: %v", err)
	}
	if !result.KeyCleared {
		t.Fatalf("result.KeyCleared = false, want true (read_key rising edge on sub-cycle 1)")
	}
	if got, want := result.CyclesRun, 2; got != want {
		t.Fatalf("result.CyclesRun = %d, want %d", got, want)
	}
}

func TestRunCPUCyclesCumulativeCounters(t *testing.T) {
	r := newTestRunner(t)
	r.SetSubCyclesPerCPUCycle(1)
	if _, err := r.RunCPUCycles(3, 0, false); err != nil {
		t.Fatalf("RunCPUCycles: %v", err)
	}
	if got, want := r.CyclesRun(), uint64(3); got != want {
		t.Fatalf("CyclesRun() = %d, want %d", got, want)
	}
	if _, err := r.RunCPUCycles(2, 0, false); err != nil {
		t.Fatalf("RunCPUCycles: %v", err)
	}
	if got, want := r.CyclesRun(), uint64(5); got != want {
		t.Fatalf("CyclesRun() after a second batch = %d, want %d (cumulative)", got, want)
	}
}

func TestLoadROMAndReadMemoryAcrossBoundary(t *testing.T) {
	r := newTestRunner(t)
	rom := bytes.Repeat([]byte{0xEA}, romSize)
	rom[0] = 0x4C // distinguish the first ROM byte
	r.LoadROM(rom)
	r.WriteRAM(ramSize-1, []byte{0x11})

	if got := r.ReadMemory(ramSize-1, 1); len(got) != 1 || got[0] != 0x11 {
		t.Fatalf("ReadMemory(last RAM byte) = %v, want [0x11]", got)
	}
	if got := r.ReadMemory(romBase, 1); len(got) != 1 || got[0] != 0x4C {
		t.Fatalf("ReadMemory(first ROM byte) = %v, want [0x4C]", got)
	}
	// romBase sits above ramSize, leaving an unmapped gap that decodes to 0.
	if got := r.ReadMemory(ramSize, 1); len(got) != 1 || got[0] != 0 {
		t.Fatalf("ReadMemory(unmapped gap) = %v, want [0]", got)
	}
}

func TestLoadRAMClampsToExtent(t *testing.T) {
	r := newTestRunner(t)
	r.LoadRAM([]byte{1, 2, 3}, -1) // out of range, must be a silent no-op
	if got := r.ReadRAM(0, 3); !bytes.Equal(got, []byte{0, 0, 0}) {
		t.Fatalf("ReadRAM after out-of-range LoadRAM = %v, want all-zero", got)
	}
}

func TestTextRowAddressMatchesInterleavedLayout(t *testing.T) {
	cases := []struct {
		row  int
		want uint16
	}{
		{0, 0x0400},
		{1, 0x0480},
		{8, 0x0428},
		{23, 0x07D0},
	}
	for _, c := range cases {
		if got := TextRowAddress(c.row); got != c.want {
			t.Errorf("TextRowAddress(%d) = 0x%04x, want 0x%04x", c.row, got, c.want)
		}
	}
}

func TestHiResRowAddressMatchesInterleavedLayout(t *testing.T) {
	const page1 = 0x2000
	cases := []struct {
		row  int
		want uint16
	}{
		{0, 0x2000},
		{1, 0x2400},
		{8, 0x2080},
		{64, 0x2028},
	}
	for _, c := range cases {
		if got := HiResRowAddress(page1, c.row); got != c.want {
			t.Errorf("HiResRowAddress(%d) = 0x%04x, want 0x%04x", c.row, got, c.want)
		}
	}
}
