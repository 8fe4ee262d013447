// Package apple2 implements the batched Apple II host loop: it wraps
// a *sim.Kernel compiled from an Apple-II-shaped IR with host-side
// 48 KiB RAM, 12 KiB ROM, keyboard strobe and speaker toggle
// accounting, and drives many sub-cycles per call to minimize
// host/core round trips.
//
// Grounded on nes.NesConsole.Step and nes.CPUBus's address-decode
// switch (jyane-jnes nes/console.go, nes/cpubus.go): the same
// "decode an address against fixed windows, serve the right backing
// array, mutate host counters" shape, here scaled to the Apple II's
// flat memory map instead of the NES's PPU-register special cases,
// and batched across many sub-cycles in one call instead of one CPU
// step at a time.
package apple2

import (
	"github.com/golang/glog"
	"github.com/jyane/hdlsim/sim"
)

const (
	ramSize = 48 * 1024
	romBase = 0xD000
	romSize = 12 * 1024

	textPageStart = 0x0400
	textPageEnd   = 0x07FF

	// DefaultSubCyclesPerCPUCycle is the "full accuracy" setting:
	// 14 MHz sub-cycles per 6502 cycle. Smaller values are a
	// documented performance knob with implementation-defined
	// accuracy loss; correctness is only claimed at 14.
	DefaultSubCyclesPerCPUCycle = 14
)

// BatchResult is the batched execution summary: 16 bytes,
// little-endian, when marshaled.
type BatchResult struct {
	TextDirty      bool
	KeyCleared     bool
	CyclesRun      int
	SpeakerToggles int
}

// MarshalBinary encodes the result into the 16-byte little-endian
// layout the host ABI expects.
func (r BatchResult) MarshalBinary() []byte {
	out := make([]byte, 16)
	putBool32(out[0:4], r.TextDirty)
	putBool32(out[4:8], r.KeyCleared)
	putUint32(out[8:12], uint32(r.CyclesRun))
	putUint32(out[12:16], uint32(r.SpeakerToggles))
	return out
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putBool32(b []byte, v bool) {
	if v {
		putUint32(b, 1)
	} else {
		putUint32(b, 0)
	}
}

// Runner wraps a kernel compiled from an Apple-II-shaped IR (it must
// declare ram_addr, ram_we, d, ram_do, clk_14m, speaker, k and
// read_key signals) with host memory and batched execution.
type Runner struct {
	k *sim.Kernel

	ram [ramSize]byte
	rom [romSize]byte

	prevSpeaker bool
	prevReadKey bool
	cyclesRun   uint64
	toggles     uint64

	subCycles int

	sigRAMAddr, sigRAMWe, sigD, sigRAMDo int
	sigClk14M, sigSpeaker, sigK          int
	sigReadKey                          int
}

// SignalNames lets a caller override the default Apple-II signal
// names if its IR names them differently.
type SignalNames struct {
	RAMAddr, RAMWe, D, RAMDo string
	Clk14M, Speaker, K       string
	ReadKey                  string
}

// DefaultSignalNames matches the Apple II model's canonical bus names.
func DefaultSignalNames() SignalNames {
	return SignalNames{
		RAMAddr: "ram_addr", RAMWe: "ram_we", D: "d", RAMDo: "ram_do",
		Clk14M: "clk_14m", Speaker: "speaker", K: "k", ReadKey: "read_key",
	}
}

// NewRunner wraps k with host RAM/ROM and batched execution, resolving
// the Apple II bus signals by name.
func NewRunner(k *sim.Kernel, names SignalNames) *Runner {
	doc := k.IR()
	r := &Runner{
		k:         k,
		subCycles: DefaultSubCyclesPerCPUCycle,

		sigRAMAddr: doc.GetSignalIdx(names.RAMAddr),
		sigRAMWe:   doc.GetSignalIdx(names.RAMWe),
		sigD:       doc.GetSignalIdx(names.D),
		sigRAMDo:   doc.GetSignalIdx(names.RAMDo),
		sigClk14M:  doc.GetSignalIdx(names.Clk14M),
		sigSpeaker: doc.GetSignalIdx(names.Speaker),
		sigK:       doc.GetSignalIdx(names.K),
		sigReadKey: doc.GetSignalIdx(names.ReadKey),
	}
	return r
}

// SetSubCyclesPerCPUCycle configures the sub-cycles-per-CPU-cycle
// performance knob (1-14); values outside that range are clamped.
func (r *Runner) SetSubCyclesPerCPUCycle(n int) {
	if n < 1 {
		n = 1
	}
	if n > DefaultSubCyclesPerCPUCycle {
		n = DefaultSubCyclesPerCPUCycle
	}
	r.subCycles = n
}

// LoadROM copies bytes into ROM storage starting at offset 0, clamped
// to the 12 KiB ROM extent.
func (r *Runner) LoadROM(data []byte) {
	copy(r.rom[:], data)
}

// LoadRAM copies bytes into RAM storage at offset, clamped to the
// 48 KiB RAM extent.
func (r *Runner) LoadRAM(data []byte, offset int) {
	if offset < 0 || offset >= ramSize {
		return
	}
	copy(r.ram[offset:], data)
}

// ReadRAM returns a copy of length bytes of RAM starting at offset,
// clamped to the RAM extent.
func (r *Runner) ReadRAM(offset, length int) []byte {
	if offset < 0 || offset >= ramSize {
		return nil
	}
	end := offset + length
	if end > ramSize {
		end = ramSize
	}
	out := make([]byte, end-offset)
	copy(out, r.ram[offset:end])
	return out
}

// WriteRAM writes data into RAM at offset, clamped to the RAM extent.
func (r *Runner) WriteRAM(offset int, data []byte) {
	if offset < 0 || offset >= ramSize {
		return
	}
	copy(r.ram[offset:], data)
}

// ReadMemory reads across the RAM/ROM boundary using the same decode
// rules RunCPUCycles uses, so a disassembler can fetch a contiguous run that
// straddles $D000 without knowing which backing array serves which
// byte.
func (r *Runner) ReadMemory(offset, length int) []byte {
	out := make([]byte, 0, length)
	for a := offset; a < offset+length; a++ {
		out = append(out, r.decodeRead(uint16(a)))
	}
	return out
}

func (r *Runner) decodeRead(addr uint16) byte {
	switch {
	case addr >= romBase:
		return r.rom[int(addr)-romBase]
	case int(addr) < ramSize:
		return r.ram[addr]
	default:
		glog.Infof("unmapped Apple II bus read: address=0x%04x\n", addr)
		return 0
	}
}

// RunCPUCycles ticks the engine nCPU*subCycles sub-cycles, servicing
// memory, keyboard and speaker, and returns the batch summary. The
// loop never crosses the host boundary inside its body.
func (r *Runner) RunCPUCycles(nCPU int, keyData byte, keyReady bool) (BatchResult, error) {
	var result BatchResult
	for cpuCycle := 0; cpuCycle < nCPU; cpuCycle++ {
		for sub := 0; sub < r.subCycles; sub++ {
			if keyReady {
				r.k.Poke(r.sigK, uint64(keyData)|0x80)
			} else {
				r.k.Poke(r.sigK, 0)
			}

			if err := r.k.Poke(r.sigClk14M, 0); err != nil {
				return result, err
			}
			if err := r.k.Evaluate(); err != nil {
				return result, err
			}

			addr := uint16(r.k.Peek(r.sigRAMAddr))
			do := uint64(r.decodeRead(addr))
			if err := r.k.Poke(r.sigRAMDo, do); err != nil {
				return result, err
			}
			if err := r.k.Evaluate(); err != nil {
				return result, err
			}

			if err := r.k.Poke(r.sigClk14M, 1); err != nil {
				return result, err
			}
			if err := r.k.Tick(); err != nil {
				return result, err
			}

			if r.k.Peek(r.sigRAMWe) == 1 {
				writeAddr := uint16(r.k.Peek(r.sigRAMAddr))
				data := byte(r.k.Peek(r.sigD))
				if int(writeAddr) < ramSize {
					r.ram[writeAddr] = data
					if writeAddr >= textPageStart && writeAddr <= textPageEnd {
						result.TextDirty = true
					}
				}
			}

			readKey := r.k.Peek(r.sigReadKey) == 1
			if readKey && !r.prevReadKey {
				keyReady = false
				result.KeyCleared = true
			}
			r.prevReadKey = readKey

			speaker := r.k.Peek(r.sigSpeaker) == 1
			if speaker != r.prevSpeaker {
				r.toggles++
				result.SpeakerToggles++
				r.prevSpeaker = speaker
			}

			r.cyclesRun++
			result.CyclesRun++
		}
	}
	return result, nil
}

// CyclesRun returns the lifetime total of sub-cycles executed.
func (r *Runner) CyclesRun() uint64 { return r.cyclesRun }

// SpeakerToggles returns the lifetime total of speaker-bit transitions.
func (r *Runner) SpeakerToggles() uint64 { return r.toggles }

// TextRowAddress returns the text page 1 byte address of the start of
// row (0-23).
func TextRowAddress(row int) uint16 {
	group := row / 8
	lineInGroup := row % 8
	return uint16(textPageStart + lineInGroup*0x80 + group*0x28)
}

// HiResRowAddress returns the hi-res page byte address of the start of
// row (0-191) within the page starting at base ($2000 for page 1).
func HiResRowAddress(base uint16, row int) uint16 {
	section := row / 64
	group := (row % 64) / 8
	lineInGroup := row % 8
	return base + uint16(lineInGroup*0x400+group*0x80+section*0x28)
}
