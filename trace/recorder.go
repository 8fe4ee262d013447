// Package trace implements a live VCD recorder: an
// append-only byte buffer that accumulates a VCD header once, then one
// delta block per captured sample.
//
// Grounded on a single-owned-buffer mutation style (the
// picture *image.RGBA field nes.PPU writes into pixel-by-pixel rather
// than rebuilding per frame, jyane-jnes nes/ppu.go): the recorder here
// holds one bytes.Buffer that only ever grows, and TakeLiveVCD splits
// off the newly appended suffix without touching what came before.
package trace

import (
	"bytes"
	"fmt"
)

// TrackedSignal is one signal subscribed to the trace.
type TrackedSignal struct {
	Index int
	Name  string
	Width int
}

// Recorder accumulates VCD text for a fixed set of tracked signals.
type Recorder struct {
	signals   []TrackedSignal
	ids       []string // dense short identifiers, parallel to signals
	timescale string
	module    string

	buf      bytes.Buffer
	lastVals []uint64 // last captured value per tracked signal, for change detection
	started  bool

	takenLen int // how many bytes of buf.Bytes() have already been handed to TakeLiveVCD
}

// NewRecorder builds a Recorder tracking the given signals. timescale
// defaults to "1ns" and module to "top" if empty.
func NewRecorder(signals []TrackedSignal, timescale, module string) *Recorder {
	if timescale == "" {
		timescale = "1ns"
	}
	if module == "" {
		module = "top"
	}
	r := &Recorder{
		signals:   signals,
		timescale: timescale,
		module:    module,
		lastVals:  make([]uint64, len(signals)),
	}
	r.ids = assignIdentifiers(len(signals))
	return r
}

// assignIdentifiers returns len(n) short ASCII identifiers, densely
// assigned from the printable VCD identifier alphabet ('!' .. '~').
func assignIdentifiers(n int) []string {
	const first, last = '!', '~'
	const base = last - first + 1
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		x := i
		var chars []byte
		for {
			chars = append([]byte{byte(first + x%base)}, chars...)
			x = x/base - 1
			if x < 0 {
				break
			}
		}
		ids[i] = string(chars)
	}
	return ids
}

// Start emits the VCD header and an initial $dumpvars block if it has
// not already been emitted.
func (r *Recorder) Start() {
	if r.started {
		return
	}
	r.started = true
	fmt.Fprintf(&r.buf, "$timescale %s $end\n", r.timescale)
	fmt.Fprintf(&r.buf, "$scope module %s $end\n", r.module)
	for i, s := range r.signals {
		fmt.Fprintf(&r.buf, "$var wire %d %s %s $end\n", s.Width, r.ids[i], s.Name)
	}
	fmt.Fprintf(&r.buf, "$upscope $end\n")
	fmt.Fprintf(&r.buf, "$enddefinitions $end\n")
	fmt.Fprintf(&r.buf, "$dumpvars\n")
	for i, s := range r.signals {
		r.writeValue(s.Width, r.ids[i], 0)
	}
	fmt.Fprintf(&r.buf, "$end\n")
}

// Capture records a delta block for timeTick if any tracked signal's
// value differs from its last captured value.
func (r *Recorder) Capture(timeTick uint64, vec []uint64) {
	if !r.started {
		r.Start()
	}
	var changed []int
	for i, s := range r.signals {
		v := maskTo(vec[s.Index], s.Width)
		if v != r.lastVals[i] {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return
	}
	fmt.Fprintf(&r.buf, "#%d\n", timeTick)
	for _, i := range changed {
		s := r.signals[i]
		v := maskTo(vec[s.Index], s.Width)
		r.writeValue(s.Width, r.ids[i], v)
		r.lastVals[i] = v
	}
}

func (r *Recorder) writeValue(width int, id string, v uint64) {
	if width == 1 {
		if v == 1 {
			fmt.Fprintf(&r.buf, "1%s\n", id)
		} else {
			fmt.Fprintf(&r.buf, "0%s\n", id)
		}
		return
	}
	bits := make([]byte, width)
	for i := 0; i < width; i++ {
		if (v>>uint(width-1-i))&1 == 1 {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}
	fmt.Fprintf(&r.buf, "b%s %s\n", bits, id)
}

// TakeLiveVCD returns the bytes appended since the previous call (or
// since Start, on the first call) and removes them from what future
// calls will return — the caller never sees the same byte twice.
func (r *Recorder) TakeLiveVCD() []byte {
	all := r.buf.Bytes()
	chunk := all[r.takenLen:]
	out := make([]byte, len(chunk))
	copy(out, chunk)
	r.takenLen = len(all)
	return out
}

// ToVCD returns the full accumulated buffer.
func (r *Recorder) ToVCD() []byte {
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	return out
}

// Clear empties the buffer; the header is re-emitted on the next
// capture.
func (r *Recorder) Clear() {
	r.buf.Reset()
	r.started = false
	r.takenLen = 0
	for i := range r.lastVals {
		r.lastVals[i] = 0
	}
}

func maskTo(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}
