// Command hdlsim drives a compiled netlist from the command line: run
// loads an IR document and steps it, optionally writing a VCD trace;
// a2run loads an IR, a ROM image and an optional DOS 3.3 disk image
// and runs the Apple II batched host loop headlessly.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/jyane/hdlsim/apple2"
	"github.com/jyane/hdlsim/apple2/disk"
	"github.com/jyane/hdlsim/ir"
	"github.com/jyane/hdlsim/sched"
	"github.com/jyane/hdlsim/sim"
	"github.com/jyane/hdlsim/trace"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		glog.Fatalf("hdlsim: %v", err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hdlsim",
		Short: "Cycle-accurate digital logic simulator",
	}
	root.AddCommand(runCmd())
	root.AddCommand(a2runCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		irPath   string
		cycles   int
		vcdPath  string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load an IR document and drive it for a number of clock cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if irPath == "" {
				return fmt.Errorf("--ir is required")
			}
			data, err := os.ReadFile(irPath)
			if err != nil {
				return fmt.Errorf("reading IR file: %w", err)
			}

			if parallel > 1 {
				return runParallel(data, cycles, parallel)
			}

			doc, err := ir.Load(data)
			if err != nil {
				return fmt.Errorf("loading IR: %w", err)
			}
			plan, err := sched.Compile(doc)
			if err != nil {
				return fmt.Errorf("compiling schedule: %w", err)
			}

			var rec *trace.Recorder
			var opts []sim.KernelOption
			if vcdPath != "" {
				rec = newFullRecorder(doc)
				opts = append(opts, sim.WithTrace(rec))
			}
			k := sim.NewKernel(doc, plan, opts...)
			if err := k.Reset(); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			for i := 0; i < cycles; i++ {
				for c := 0; c < doc.NumClocks(); c++ {
					k.Poke(doc.ClockSignal(c), 0)
				}
				if err := k.Evaluate(); err != nil {
					return fmt.Errorf("tick %d: %w", i, err)
				}
				for c := 0; c < doc.NumClocks(); c++ {
					k.Poke(doc.ClockSignal(c), 1)
				}
				if err := k.Tick(); err != nil {
					return fmt.Errorf("tick %d: %w", i, err)
				}
			}
			glog.Infof("ran %d cycles, time tick %d", cycles, k.TimeTick())

			if vcdPath != "" {
				if err := os.WriteFile(vcdPath, rec.ToVCD(), 0o644); err != nil {
					return fmt.Errorf("writing VCD: %w", err)
				}
				glog.Infof("wrote VCD to %s", vcdPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&irPath, "ir", "", "path to a JSON IR document")
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of clock cycles to drive")
	cmd.Flags().StringVar(&vcdPath, "vcd", "", "write a VCD trace of every tracked signal to this path")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "run N independent contexts on N goroutines instead of one")
	return cmd
}

// runParallel fans n independent Kernels, each compiled from the same
// IR bytes, across their own goroutine with no shared state, grounded
// on the worker-count-driven goroutine fan-out pattern of a parallel
// search pool, adapted here to zero shared results: each context runs
// to completion and reports only its own summary.
func runParallel(irData []byte, cycles, n int) error {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			doc, err := ir.Load(irData)
			if err != nil {
				errs[idx] = fmt.Errorf("context %d: loading IR: %w", idx, err)
				return
			}
			plan, err := sched.Compile(doc)
			if err != nil {
				errs[idx] = fmt.Errorf("context %d: compiling schedule: %w", idx, err)
				return
			}
			k := sim.NewKernel(doc, plan)
			if err := k.Reset(); err != nil {
				errs[idx] = fmt.Errorf("context %d: reset: %w", idx, err)
				return
			}
			for c := 0; c < cycles; c++ {
				for ci := 0; ci < doc.NumClocks(); ci++ {
					k.Poke(doc.ClockSignal(ci), 0)
				}
				if err := k.Evaluate(); err != nil {
					errs[idx] = fmt.Errorf("context %d: tick %d: %w", idx, c, err)
					return
				}
				for ci := 0; ci < doc.NumClocks(); ci++ {
					k.Poke(doc.ClockSignal(ci), 1)
				}
				if err := k.Tick(); err != nil {
					errs[idx] = fmt.Errorf("context %d: tick %d: %w", idx, c, err)
					return
				}
			}
			glog.Infof("context %d: ran %d cycles, time tick %d", idx, cycles, k.TimeTick())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// newFullRecorder builds a Recorder tracking every signal in doc, in
// declaration order.
func newFullRecorder(doc *ir.IR) *trace.Recorder {
	tracked := make([]trace.TrackedSignal, len(doc.Signals))
	for i, s := range doc.Signals {
		tracked[i] = trace.TrackedSignal{Index: i, Name: s.Name, Width: s.Width}
	}
	return trace.NewRecorder(tracked, "", "")
}

func a2runCmd() *cobra.Command {
	var (
		irPath    string
		romPath   string
		diskPath  string
		cpuCycles int
	)
	cmd := &cobra.Command{
		Use:   "a2run",
		Short: "Run the Apple II batched host loop headlessly and report a boot summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if irPath == "" || romPath == "" {
				return fmt.Errorf("--ir and --rom are required")
			}
			irData, err := os.ReadFile(irPath)
			if err != nil {
				return fmt.Errorf("reading IR file: %w", err)
			}
			romData, err := os.ReadFile(romPath)
			if err != nil {
				return fmt.Errorf("reading ROM file: %w", err)
			}
			doc, err := ir.Load(irData)
			if err != nil {
				return fmt.Errorf("loading IR: %w", err)
			}
			plan, err := sched.Compile(doc)
			if err != nil {
				return fmt.Errorf("compiling schedule: %w", err)
			}
			k := sim.NewKernel(doc, plan)
			if err := k.Reset(); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			runner := apple2.NewRunner(k, apple2.DefaultSignalNames())
			runner.LoadROM(romData)

			if diskPath != "" {
				diskData, err := os.ReadFile(diskPath)
				if err != nil {
					return fmt.Errorf("reading disk image: %w", err)
				}
				img, err := disk.NewImage(diskData)
				if err != nil {
					return fmt.Errorf("loading disk image: %w", err)
				}
				ctrl := disk.NewController()
				ctrl.Drive(0).Mount(img)
				glog.Infof("mounted disk image %s in drive 0", diskPath)
			}

			result, err := runner.RunCPUCycles(cpuCycles, 0, false)
			if err != nil {
				return fmt.Errorf("running %d CPU cycles: %w", cpuCycles, err)
			}
			fmt.Printf("cycles run:       %d\n", runner.CyclesRun())
			fmt.Printf("speaker toggles:  %d\n", runner.SpeakerToggles())
			fmt.Printf("text page dirty:  %v\n", result.TextDirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&irPath, "ir", "", "path to a JSON IR document for the Apple II netlist")
	cmd.Flags().StringVar(&romPath, "rom", "", "path to a 12 KiB ROM image")
	cmd.Flags().StringVar(&diskPath, "disk", "", "path to a DOS 3.3 .dsk image to mount in drive 0")
	cmd.Flags().IntVar(&cpuCycles, "cpu-cycles", 1000, "number of 6502 cycles to run")
	return cmd
}
