// Command gopper-printer is the top-level firmware process: it loads a
// machine configuration, brings up the DMA-paced GPIO hardware scheduler,
// and drives the G-code interpreter over stdin/stdout (or, with -device, a
// serial TTY) until the host or an M112 ends the session.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tarm/serial"

	"gopper/gparse"
	"gopper/hwscheduler"
	"gopper/iodrv"
	"gopper/logging"
	"gopper/mconfig"
	"gopper/scheduler"
	"gopper/state"
)

var (
	configPath = flag.String("config", "", "path to the machine configuration JSON file (required)")
	device     = flag.String("device", "", "serial device to read G-code from (default: stdin/stdout)")
	baud       = flag.Int("baud", 250000, "baud rate, when -device is set")
	gcodeRoot  = flag.String("gcode-root", ".", "directory M32 filenames are resolved beneath")
	dmaChannel = flag.Int("dma-channel", 5, "DMA channel the hardware scheduler drives")
	verbose    = flag.Bool("verbose", false, "enable debug-level logging to stderr")
)

func main() {
	flag.Parse()

	logging.SetWriter(func(line string) { fmt.Fprintln(os.Stderr, line) })
	logging.SetEnabled(*verbose)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := mconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hw, err := hwscheduler.New(*dmaChannel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to bring up the hardware scheduler: %v\n", err)
		os.Exit(1)
	}
	defer hw.Close()

	sched := scheduler.New(hw)
	sched.RegisterExitHandler(scheduler.ExitLevelIO, iodrv.RestoreAll)
	sched.RegisterExitHandler(scheduler.ExitLevelMem, func() { hw.Close() })

	factory := dmaPinFactory{sched: hw}
	sink := state.NewPWMSink(sched)
	machine, err := mconfig.Build(cfg, factory, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reader, writer, closeStream := openHostStream()
	defer closeStream()

	com := gparse.NewCom(reader, writer)
	opener := func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(*gcodeRoot, filepath.Clean("/"+name)))
	}
	s := state.New(machine, sched, com, true, opener)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		fmt.Fprintln(os.Stderr, "gopper-printer: signal received, shutting down")
		sched.Shutdown()
		os.Exit(0)
	}()

	logging.Debugf("machine configured (%s kinematics), serving G-code", cfg.Kinematics)

	s.Run()
	sched.Shutdown()
	os.Exit(s.ExitCode())
}

// dmaPinFactory builds mconfig.PinFactory over the hardware scheduler's
// DMA-backed pins, so every configured GPIO can carry timing-critical
// transitions through the ring.
type dmaPinFactory struct {
	sched *hwscheduler.Scheduler
}

func (f dmaPinFactory) Pin(gpio uint) iodrv.GPIOPin {
	return hwscheduler.NewDMAPin(f.sched, gpio)
}

// openHostStream returns the reader/writer pair G-code is read from and
// replies are written to: a serial TTY if -device was given, otherwise the
// process's own stdin/stdout.
func openHostStream() (io.Reader, io.Writer, func()) {
	if *device == "" {
		return os.Stdin, os.Stdout, func() {}
	}
	cfg := &serial.Config{Name: *device, Baud: *baud}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open %s: %v\n", *device, err)
		os.Exit(1)
	}
	return port, port, func() { port.Close() }
}
