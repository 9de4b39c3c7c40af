package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gomotion/host/serial"
)

var runCmd = &cobra.Command{
	Use:   "run [file.gcode]",
	Short: "Execute a G-code file on the simulated machine",
	Long: `Run plans and executes every command of a G-code file ("-" or no
argument reads stdin), waits for motion to finish and prints a summary.

Examples:
  gomotion-sim run part.gcode
  gomotion-sim run --trace part.trace part.gcode
  gomotion-sim run --serial /dev/ttyUSB0 part.gcode`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runTrace       string
	runSerial      string
	runBaud        int
	runAmbient     float64
	runHeatRate    float64
	runCoolRate    float64
	runHeatTimeout int
)

func init() {
	rootCmd.AddCommand(runCmd)

	def := defaultSimOptions()
	runCmd.Flags().StringVar(&runTrace, "trace", "", "record step/dir/heater events to this file")
	runCmd.Flags().StringVar(&runSerial, "serial", "", "stream the trace to this serial device")
	runCmd.Flags().IntVar(&runBaud, "baud", 250000, "serial baud rate")
	runCmd.Flags().Float64Var(&runAmbient, "ambient", def.Thermal.Ambient, "ambient temperature (C)")
	runCmd.Flags().Float64Var(&runHeatRate, "heat-rate", def.Thermal.HeatRate, "heating rate at full power (C/s)")
	runCmd.Flags().Float64Var(&runCoolRate, "cool-rate", def.Thermal.CoolRate, "heat loss per second per degree above ambient")
	runCmd.Flags().IntVar(&runHeatTimeout, "heat-timeout", int(def.HeatTimeout.Seconds()), "simulated seconds M109/M190 may wait")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(args)
	if err != nil {
		return err
	}
	defer closeIn()

	trace, closeTrace, err := openTrace(runTrace, runSerial, runBaud)
	if err != nil {
		return err
	}

	opts := defaultSimOptions()
	opts.Thermal = thermal{Ambient: runAmbient, HeatRate: runHeatRate, CoolRate: runCoolRate}
	opts.HeatTimeout = time.Duration(runHeatTimeout) * time.Second

	out := cmd.OutOrStdout()
	sim, err := newSimulation(cfg, opts, trace, out, newLogger(cmd.ErrOrStderr()))
	if err != nil {
		return errors.Join(err, closeTrace())
	}

	runErr := sim.run(in)
	sim.report(out)
	return errors.Join(runErr, closeTrace())
}

func openInput(args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// openTrace opens the trace destinations. The returned writer is nil when
// tracing is off.
func openTrace(path, device string, baud int) (io.Writer, func() error, error) {
	var (
		writers []io.Writer
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("create trace: %w", err)
		}
		writers = append(writers, f)
		closers = append(closers, f.Close)
	}
	if device != "" {
		cfg := serial.DefaultConfig(device)
		cfg.Baud = baud
		port, err := serial.Open(cfg)
		if err != nil {
			return nil, nil, errors.Join(err, closeAll())
		}
		writers = append(writers, port)
		closers = append(closers, port.Close)
	}

	switch len(writers) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return writers[0], closeAll, nil
	}
	return io.MultiWriter(writers...), closeAll, nil
}
