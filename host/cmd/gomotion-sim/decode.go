package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"gomotion/host/capture"
	"gomotion/host/serial"
	"gomotion/standalone"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file.trace]",
	Short: "Summarize a recorded trace",
	Long: `Decode reads a trace written by "run --trace" (or from a serial device
with --serial) and prints pulse counts, net travel and heater activity.

Examples:
  gomotion-sim decode part.trace
  gomotion-sim decode --json part.trace
  gomotion-sim decode --serial /dev/ttyUSB1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

var (
	decodeJSON   bool
	decodeSerial string
	decodeBaud   int
)

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "output the summary as JSON")
	decodeCmd.Flags().StringVar(&decodeSerial, "serial", "", "read the trace from this serial device")
	decodeCmd.Flags().IntVar(&decodeBaud, "baud", 250000, "serial baud rate")
}

func runDecode(cmd *cobra.Command, args []string) error {
	var r io.Reader
	switch {
	case decodeSerial != "":
		cfg := serial.DefaultConfig(decodeSerial)
		cfg.Baud = decodeBaud
		cfg.ReadTimeout = 0
		port, err := serial.Open(cfg)
		if err != nil {
			return err
		}
		defer port.Close()
		r = port
	case len(args) == 1:
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	default:
		return errors.New("decode needs a trace file or --serial")
	}

	sum, err := capture.Read(r)
	if decodeJSON {
		if jerr := sum.WriteJSON(cmd.OutOrStdout()); jerr != nil {
			return jerr
		}
		return err
	}
	printSummary(cmd.OutOrStdout(), sum)
	return err
}

func printSummary(w io.Writer, s *capture.Summary) {
	names := standalone.AxisNames()
	fmt.Fprintf(w, "events:     %d over %d ticks\n", s.Events, s.LastClock-s.FirstClock)
	fmt.Fprintf(w, "frames:     %d (%d lost, %d bytes dropped)\n", s.Frames.Frames, s.Frames.Lost, s.Frames.Dropped)

	var pulses, travel []string
	for i, n := range names {
		pulses = append(pulses, fmt.Sprintf("%s=%d", n, s.Pulses[i]))
		travel = append(travel, fmt.Sprintf("%s=%d", n, s.Position[i]))
	}
	fmt.Fprintf(w, "pulses:     %s\n", strings.Join(pulses, " "))
	fmt.Fprintf(w, "net steps:  %s\n", strings.Join(travel, " "))
	for _, id := range slices.Sorted(maps.Keys(s.Heaters)) {
		h := s.Heaters[id]
		fmt.Fprintf(w, "heater %d:   %d changes, max duty %d, on %d ticks\n", id, h.Changes, h.MaxDuty, h.OnTicks)
	}
	fmt.Fprintf(w, "marks:      %d\n", len(s.Marks))
}
