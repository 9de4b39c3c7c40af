//go:build rp2040

// Command rp2040 is the gomotion firmware for RP2040 boards. It reads
// G-code from the serial console and drives steppers and heaters from a
// tick paced by the hardware microsecond timer.
package main

import (
	"log/slog"
	"machine"
	"time"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/console"
	"gomotion/standalone/manager"
)

// statusInterval is how often loop health is logged
const statusInterval = 60 * time.Second

func main() {
	// Disable the watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	core.SetDebugWriter(func(msg string) { logger.Warn(msg) })

	cfg := config.DefaultCartesianConfig()
	m, steps, err := build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		blink()
	}

	con := console.New(m, machine.Serial, logger)
	ticks := newTickSource(cfg.TickFrequency)
	halted := false
	lastStatus := hardwareMicros()

	for {
		n, dropped := ticks.Due(hardwareMicros())
		for ; n > 0; n-- {
			m.Tick()
		}
		m.Clock().Skip(dropped)
		m.Poll()
		con.Poll()

		if m.Halted() != halted {
			halted = m.Halted()
			if halted {
				if p, ok := steps.(*pioSteps); ok {
					p.Stop()
				}
				m.Timing().Dump()
			}
			machine.LED.Set(halted)
		}

		if now := hardwareMicros(); now-lastStatus >= uint64(statusInterval/time.Microsecond) {
			lastStatus = now
			logStatus(logger, m, steps, ticks, con)
		}
	}
}

// build creates the outputs and the machine
func build(cfg *standalone.MachineConfig, logger *slog.Logger) (*manager.Machine, core.StepOutput, error) {
	steps, err := newStepOutput(cfg, stepBackend)
	if err != nil {
		return nil, nil, err
	}
	heaters, err := newHeaterPWM(cfg)
	if err != nil {
		return nil, nil, err
	}
	adc, err := newThermistorADC(cfg)
	if err != nil {
		return nil, nil, err
	}
	endstops, err := endstopInputs(cfg)
	if err != nil {
		return nil, nil, err
	}
	hw := manager.Hardware{Steps: steps, Heaters: heaters, ADC: adc, Endstops: endstops}
	if motors, ok := steps.(core.MotorPower); ok {
		hw.Motors = motors
	}
	m, err := manager.New(cfg, hw, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("firmware ready", "steps", stepBackend.String())
	return m, steps, nil
}

func logStatus(logger *slog.Logger, m *manager.Machine, steps core.StepOutput, ticks *core.TickPacer, con *console.Console) {
	stats := m.Stats()
	attrs := []any{
		"segments", stats.Segments,
		"estops", stats.EStops,
		"limit_stops", stats.LimitStops,
		"tick_overrun", ticks.Overrun,
		"lines", con.Lines(),
	}
	if p, ok := steps.(*pioSteps); ok {
		attrs = append(attrs, "pio_dropped", p.Dropped())
	}
	logger.Info("status", attrs...)
}

// blink signals a fatal startup error forever
func blink() {
	for {
		machine.LED.High()
		time.Sleep(200 * time.Millisecond)
		machine.LED.Low()
		time.Sleep(200 * time.Millisecond)
	}
}
