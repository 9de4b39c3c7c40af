// Package heater implements closed-loop heater regulation with safety
// cutoffs and a heat-up watchdog.
package heater

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/drivers"

	"gomotion/core"
	"gomotion/standalone"
)

// TemperatureSensor is a drivers.Sensor reporting milli-degrees Celsius
type TemperatureSensor interface {
	drivers.Sensor
	Temperature() int32
}

type heater struct {
	id       uint8
	cfg      standalone.HeaterConfig
	sensor   TemperatureSensor
	strategy strategy
	state    standalone.HeaterState

	valid      bool   // a reading inside the limits has been seen
	lastUpdate uint64 // clock of the previous control step, 0 before the first

	// Watchdog: armed when a target is enabled or raised
	watchArmed    bool
	watchDeadline uint64
	watchTemp     float32
	watchBaseline bool
}

// Controller regulates all heaters of the machine. Update runs in the main
// loop; status reads may come from any goroutine.
type Controller struct {
	mu      sync.Mutex
	heaters []*heater
	out     core.HeaterOutput
	clock   *core.Clock
	halt    *core.Halt
	log     *slog.Logger
}

// NewController creates a controller for the configured heaters.
// sensors[i] is the temperature source of cfgs[i].
func NewController(cfgs []standalone.HeaterConfig, sensors []TemperatureSensor, out core.HeaterOutput,
	clock *core.Clock, halt *core.Halt, logger *slog.Logger) (*Controller, error) {
	if len(sensors) != len(cfgs) {
		return nil, fmt.Errorf("%d heaters configured but %d sensors given", len(cfgs), len(sensors))
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		out:   out,
		clock: clock,
		halt:  halt,
		log:   logger.With("component", "heater"),
	}
	for i, cfg := range cfgs {
		s, err := newStrategy(cfg)
		if err != nil {
			return nil, fmt.Errorf("heater %s: %w", cfg.Name, err)
		}
		c.heaters = append(c.heaters, &heater{
			id:       uint8(i),
			cfg:      cfg,
			sensor:   sensors[i],
			strategy: s,
		})
	}
	return c, nil
}

// Len returns the number of heaters
func (c *Controller) Len() int {
	return len(c.heaters)
}

func (c *Controller) get(id uint8) (*heater, error) {
	if int(id) >= len(c.heaters) {
		return nil, fmt.Errorf("heater %d: %w", id, standalone.ErrUnknownHeater)
	}
	return c.heaters[id], nil
}

// SetTarget sets a heater's target temperature; 0 turns it off
func (c *Controller) SetTarget(id uint8, target float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.get(id)
	if err != nil {
		return err
	}
	if h.state.Fault.Sticky() {
		return fmt.Errorf("heater %s (%s fault): %w", h.cfg.Name, h.state.Fault, standalone.ErrHeaterFault)
	}
	if target < 0 || target > h.cfg.MaxTemp {
		return fmt.Errorf("heater %s target %.1f: %w", h.cfg.Name, target, standalone.ErrOutOfBounds)
	}
	if target > 0 && c.halt != nil && c.halt.Active() {
		return fmt.Errorf("heater %s: %w", h.cfg.Name, standalone.ErrStopped)
	}

	prev := h.state.TargetTemp
	h.state.TargetTemp = target
	h.state.Fault = standalone.FaultNone

	if target == 0 {
		c.turnOff(h)
		return nil
	}

	if h.state.Mode == standalone.HeaterOff {
		h.strategy.reset(&h.state)
		h.state.Mode = standalone.HeaterHeating
	}
	if target > prev && h.cfg.WatchPeriod > 0 {
		h.watchArmed = true
		h.watchDeadline = c.clock.Now() + c.clock.FromMS(h.cfg.WatchPeriod)
		h.watchTemp = h.state.CurrentTemp
		h.watchBaseline = h.valid
	}
	c.log.Debug("target set", "heater", h.cfg.Name, "target", target)
	return nil
}

func (c *Controller) turnOff(h *heater) {
	h.state.TargetTemp = 0
	h.state.Output = 0
	h.state.Mode = standalone.HeaterOff
	h.watchArmed = false
	h.strategy.reset(&h.state)
	c.out.SetHeater(h.id, 0)
}

// Update samples every heater and runs one control step
func (c *Controller) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	halted := c.halt != nil && c.halt.Active()
	for _, h := range c.heaters {
		c.update(h, now, halted)
	}
}

func (c *Controller) update(h *heater, now uint64, halted bool) {
	var dt float32
	if h.lastUpdate != 0 && now > h.lastUpdate {
		dt = float32(now-h.lastUpdate) / float32(c.clock.Frequency())
	}
	h.lastUpdate = now

	if h.state.Fault.Sticky() {
		h.state.Output = 0
		c.out.SetHeater(h.id, 0)
		return
	}

	if err := h.sensor.Update(drivers.Temperature); err != nil {
		c.fault(h, standalone.FaultSensor, err)
		return
	}
	temp := float32(h.sensor.Temperature()) / 1000
	h.state.CurrentTemp = temp

	switch {
	case temp < h.cfg.MinTemp:
		c.fault(h, standalone.FaultSensor, fmt.Errorf("%.1f below minimum %.1f", temp, h.cfg.MinTemp))
		return
	case temp > h.cfg.MaxTemp:
		c.fault(h, standalone.FaultRunaway, fmt.Errorf("%.1f above maximum %.1f", temp, h.cfg.MaxTemp))
		return
	}
	h.valid = true

	if halted && h.state.TargetTemp > 0 {
		c.log.Warn("heater off on emergency stop", "heater", h.cfg.Name)
		c.turnOff(h)
		return
	}
	if h.state.TargetTemp == 0 {
		if h.state.Mode != standalone.HeaterOff || h.state.Output != 0 {
			c.turnOff(h)
		}
		return
	}

	if h.watchArmed && c.checkWatchdog(h, now, temp) {
		return
	}

	h.state.Output = h.strategy.output(&h.state, dt)
	if abs(temp-h.state.TargetTemp) <= h.cfg.TargetBand {
		h.state.Mode = standalone.HeaterAtTarget
		h.watchArmed = false
	} else {
		h.state.Mode = standalone.HeaterHeating
	}
	c.out.SetHeater(h.id, h.state.Output)
}

// checkWatchdog returns true if the heater was shut down
func (c *Controller) checkWatchdog(h *heater, now uint64, temp float32) bool {
	if !h.watchBaseline {
		h.watchTemp = temp
		h.watchBaseline = true
	}
	if now < h.watchDeadline {
		return false
	}
	h.watchArmed = false
	if temp >= h.watchTemp+h.cfg.WatchRise {
		return false
	}

	c.log.Warn("heater did not warm up, target reset",
		"heater", h.cfg.Name, "temp", temp, "start", h.watchTemp, "target", h.state.TargetTemp)
	c.turnOff(h)
	h.state.Fault = standalone.FaultWatchdog
	return true
}

func (c *Controller) fault(h *heater, kind standalone.FaultKind, cause error) {
	h.state.Fault = kind
	h.state.Mode = standalone.HeaterFault
	h.state.TargetTemp = 0
	h.state.Output = 0
	h.watchArmed = false
	h.strategy.reset(&h.state)
	c.out.SetHeater(h.id, 0)

	c.log.Error("heater fault", "heater", h.cfg.Name, "fault", kind.String(), "err", cause)
	if c.halt != nil {
		c.halt.Trigger("heater " + h.cfg.Name + ": " + kind.String() + " fault")
	}
}

// ResetFault clears a heater fault. The heater stays off until a new target
// is set; a condition that persists faults again on the next update.
func (c *Controller) ResetFault(id uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.get(id)
	if err != nil {
		return err
	}
	if h.state.Fault == standalone.FaultNone {
		return nil
	}
	c.log.Info("heater fault reset", "heater", h.cfg.Name, "fault", h.state.Fault.String())
	h.state.Fault = standalone.FaultNone
	c.turnOff(h)
	return nil
}

// Status returns a snapshot of a heater's state
func (c *Controller) Status(id uint8) (standalone.HeaterState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.get(id)
	if err != nil {
		return standalone.HeaterState{}, err
	}
	return h.state, nil
}

// Name returns a heater's configured name
func (c *Controller) Name(id uint8) (string, error) {
	h, err := c.get(id)
	if err != nil {
		return "", err
	}
	return h.cfg.Name, nil
}

// AllOff switches every heater off without touching fault state
func (c *Controller) AllOff() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.heaters {
		if h.state.Mode == standalone.HeaterFault {
			continue
		}
		c.turnOff(h)
	}
}

// Faulted reports whether any heater holds a sticky fault
func (c *Controller) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.heaters {
		if h.state.Fault.Sticky() {
			return true
		}
	}
	return false
}

var errNoSensor = errors.New("no sensor")

// NilSensor is a placeholder for a heater without a wired sensor.
// Every update fails so the heater faults instead of heating blind.
type NilSensor struct{}

func (NilSensor) Update(drivers.Measurement) error { return errNoSensor }
func (NilSensor) Temperature() int32               { return 0 }

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
