//go:build rp2040

package main

import (
	"errors"
	"fmt"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"gomotion/core"
	"gomotion/standalone"
)

// PIO program generating step pulses. Command word:
//
//	Bits 0-15:  pulse count minus one
//	Bits 16-23: delay loop count between pulses
//	Bit 24:     direction line level
func buildStepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16 (pulses - 1)
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8 (delay)
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: out pins, 1 (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
		// .wrap
	}
}

// Jump targets are absolute, so the program is always loaded at 0
const stepperPIOOrigin = 0

// pioClockDiv runs the state machines at 1 MHz: 8 us step pulses
const pioClockDiv = 125

// pioCommand builds a command word
func pioCommand(pulses uint16, delay uint8, dirLevel bool) uint32 {
	cmd := uint32(pulses-1) | uint32(delay)<<16
	if dirLevel {
		cmd |= 1 << 24
	}
	return cmd
}

// pioAxis is one motor driven by a PIO state machine
type pioAxis struct {
	sm        rp2pio.StateMachine
	invertDir bool
	dirLevel  bool
	enable    core.Pin
	invertEn  bool
	enabled   bool
	dropped   uint32
}

// pioSteps implements core.StepOutput with one state machine per axis.
// A rising step edge queues a single hardware-timed pulse; falling edges
// are ignored because the state machine ends the pulse itself.
type pioSteps struct {
	axes [standalone.NumAxes]*pioAxis
}

var (
	_ core.StepOutput = (*pioSteps)(nil)
	_ core.MotorPower = (*pioSteps)(nil)
)

func newPIOSteps(cfg *standalone.MachineConfig) (*pioSteps, error) {
	program := buildStepperProgram()
	blocks := [2]*rp2pio.PIO{rp2pio.PIO0, rp2pio.PIO1}
	var loaded [2]bool
	var offsets [2]uint8

	p := &pioSteps{}
	for a := standalone.Axis(0); a < standalone.NumAxes; a++ {
		ac, ok := cfg.Axis(a)
		if !ok {
			continue
		}
		// Four state machines per block
		block := int(a) / 4
		if block >= len(blocks) {
			return nil, errors.New("out of PIO state machines")
		}
		hw := blocks[block]
		if !loaded[block] {
			offset, err := hw.AddProgram(program, stepperPIOOrigin)
			if err != nil {
				return nil, fmt.Errorf("load PIO program: %w", err)
			}
			offsets[block] = offset
			loaded[block] = true
		}

		stepN, err := core.ParsePin(ac.StepPin)
		if err != nil {
			return nil, fmt.Errorf("axis %s step pin: %w", a, err)
		}
		dirN, err := core.ParsePin(ac.DirPin)
		if err != nil {
			return nil, fmt.Errorf("axis %s dir pin: %w", a, err)
		}
		enable, err := outputPin(ac.EnablePin)
		if err != nil {
			return nil, err
		}

		sm := hw.StateMachine(uint8(a) % 4)
		if !sm.TryClaim() {
			return nil, fmt.Errorf("axis %s: state machine busy", a)
		}
		initStateMachine(hw, sm, offsets[block], uint8(len(program)), machine.Pin(stepN), machine.Pin(dirN))

		ax := &pioAxis{sm: sm, invertDir: ac.InvertDir, enable: enable, invertEn: ac.InvertEnable}
		ax.setEnabled(false)
		p.axes[a] = ax
	}
	return p, nil
}

func initStateMachine(hw *rp2pio.PIO, sm rp2pio.StateMachine, offset, length uint8, step, dir machine.Pin) {
	step.Configure(machine.PinConfig{Mode: hw.PinMode()})
	dir.Configure(machine.PinConfig{Mode: hw.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(step, 1)
	cfg.SetOutPins(dir, 1)
	// Shift right, explicit pull
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+length-1, offset)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)

	// Pin directions must be set after Init
	sm.Init(offset, cfg)
	sm.SetPindirsConsecutive(step, 1, true)
	sm.SetPindirsConsecutive(dir, 1, true)
	sm.SetPinsConsecutive(step, 1, false)
	sm.SetPinsConsecutive(dir, 1, false)
	sm.SetEnabled(true)
}

func (a *pioAxis) setEnabled(on bool) {
	a.enabled = on
	if a.enable != nil {
		a.enable.Set(on != a.invertEn)
	}
}

// SetStep implements core.StepOutput. It runs in the tick context and
// never waits for FIFO space.
func (p *pioSteps) SetStep(axis uint8, high bool) {
	if !high || int(axis) >= len(p.axes) || p.axes[axis] == nil {
		return
	}
	a := p.axes[axis]
	if a.sm.IsTxFIFOFull() {
		a.dropped++
		return
	}
	a.sm.TxPut(pioCommand(1, 0, a.dirLevel))
}

// SetDirection implements core.StepOutput; the level goes out with the
// next pulse
func (p *pioSteps) SetDirection(axis uint8, positive bool) {
	if int(axis) >= len(p.axes) || p.axes[axis] == nil {
		return
	}
	a := p.axes[axis]
	if !a.enabled {
		a.setEnabled(true)
	}
	a.dirLevel = positive != a.invertDir
}

// Stop discards queued pulses and releases the motors
func (p *pioSteps) Stop() {
	for _, a := range p.axes {
		if a == nil {
			continue
		}
		a.sm.SetEnabled(false)
		a.sm.ClearFIFOs()
		a.sm.Restart()
		a.sm.SetEnabled(true)
		a.setEnabled(false)
	}
}

// DisableAll implements core.MotorPower. The next direction change
// energizes a motor again.
func (p *pioSteps) DisableAll() {
	for _, a := range p.axes {
		if a != nil {
			a.setEnabled(false)
		}
	}
}

// Dropped returns the pulses lost to a full FIFO
func (p *pioSteps) Dropped() uint32 {
	var n uint32
	for _, a := range p.axes {
		if a != nil {
			n += a.dropped
		}
	}
	return n
}

