// Package console serves G-code over a byte stream, one command per line.
// Every accepted line is answered with "ok"; failures with "Error: ...".
// Poll never blocks, so it can share the firmware main loop with the
// machine.
package console

import (
	"fmt"
	"io"
	"log/slog"

	"gomotion/standalone"
	"gomotion/standalone/gcode"
)

// MaxLine is the longest accepted command line
const MaxLine = 96

// Port is the serial link; machine.Serial satisfies it on TinyGo targets
type Port interface {
	io.Writer
	Buffered() int
	ReadByte() (byte, error)
}

// Console reads command lines from a Port and executes them. A command
// that has to wait for queue space stays pending and is retried on the
// next Poll; an M112 is honoured even while another command is pending.
type Console struct {
	target gcode.Target
	interp *gcode.Interpreter
	port   Port
	log    *slog.Logger

	buf      []byte
	overflow bool
	next     string
	haveNext bool

	pending *gcode.Command
	waiting bool
	heater  uint8

	lines uint32
}

// New creates a console driving target
func New(target gcode.Target, port Port, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		target: target,
		interp: gcode.NewInterpreter(target),
		port:   port,
		log:    logger.With("component", "console"),
		buf:    make([]byte, 0, MaxLine),
	}
}

// Busy reports whether a command is still pending
func (c *Console) Busy() bool {
	return c.pending != nil || c.waiting
}

// Lines returns the number of command lines read
func (c *Console) Lines() uint32 {
	return c.lines
}

// Poll reads input and makes progress on at most one command
func (c *Console) Poll() {
	if !c.haveNext {
		c.next, c.haveNext = c.readLine()
	}

	if c.haveNext && c.Busy() && isEmergencyStop(c.next) {
		c.haveNext = false
		c.target.EmergencyStop()
		c.pending = nil
		c.waiting = false
		c.reply("Error: aborted by emergency stop")
		c.reply("ok")
		return
	}

	switch {
	case c.waiting:
		c.checkHeater()
	case c.pending != nil:
		c.execute(c.pending)
	case c.haveNext:
		c.haveNext = false
		c.handleLine(c.next)
	}
}

// readLine collects bytes until a line ending; the bool is false while a
// line is still incomplete
func (c *Console) readLine() (string, bool) {
	for c.port.Buffered() > 0 {
		b, err := c.port.ReadByte()
		if err != nil {
			return "", false
		}
		if b != '\n' && b != '\r' {
			if len(c.buf) >= MaxLine {
				c.overflow = true
				continue
			}
			c.buf = append(c.buf, b)
			continue
		}

		if c.overflow {
			c.overflow = false
			c.buf = c.buf[:0]
			c.reply("Error: line longer than %d bytes", MaxLine)
			continue
		}
		if len(c.buf) == 0 {
			continue
		}
		line := string(c.buf)
		c.buf = c.buf[:0]
		c.lines++
		return line, true
	}
	return "", false
}

func (c *Console) handleLine(line string) {
	cmd, err := gcode.ParseLine(line)
	if err != nil {
		c.reply("Error: %v", err)
		return
	}
	if cmd == nil || cmd.Letter == 0 && len(cmd.Parameters) == 0 {
		c.reply("ok")
		return
	}
	c.execute(cmd)
}

func (c *Console) execute(cmd *gcode.Command) {
	res, err := c.interp.Execute(cmd)
	switch {
	case gcode.Retryable(err):
		c.pending = cmd
		return
	case err != nil:
		c.pending = nil
		c.log.Debug("command failed", "command", cmd.String(), "err", err)
		c.reply("Error: %v", err)
		return
	}

	c.pending = nil
	if res.WaitHeater {
		c.waiting = true
		c.heater = res.Heater
		return
	}
	if res.Report != "" {
		c.reply("ok %s", res.Report)
		return
	}
	c.reply("ok")
}

// checkHeater answers a pending M109/M190 once its heater settles
func (c *Console) checkHeater() {
	st, err := c.target.HeaterStatus(c.heater)
	switch {
	case err != nil:
		c.waiting = false
		c.reply("Error: %v", err)
	case st.Fault != standalone.FaultNone:
		c.waiting = false
		c.reply("Error: heater %d %s fault", c.heater, st.Fault)
	case st.Mode == standalone.HeaterOff:
		c.waiting = false
		c.reply("Error: heater %d turned off", c.heater)
	case st.Mode == standalone.HeaterAtTarget:
		c.waiting = false
		c.reply("ok")
	}
}

func (c *Console) reply(format string, args ...any) {
	if _, err := fmt.Fprintf(c.port, format+"\n", args...); err != nil {
		c.log.Warn("reply dropped", "err", err)
	}
}

func isEmergencyStop(line string) bool {
	cmd, err := gcode.ParseLine(line)
	return err == nil && cmd != nil && cmd.Letter == 'M' && cmd.Number == 112
}
