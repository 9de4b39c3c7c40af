// Package gcode is a small G-code front end that turns command lines into
// machine operations. Only the subset needed to drive the motion core is
// understood.
package gcode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is one parsed G-code line
type Command struct {
	Letter     byte // 'G', 'M' or 'T'; 0 for a parameter-only or comment line
	Number     int
	Parameters map[byte]float64
	Comment    string
}

// Has checks if a parameter exists in the command
func (c *Command) Has(param byte) bool {
	_, ok := c.Parameters[param]
	return ok
}

// Get returns a parameter value, or def if not present
func (c *Command) Get(param byte, def float64) float64 {
	if v, ok := c.Parameters[param]; ok {
		return v
	}
	return def
}

// String formats the command word, e.g. "G1"
func (c *Command) String() string {
	if c.Letter == 0 {
		return "(none)"
	}
	return string(c.Letter) + strconv.Itoa(c.Number)
}

// ParseLine parses a single line of G-code. Blank lines return nil.
// A trailing "*checksum" and a leading "N" line number are dropped.
func ParseLine(line string) (*Command, error) {
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	cmd := &Command{Parameters: make(map[byte]float64)}
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
			continue
		case c == ';' || c == '(':
			cmd.Comment = strings.TrimSpace(line[i+1:])
			return cmd, nil
		case !isLetter(c):
			return nil, fmt.Errorf("unexpected %q at column %d", c, i+1)
		}

		letter := toUpper(c)
		value, end := scanNumber(line, i+1)
		if end == i+1 {
			return nil, fmt.Errorf("%c at column %d has no value", letter, i+1)
		}
		i = end

		switch {
		case letter == 'N' && cmd.Letter == 0 && len(cmd.Parameters) == 0:
			// line number
		case cmd.Letter == 0 && len(cmd.Parameters) == 0 && (letter == 'G' || letter == 'M' || letter == 'T'):
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%c%s: command number: %w", letter, value, err)
			}
			cmd.Letter = letter
			cmd.Number = n
		default:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%c%s: %w", letter, value, err)
			}
			cmd.Parameters[letter] = f
		}
	}
	return cmd, nil
}

// scanNumber returns the numeric text starting at pos and the index after it
func scanNumber(s string, pos int) (string, int) {
	end := pos
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
		digits++
	}
	if digits == 0 {
		return "", pos
	}
	return s[pos:end], end
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// Scan parses r line by line and calls fn for every command. Comment-only
// and blank lines are skipped. Parse errors carry the line number.
func Scan(r io.Reader, fn func(line int, cmd *Command) error) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		cmd, err := ParseLine(sc.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if cmd == nil || cmd.Letter == 0 && len(cmd.Parameters) == 0 {
			continue
		}
		if err := fn(n, cmd); err != nil {
			return fmt.Errorf("line %d (%s): %w", n, cmd, err)
		}
	}
	return sc.Err()
}
