package gcode

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		input   string
		letter  byte
		number  int
		params  map[byte]float64
		comment string
	}{
		{"G0 X10 Y20", 'G', 0, map[byte]float64{'X': 10, 'Y': 20}, ""},
		{"G1 X100.5 Y200.25 F3000", 'G', 1, map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000}, ""},
		{"g1x-1.5e+.25", 'G', 1, map[byte]float64{'X': -1.5, 'E': 0.25}, ""},
		{"G28", 'G', 28, map[byte]float64{}, ""},
		{"M104 S200 ; hot end", 'M', 104, map[byte]float64{'S': 200}, "hot end"},
		{"N12 G92 X0 Y0 Z0*87", 'G', 92, map[byte]float64{'X': 0, 'Y': 0, 'Z': 0}, ""},
		{"; just a comment", 0, 0, map[byte]float64{}, "just a comment"},
		{"X5 Y6", 0, 0, map[byte]float64{'X': 5, 'Y': 6}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			cmd, err := ParseLine(tc.input)
			require.NoError(t, err)
			require.NotNil(t, cmd)
			assert.Equal(t, tc.letter, cmd.Letter)
			assert.Equal(t, tc.number, cmd.Number)
			assert.Equal(t, tc.comment, cmd.Comment)
			if diff := cmp.Diff(tc.params, cmd.Parameters); diff != "" {
				t.Errorf("parameters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLineBlank(t *testing.T) {
	for _, line := range []string{"", "   ", "\t", "*12"} {
		cmd, err := ParseLine(line)
		require.NoError(t, err)
		assert.Nil(t, cmd, "%q", line)
	}
}

func TestParseLineErrors(t *testing.T) {
	tests := map[string]string{
		"G1 X":     "has no value",
		"G1 X1..2": "invalid syntax",
		"G1 #5":    "unexpected",
		"G1.5 X1":  "command number",
		"M104 S-":  "has no value",
	}
	for input, want := range tests {
		_, err := ParseLine(input)
		assert.ErrorContains(t, err, want, "%q", input)
	}
}

func TestCommandAccessors(t *testing.T) {
	cmd, err := ParseLine("G1 X2")
	require.NoError(t, err)

	assert.True(t, cmd.Has('X'))
	assert.False(t, cmd.Has('Y'))
	assert.Equal(t, 2.0, cmd.Get('X', 7))
	assert.Equal(t, 7.0, cmd.Get('Y', 7))
	assert.Equal(t, "G1", cmd.String())
}

func TestScan(t *testing.T) {
	src := strings.NewReader("; header\nG90\n\nG1 X1 F600\nM104 S200\n")

	var got []string
	err := Scan(src, func(line int, cmd *Command) error {
		got = append(got, cmd.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"G90", "G1", "M104"}, got)

	err = Scan(strings.NewReader("G1 X1\nG1 X\n"), func(int, *Command) error { return nil })
	assert.ErrorContains(t, err, "line 2")
}
