package core

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidPin is returned for pin names that are not "gpioN" or "N"
var ErrInvalidPin = errors.New("invalid pin name")

// MaxPins bounds the GPIO numbers a pin name may refer to
const MaxPins = 48

// ParsePin converts a configuration pin name such as "gpio12" to its number
func ParsePin(name string) (uint8, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "gpio")
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n >= MaxPins {
		return 0, ErrInvalidPin
	}
	return uint8(n), nil
}

// PinName returns the configuration name of a GPIO number
func PinName(n uint8) string {
	return "gpio" + utoa(uint64(n))
}
