package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gomotion/core"
	"gomotion/standalone"
)

// LoadConfig parses a JSON configuration string and returns a MachineConfig
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadYAML parses a YAML configuration and returns a MachineConfig
func LoadYAML(yamlData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	err := yaml.Unmarshal(yamlData, &config)
	if err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadFile reads a configuration file, choosing the decoder by extension
func LoadFile(path string) (*standalone.MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg *standalone.MachineConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = LoadYAML(data)
	default:
		cfg, err = LoadConfig(data)
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func finish(config *standalone.MachineConfig) (*standalone.MachineConfig, error) {
	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	// Default kinematics
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}

	// Default motion parameters
	if config.DefaultFeedrate == 0 {
		config.DefaultFeedrate = 50.0 // 50 mm/s
	}
	if config.MinimumSpeed == 0 {
		config.MinimumSpeed = 0.1
	}
	if config.JerkLimit == 0 {
		config.JerkLimit = 40.0
	}
	if config.QueueCapacity == 0 {
		config.QueueCapacity = 16
	}
	if config.TickFrequency == 0 {
		config.TickFrequency = 100000
	}
	if config.HalfStepInterval == 0 {
		config.HalfStepInterval = 12
	}
	if config.TempPeriod == 0 {
		config.TempPeriod = 100
	}
	if config.EndstopSamples == 0 {
		config.EndstopSamples = 4
	}
	if config.EndstopSampleTicks == 0 {
		config.EndstopSampleTicks = 10
	}

	// Apply defaults to each axis
	for name, axis := range config.Axes {
		if axis.MaxFeedrate == 0 {
			axis.MaxFeedrate = 200.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		if axis.MaxTravelAccel == 0 {
			axis.MaxTravelAccel = axis.MaxAccel
		}
		if axis.HomingFeedrate == 0 {
			axis.HomingFeedrate = min(axis.MaxFeedrate, 25)
		}
		config.Axes[name] = axis
	}

	// Apply defaults to heaters
	for i := range config.Heaters {
		heater := &config.Heaters[i]
		if heater.Name == "" {
			heater.Name = fmt.Sprintf("heater%d", i)
		}
		if heater.Control == "" {
			heater.Control = standalone.ControlPID
		}
		if heater.MaxTemp == 0 {
			heater.MaxTemp = 275.0
		}
		if heater.MaxOutput == 0 {
			heater.MaxOutput = 255
		}
		if heater.IntegralMax == 0 {
			heater.IntegralMax = 130
		}
		if heater.TargetBand == 0 {
			heater.TargetBand = 1.0
		}
		if heater.WatchRise == 0 {
			heater.WatchRise = 1.0
		}
		if heater.Oversample == 0 {
			heater.Oversample = 1
		}
		if heater.ADCMax == 0 {
			heater.ADCMax = 1023
		}
		if len(heater.Table) == 0 && heater.Generic == nil {
			heater.Table = UserThermistorTable()
		}
		if g := heater.Generic; g != nil && g.Entries == 0 {
			g.Entries = 40
		}
	}
}

// Validate checks a configuration for values the motion core cannot run with
func Validate(config *standalone.MachineConfig) error {
	var errs []error

	if config.Kinematics != "cartesian" {
		errs = append(errs, fmt.Errorf("unsupported kinematics %q", config.Kinematics))
	}
	for i := standalone.Axis(0); i < standalone.NumAxes; i++ {
		axis, ok := config.Axis(i)
		if !ok {
			errs = append(errs, fmt.Errorf("axis %s not configured", i))
			continue
		}
		if axis.StepsPerMM <= 0 {
			errs = append(errs, fmt.Errorf("axis %s: steps_per_mm must be positive", i))
		}
		if axis.MaxFeedrate <= 0 {
			errs = append(errs, fmt.Errorf("axis %s: max_feedrate must be positive", i))
		}
		if axis.MaxAccel <= 0 {
			errs = append(errs, fmt.Errorf("axis %s: max_accel must be positive", i))
		}
		if axis.MaxPosition < axis.MinPosition {
			errs = append(errs, fmt.Errorf("axis %s: max_position below min_position", i))
		}
		if axis.MaxTravelAccel < 0 || axis.MaxStartFeedrate < 0 || axis.HomingFeedrate < 0 {
			errs = append(errs, fmt.Errorf("axis %s: travel accel, start and homing feedrates must not be negative", i))
		}
		if axis.EndstopPin != "" {
			if _, err := core.ParsePin(axis.EndstopPin); err != nil {
				errs = append(errs, fmt.Errorf("axis %s: endstop_pin %q: %w", i, axis.EndstopPin, err))
			}
		}
	}
	if config.JerkLimit <= 0 {
		errs = append(errs, errors.New("jerk_limit must be positive"))
	}
	if config.MinimumSpeed <= 0 {
		errs = append(errs, errors.New("minimum_speed must be positive"))
	}
	if config.QueueCapacity < 2 || config.QueueCapacity > 255 {
		errs = append(errs, fmt.Errorf("queue_capacity %d outside 2..255", config.QueueCapacity))
	}
	if config.HalfStepInterval < 2 {
		errs = append(errs, errors.New("half_step_interval must be at least 2 ticks"))
	}
	if config.AdvanceEnabled && config.AdvanceK < 0 {
		errs = append(errs, errors.New("advance_k must not be negative"))
	}
	if len(config.Heaters) > 255 {
		errs = append(errs, errors.New("too many heaters"))
	}

	for _, heater := range config.Heaters {
		switch heater.Control {
		case standalone.ControlPID, standalone.ControlHysteresis:
		default:
			errs = append(errs, fmt.Errorf("heater %s: unknown control %q", heater.Name, heater.Control))
		}
		if heater.MaxTemp <= heater.MinTemp {
			errs = append(errs, fmt.Errorf("heater %s: max_temp must exceed min_temp", heater.Name))
		}
		if len(heater.Table) > 0 {
			if len(heater.Table) < 2 {
				errs = append(errs, fmt.Errorf("heater %s: thermistor table needs two entries", heater.Name))
			}
			for j := 1; j < len(heater.Table); j++ {
				if heater.Table[j].ADC <= heater.Table[j-1].ADC {
					errs = append(errs, fmt.Errorf("heater %s: thermistor table not increasing at entry %d", heater.Name, j))
					break
				}
			}
		} else if g := heater.Generic; g != nil {
			if g.R0 <= 0 || g.Beta <= 0 || g.R2 <= 0 || g.VRef <= 0 || g.VADC <= 0 {
				errs = append(errs, fmt.Errorf("heater %s: generic thermistor parameters must be positive", heater.Name))
			}
			if g.Entries < 2 {
				errs = append(errs, fmt.Errorf("heater %s: generic thermistor needs two entries", heater.Name))
			}
		}
	}

	return errors.Join(errs...)
}

// UserThermistorTable returns the stock 10-bit user thermistor table
func UserThermistorTable() []standalone.ThermistorPoint {
	return []standalone.ThermistorPoint{
		{ADC: 1, Temp: 864}, {ADC: 21, Temp: 300}, {ADC: 25, Temp: 290}, {ADC: 29, Temp: 280}, {ADC: 33, Temp: 270}, {ADC: 39, Temp: 260}, {ADC: 46, Temp: 250}, {ADC: 54, Temp: 240}, {ADC: 64, Temp: 230}, {ADC: 75, Temp: 220},
		{ADC: 90, Temp: 210}, {ADC: 107, Temp: 200}, {ADC: 128, Temp: 190}, {ADC: 154, Temp: 180}, {ADC: 184, Temp: 170}, {ADC: 221, Temp: 160}, {ADC: 265, Temp: 150}, {ADC: 316, Temp: 140}, {ADC: 375, Temp: 130},
		{ADC: 441, Temp: 120}, {ADC: 513, Temp: 110}, {ADC: 588, Temp: 100}, {ADC: 734, Temp: 80}, {ADC: 856, Temp: 60}, {ADC: 938, Temp: 40}, {ADC: 986, Temp: 20}, {ADC: 1008, Temp: 0}, {ADC: 1018, Temp: -20},
	}
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {
				StepPin:     "gpio0",
				DirPin:      "gpio1",
				EnablePin:   "gpio8",
				StepsPerMM:  40.0,
				MaxFeedrate: 200.0,
				MaxAccel:    1000.0,
				MinPosition: 0.0,
				MaxPosition: 200.0,

				MaxTravelAccel: 1000.0,
				HomingFeedrate: 25.0,
			},
			"y": {
				StepPin:     "gpio2",
				DirPin:      "gpio3",
				EnablePin:   "gpio8",
				StepsPerMM:  40.0,
				MaxFeedrate: 200.0,
				MaxAccel:    1000.0,
				MinPosition: 0.0,
				MaxPosition: 200.0,
				InvertDir:   true,

				MaxTravelAccel: 1000.0,
				HomingFeedrate: 25.0,
			},
			"z": {
				StepPin:     "gpio4",
				DirPin:      "gpio5",
				EnablePin:   "gpio8",
				StepsPerMM:  3360.0,
				MaxFeedrate: 3.0,
				MaxAccel:    50.0,
				MinPosition: 0.0,
				MaxPosition: 100.0,

				MaxTravelAccel: 50.0,
				HomingFeedrate: 100.0 / 60,
			},
			"e": {
				StepPin:     "gpio6",
				DirPin:      "gpio7",
				EnablePin:   "gpio8",
				StepsPerMM:  373.0,
				MaxFeedrate: 20.0,
				MaxAccel:    1000.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,

				MaxTravelAccel:   1000.0,
				MaxStartFeedrate: 10.0,
			},
		},
		Heaters: []standalone.HeaterConfig{
			{
				Name:        "extruder",
				SensorPin:   "ADC0",
				HeaterPin:   "gpio10",
				Channel:     0,
				Control:     standalone.ControlPID,
				PID:         [3]float32{3.0, 0.02, 20.0},
				IntegralMax: 130,
				MaxOutput:   200,
				MinTemp:     5.0,
				MaxTemp:     275.0,
				TargetBand:  1.0,
				WatchPeriod: 5000,
				WatchRise:   1.0,
				Oversample:  10,
				ADCMax:      1023,
				Table:       UserThermistorTable(),
			},
		},
		DefaultFeedrate:  50.0,
		MinimumSpeed:     0.1,
		JerkLimit:        40.0,
		QueueCapacity:    16,
		TickFrequency:    100000,
		HalfStepInterval: 12,
		TempPeriod:       100,
		EnforceLimits:    true,

		EndstopSamples:      4,
		EndstopSampleTicks:  10,
		StepperInactiveTime: 120,
	}
}
