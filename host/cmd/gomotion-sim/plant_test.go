package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomotion/core"
	"gomotion/standalone/config"
)

func TestPlantHeatsAndCools(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	clock := core.NewClock(cfg.TickFrequency)
	p, err := newPlant(cfg, clock, thermal{Ambient: 20, HeatRate: 4, CoolRate: 0.01})
	require.NoError(t, err)

	raw, err := p.ReadRaw(0)
	require.NoError(t, err)
	assert.Equal(t, core.ADCValue(986), raw)

	p.SetHeater(0, 255)
	clock.Set(clock.FromSeconds(1))
	want := 20 + 400*(1-math.Exp(-0.01))
	assert.InDelta(t, want, p.Temperature(0), 0.01)

	p.SetHeater(0, 0)
	clock.Set(clock.Now() + clock.FromSeconds(10))
	hot := want
	want = 20 + (hot-20)*math.Exp(-0.1)
	assert.InDelta(t, want, p.Temperature(0), 0.01)

	raw, err = p.ReadRaw(0)
	require.NoError(t, err)
	assert.Less(t, raw, core.ADCValue(986))
}

func TestPlantUnknownChannel(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	p, err := newPlant(cfg, core.NewClock(cfg.TickFrequency), thermal{Ambient: 20})
	require.NoError(t, err)

	_, err = p.ReadRaw(5)
	assert.Error(t, err)

	p.SetHeater(7, 255)
	assert.Zero(t, p.Temperature(7))
}
