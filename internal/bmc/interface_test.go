package bmc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepresentativeTemperature(t *testing.T) {
	cpuAndAmbient := []TemperatureReading{
		{SensorID: "04h", Label: "Inlet Temp", Celsius: 21},
		{SensorID: "0Eh", Label: "Temp", Celsius: 46},
		{SensorID: "0Fh", Label: "Temp", Celsius: 43},
	}

	temp, ok := RepresentativeTemperature(cpuAndAmbient)
	assert.True(t, ok)
	assert.Equal(t, 46, temp, "Hottest CPU sensor wins over ambient")

	ambientOnly := []TemperatureReading{
		{SensorID: "04h", Label: "Inlet Temp", Celsius: 21},
		{SensorID: "01h", Label: "Exhaust Temp", Celsius: 33},
	}

	temp, ok = RepresentativeTemperature(ambientOnly)
	assert.True(t, ok)
	assert.Equal(t, 33, temp, "Without CPU sensors the hottest reading wins")

	temp, ok = RepresentativeTemperature(nil)
	assert.False(t, ok)
	assert.Zero(t, temp)
}

func TestTemperatureReadingIsCPU(t *testing.T) {
	assert.True(t, TemperatureReading{SensorID: "0Eh", Label: "Temp"}.IsCPU())
	assert.True(t, TemperatureReading{SensorID: "0Fh", Label: "Temp"}.IsCPU())
	assert.True(t, TemperatureReading{SensorID: "CPU1", Label: "CPU1 Temp"}.IsCPU())
	assert.True(t, TemperatureReading{Label: "01-cpu 2"}.IsCPU())
	assert.False(t, TemperatureReading{SensorID: "04h", Label: "Inlet Temp"}.IsCPU())
}

func TestFanModeString(t *testing.T) {
	assert.Equal(t, "automatic", ModeAutomatic.String())
	assert.Equal(t, "manual", ModeManual.String())
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
}
