package alarming

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidUnit is returned for a preferred unit other than Celsius or Fahrenheit.
var ErrInvalidUnit = errors.New("invalid temperature unit")

// Unit is a display temperature unit
type Unit string

const (
	Celsius    Unit = "Celsius"
	Fahrenheit Unit = "Fahrenheit"
)

const kelvinOffset = 273.15

// ParseUnit accepts unit names case-insensitively
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "celsius":
		return Celsius, nil
	case "fahrenheit":
		return Fahrenheit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
}

// Symbol returns the unit suffix used in messages
func (u Unit) Symbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// FromKelvin converts a Kelvin value into u
func (u Unit) FromKelvin(k float64) float64 {
	return u.FromCelsius(k - kelvinOffset)
}

// FromCelsius converts a Celsius value into u
func (u Unit) FromCelsius(c float64) float64 {
	if u == Fahrenheit {
		return c*9/5 + 32
	}
	return c
}

// ConvertTemperature converts a Kelvin reading to the named unit
func ConvertTemperature(unit string, kelvin float64) (float64, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return 0, err
	}
	return u.FromKelvin(kelvin), nil
}
