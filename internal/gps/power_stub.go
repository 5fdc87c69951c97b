//go:build !linux

package gps

import "fmt"

// LocatePowerLine always fails off Linux.
func LocatePowerLine(pin int) (chip string, offset int, err error) {
	return "", 0, fmt.Errorf("gps: power gpio unsupported on this platform")
}

func openPowerLine(pin int) (powerLine, error) {
	_, _, err := LocatePowerLine(pin)
	return nil, err
}
