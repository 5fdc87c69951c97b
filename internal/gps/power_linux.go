//go:build linux

package gps

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const powerConsumer = "gpsblue-ng-power"

// LocatePowerLine resolves a BCM pin number to the GPIO chip and offset that
// carry it. Boards name their lines "GPIO<n>"; every chip is searched.
func LocatePowerLine(pin int) (chip string, offset int, err error) {
	if pin <= 0 {
		return "", 0, fmt.Errorf("gps: invalid power gpio %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	chip, offset, err = gpiocdev.FindLine(name)
	if err != nil {
		return "", 0, fmt.Errorf("gps: power gpio line %s not found on %v: %w", name, gpiocdev.Chips(), err)
	}
	return chip, offset, nil
}

func openPowerLine(pin int) (powerLine, error) {
	chip, offset, err := LocatePowerLine(pin)
	if err != nil {
		return nil, err
	}
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(powerConsumer))
	if err != nil {
		return nil, fmt.Errorf("gps: request %s:%d: %w", chip, offset, err)
	}
	return &cdevPower{line: l}, nil
}

// cdevPower holds the requested output line for as long as the service
// lives; the receiver is unpowered whenever the line is released.
type cdevPower struct {
	line *gpiocdev.Line
}

func (p *cdevPower) Set(on bool) error {
	if on {
		return p.line.SetValue(1)
	}
	return p.line.SetValue(0)
}

func (p *cdevPower) Close() error {
	_ = p.line.SetValue(0)
	return p.line.Close()
}
