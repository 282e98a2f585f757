package gpio

import (
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPin drives a line through periph.io's host drivers.
type PeriphPin struct {
	name  string
	pin   gpio.PinIO
	level gpio.Level
}

// OpenPeriph initialises the periph host and looks up the named pin
// ("GPIO4", "P1_7", ...). An empty name falls back to GPIO<number>.
func OpenPeriph(name string, number int) (*PeriphPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	if name == "" {
		name = fmt.Sprintf("GPIO%d", number)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no gpio pin named %q", name)
	}
	pp := &PeriphPin{name: name, pin: p, level: gpio.High}
	if err := pp.SetDirection(Input); err != nil {
		return nil, err
	}
	return pp, nil
}

func (p *PeriphPin) SetDirection(dir Direction) error {
	if dir == Output {
		return errors.Wrapf(p.pin.Out(p.level), "%s: output", p.name)
	}
	return errors.Wrapf(p.pin.In(gpio.PullUp, gpio.NoEdge), "%s: input", p.name)
}

func (p *PeriphPin) SetLevel(level Level) error {
	p.level = gpio.Level(level == High)
	return errors.Wrapf(p.pin.Out(p.level), "%s: set %s", p.name, level)
}

func (p *PeriphPin) ReadLevel() (Level, error) {
	if p.pin.Read() == gpio.High {
		return High, nil
	}
	return Low, nil
}

func (p *PeriphPin) DelayMicroseconds(n int) { DelayMicroseconds(n) }

// Close leaves the line released and halts the driver.
func (p *PeriphPin) Close() error {
	if err := p.SetDirection(Input); err != nil {
		return err
	}
	return errors.Wrapf(p.pin.Halt(), "%s: halt", p.name)
}
