package gpio

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio"
)

// RPIOPin drives a Raspberry Pi line through /dev/gpiomem. Register access is
// memory mapped, which keeps a level read well under a microsecond.
type RPIOPin struct {
	pin rpio.Pin
}

// OpenRPIO maps the GPIO registers and returns the BCM-numbered pin released
// to input with its pull-up enabled.
func OpenRPIO(bcm int) (*RPIOPin, error) {
	if bcm <= 0 {
		return nil, errors.Errorf("invalid BCM pin %d", bcm)
	}
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open gpio memory")
	}
	p := &RPIOPin{pin: rpio.Pin(bcm)}
	p.pin.Input()
	p.pin.PullUp()
	return p, nil
}

func (p *RPIOPin) SetDirection(dir Direction) error {
	if dir == Output {
		p.pin.Output()
		return nil
	}
	p.pin.Input()
	p.pin.PullUp()
	return nil
}

func (p *RPIOPin) SetLevel(level Level) error {
	if level == High {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}

func (p *RPIOPin) ReadLevel() (Level, error) {
	if p.pin.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (p *RPIOPin) DelayMicroseconds(n int) { DelayMicroseconds(n) }

func (p *RPIOPin) Close() error {
	p.pin.Input()
	p.pin.PullUp()
	return errors.Wrap(rpio.Close(), "close gpio memory")
}
