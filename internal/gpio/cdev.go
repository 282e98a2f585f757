package gpio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// CdevPin drives a line through the Linux GPIO character device.
type CdevPin struct {
	chip   string
	offset int
	line   *gpiocdev.Line
	level  int
}

// OpenCdev requests offset on chip (e.g. "gpiochip0") as a pulled-up input.
func OpenCdev(chip string, offset int, consumer string) (*CdevPin, error) {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s:%d", chip, offset)
	}
	return &CdevPin{chip: chip, offset: offset, line: l, level: 1}, nil
}

func (p *CdevPin) SetDirection(dir Direction) error {
	var err error
	if dir == Output {
		err = p.line.Reconfigure(gpiocdev.AsOutput(p.level))
	} else {
		err = p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp)
	}
	return errors.Wrapf(err, "%s:%d: set %s", p.chip, p.offset, dir)
}

func (p *CdevPin) SetLevel(level Level) error {
	p.level = int(level)
	return errors.Wrapf(p.line.SetValue(p.level), "%s:%d: set %s", p.chip, p.offset, level)
}

func (p *CdevPin) ReadLevel() (Level, error) {
	v, err := p.line.Value()
	if err != nil {
		return Low, errors.Wrapf(err, "%s:%d: read", p.chip, p.offset)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

func (p *CdevPin) DelayMicroseconds(n int) { DelayMicroseconds(n) }

func (p *CdevPin) Close() error {
	return errors.Wrapf(p.line.Close(), "%s:%d: close", p.chip, p.offset)
}
