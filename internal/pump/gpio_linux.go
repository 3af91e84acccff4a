//go:build linux

package pump

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

type gpiodLine struct {
	line *gpiocdev.Line
}

func openLine(chip string, offset int) (gpioLine, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0), gpiocdev.WithConsumer("usv-nav-pump"))
	if err != nil {
		return nil, fmt.Errorf("pump: request %s:%d: %w", chip, offset, err)
	}
	return &gpiodLine{line: line}, nil
}

func (g *gpiodLine) Set(value int) error {
	return g.line.SetValue(value)
}

func (g *gpiodLine) Close() error {
	_ = g.line.SetValue(0)
	return g.line.Close()
}
