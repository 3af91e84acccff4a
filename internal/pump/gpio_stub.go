//go:build !linux

package pump

import "fmt"

func openLine(chip string, offset int) (gpioLine, error) {
	return nil, fmt.Errorf("pump: gpio not supported on this platform")
}
