//go:build !linux

package motor

import "fmt"

func openChannel(chipPath string, channel int) (pwmChannel, error) {
	return nil, fmt.Errorf("motor: sysfs pwm not supported on this platform")
}
