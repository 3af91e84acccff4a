//go:build linux

package motor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// sysfsChannel drives one channel of a /sys/class/pwm chip.
//
// The ESCs want a steady 50 Hz frame; period is set once at arm time and only
// duty_cycle changes afterwards. Sysfs requires duty <= period at all times,
// which the pulse plan guarantees (max pulse 2 ms on a 20 ms period).
type sysfsChannel struct {
	chipPath string
	pwmPath  string
	channel  int
}

func openChannel(chipPath string, channel int) (pwmChannel, error) {
	if chipPath == "" {
		return nil, fmt.Errorf("motor: chip path is empty")
	}
	c := &sysfsChannel{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := c.ensureExported(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *sysfsChannel) ensureExported() error {
	if _, err := os.Stat(c.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(c.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(c.channel)); err != nil {
		// Already exported by someone else is fine.
		if _, statErr := os.Stat(c.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("motor: export pwm%d: %w", c.channel, err)
	}

	// Wait briefly for the sysfs node to appear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(c.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(c.pwmPath); err != nil {
		return fmt.Errorf("motor: pwm%d not created after export: %w", c.channel, err)
	}
	return nil
}

func (c *sysfsChannel) SetPeriodNS(ns int64) error {
	return c.write("period", ns)
}

func (c *sysfsChannel) SetDutyNS(ns int64) error {
	return c.write("duty_cycle", ns)
}

func (c *sysfsChannel) Enable(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return writeSysfs(filepath.Join(c.pwmPath, "enable"), v)
}

func (c *sysfsChannel) Close() error {
	// Leave the channel at stop pulse but disabled.
	return c.Enable(false)
}

func (c *sysfsChannel) write(name string, v int64) error {
	return writeSysfs(filepath.Join(c.pwmPath, name), strconv.FormatInt(v, 10))
}

// writeSysfs opens O_WRONLY without truncation flags: some sysfs attributes
// reject O_TRUNC at open() time. Right after export, udev may still be fixing
// permissions, so permission and not-exist errors retry briefly.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		if werr != nil {
			lastErr = werr
		} else {
			lastErr = cerr
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		if werr != nil {
			return werr
		}
		return cerr
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) ||
		errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}
