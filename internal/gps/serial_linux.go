//go:build linux

package gps

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// nmeaBauds maps the rates u-blox class receivers ship with onto termios
// speed flags.
var nmeaBauds = map[int]uint32{
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// openSerial opens the receiver in raw 8N1 mode. NMEA is plain ASCII lines,
// so all kernel line processing is switched off; VMIN/VTIME are set so reads
// return on the first byte but a dead receiver cannot wedge the scanner for
// more than a second.
func openSerial(path string, baud int) (*os.File, error) {
	spd, ok := nmeaBauds[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud %d", baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	if err := rawMode(fd, spd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("os.NewFile failed for %s", path)
	}
	return f, nil
}

func rawMode(fd int, spd uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | spd
	t.Ispeed = spd
	t.Ospeed = spd

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 10

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
