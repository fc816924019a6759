//go:build linux

package device

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// rfcommChannel is the RFCOMM channel the board's serial profile listens on.
const rfcommChannel = 1

// DialBitalino connects to a board. A MAC address ("00:21:08:35:15:17")
// opens an RFCOMM socket; anything else is treated as a serial tty path
// such as /dev/rfcomm0 or /dev/ttyUSB0.
func DialBitalino(ctx context.Context, address string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		f   *os.File
		err error
	)
	if mac, perr := net.ParseMAC(address); perr == nil && len(mac) == 6 {
		f, err = openRFCOMM(mac)
	} else if strings.HasPrefix(address, "/") {
		f, err = openSerial(address)
	} else {
		return nil, fmt.Errorf("unrecognised device address %q", address)
	}
	if err != nil {
		return nil, err
	}
	return NewBitalino(f), nil
}

func openRFCOMM(mac net.HardwareAddr) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	// Bluetooth addresses are little-endian on the wire.
	sa := &unix.SockaddrRFCOMM{Channel: rfcommChannel}
	for i := 0; i < 6; i++ {
		sa.Addr[i] = mac[5-i]
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s: %w", mac, err)
	}
	// Non-blocking so the runtime poller can interrupt reads on Close.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), "rfcomm:"+mac.String()), nil
}

func openSerial(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios %s: %w", path, err)
	}

	// Raw 8N1 at 115200 baud.
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL | unix.B115200
	t.Ispeed = unix.B115200
	t.Ospeed = unix.B115200
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
