package seriallink

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// VirtualPort is the client-facing CAT endpoint: a pseudo-terminal pair
// plus a stable symlink that Hamlib/WSJT-X/JS8Call open like a real
// serial device.
type VirtualPort struct {
	master   *os.File
	slave    *os.File
	linkPath string
	log      *logging.Logger
}

// OpenVirtualPort allocates a pty pair, configures the slave side to look
// like a dumb 115200 serial line, and points linkPath at it.
func OpenVirtualPort(linkPath string) (*VirtualPort, error) {
	master, slave, err := termios.Pty()
	if err != nil {
		return nil, fmt.Errorf("pty allocation failed: %w", err)
	}

	if err := configureSlave(slave); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}

	if linkPath != "" {
		// A stale symlink from a previous run would break the client open
		os.Remove(linkPath)
		if err := os.Symlink(slave.Name(), linkPath); err != nil {
			master.Close()
			slave.Close()
			return nil, fmt.Errorf("symlink %s: %w", linkPath, err)
		}
	}

	v := &VirtualPort{
		master:   master,
		slave:    slave,
		linkPath: linkPath,
		log:      logging.ForComponent("vport"),
	}
	v.log.Infof("CAT endpoint %s -> %s", linkPath, slave.Name())
	return v, nil
}

// configureSlave disables echo so our responses don't loop back, keeps the
// line up when clients close it, and fixes the advertised speed.
func configureSlave(slave *os.File) error {
	var attr unix.Termios
	if err := termios.Tcgetattr(slave.Fd(), &attr); err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}
	attr.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHOKE | unix.ECHOCTL
	attr.Cflag &^= unix.HUPCL
	attr.Ispeed = unix.B115200
	attr.Ospeed = unix.B115200
	if err := termios.Tcsetattr(slave.Fd(), termios.TCSANOW, &attr); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}
	return nil
}

// Name returns the slave device path clients actually open.
func (v *VirtualPort) Name() string {
	return v.slave.Name()
}

// LinkPath returns the stable symlink path.
func (v *VirtualPort) LinkPath() string {
	return v.linkPath
}

// ReadAvailable reads whatever client bytes are queued, waiting at most
// timeout. No data within the timeout is not an error.
func (v *VirtualPort) ReadAvailable(buf []byte, timeout time.Duration) (int, error) {
	if err := v.master.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := v.master.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// Write sends response bytes to the client side.
func (v *VirtualPort) Write(p []byte) (int, error) {
	return v.master.Write(p)
}

// SetRTS is a no-op: a pty has no modem control lines, but CAT clients
// toggle them during open and must not see an error.
func (v *VirtualPort) SetRTS(on bool) error {
	return nil
}

// SetDTR is a no-op for the same reason as SetRTS.
func (v *VirtualPort) SetDTR(on bool) error {
	return nil
}

// Close removes the symlink and tears down the pty pair.
func (v *VirtualPort) Close() error {
	if v.linkPath != "" {
		os.Remove(v.linkPath)
	}
	err := v.master.Close()
	if serr := v.slave.Close(); err == nil {
		err = serr
	}
	return err
}
