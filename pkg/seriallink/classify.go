package seriallink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"go.bug.st/serial"
)

// ErrorKind separates errors worth retrying in place from errors that mean
// the device is gone and the supervisor must rebuild the link.
type ErrorKind int

const (
	// Transient errors clear on their own; the caller retries later.
	Transient ErrorKind = iota
	// Fatal errors mean the handle is dead. Only these trigger a reconnect.
	Fatal
)

func (k ErrorKind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// LinkError wraps an I/O error with its classification and the operation
// that produced it.
type LinkError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Classify wraps err as a LinkError. Device-removal errnos and closed
// handles are Fatal; everything else is assumed to clear on retry.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var le *LinkError
	if errors.As(err, &le) {
		return err
	}

	kind := Transient
	switch {
	case errors.Is(err, syscall.EIO),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.EBADF),
		errors.Is(err, syscall.EPIPE):
		kind = Fatal
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
		kind = Fatal
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.ETIMEDOUT):
		kind = Transient
	default:
		var portErr *serial.PortError
		if errors.As(err, &portErr) {
			kind = Fatal
		}
	}

	return &LinkError{Kind: kind, Op: op, Err: err}
}

// IsFatal reports whether err carries a Fatal classification.
func IsFatal(err error) bool {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Kind == Fatal
	}
	return false
}
