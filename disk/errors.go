package disk

import (
	"errors"
	"fmt"
)

var (
	ErrDiskFull        = errors.New("disk full")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("operation not supported")
	ErrMalformed       = errors.New("malformed disk structure")
	ErrNotFound        = errors.New("file not found")
)

// DiskFullError carries the file being written when space ran out.
type DiskFullError struct {
	Filename string
	Reason   string
}

func (e *DiskFullError) Error() string {
	if e.Filename == "" {
		return "disk full: " + e.Reason
	}
	return fmt.Sprintf("disk full: %s (%s)", e.Reason, e.Filename)
}

func (e *DiskFullError) Is(target error) bool {
	return target == ErrDiskFull
}

func diskFull(filename string, reason string) error {
	return &DiskFullError{Filename: filename, Reason: reason}
}

func invalidArgf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, v...))
}

func unsupportedf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, v...))
}

func malformedf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, v...))
}

func isDiskFull(err error) bool {
	return errors.Is(err, ErrDiskFull)
}
