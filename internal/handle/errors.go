package handle

import (
	"errors"

	"github.com/roach88/cellsync/internal/proxy"
)

// Capability errors.
var (
	ErrNotReadable = errors.New("handle not readable")
	ErrNotWritable = errors.New("handle not writeable")
)

// Configuration errors.
var (
	// ErrUnknownOption is returned by Configure for an unrecognized option.
	ErrUnknownOption = proxy.ErrUnknownOption

	// ErrNotConfigurable is returned by Configure on BigCollection handles.
	ErrNotConfigurable = errors.New("handle cannot be configured")

	// ErrInvalidPageSize is returned by Stream for a page size below one.
	ErrInvalidPageSize = errors.New("streamed reads require a positive page size")
)
