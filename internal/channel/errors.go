package channel

import (
	"context"
	"errors"

	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// ErrClosed is returned by every request on a closed LocalPort.
var ErrClosed = errors.New("port closed")

// protocolError classifies a store failure for the proxy side.
func protocolError(op, storeID string, err error) error {
	code := proxy.ErrCodeRejected
	switch {
	case errors.Is(err, store.ErrStoreNotFound):
		code = proxy.ErrCodeUnknownStore
	case errors.Is(err, store.ErrTypeMismatch):
		code = proxy.ErrCodeKindMismatch
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = proxy.ErrCodeTimeout
	}
	return proxy.NewProtocolError(code, op, storeID, err)
}
