//go:build !linux

package bluetooth

import (
	"fmt"

	"github.com/google/uuid"
)

func RFCOMM(channel uint8) ListenFunc {
	return func(id uuid.UUID) (Listener, error) {
		return nil, fmt.Errorf("%w: rfcomm not supported on this platform", ErrTransportUnavailable)
	}
}
