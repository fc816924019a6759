//go:build !linux

package device

import (
	"context"
	"errors"
)

// DialBitalino returns an error on non-Linux platforms.
func DialBitalino(ctx context.Context, address string) (Device, error) {
	return nil, errors.New("device: bitalino transport not supported on this platform (requires Linux)")
}
