//go:build !linux

package monitor

import (
	"context"
	"time"
)

func readResources(context.Context, string, time.Duration) (Resources, error) {
	return Resources{}, ErrUnsupported
}
