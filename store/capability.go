package store

import (
	"context"

	"go.uber.org/zap"
)

// Capability is the single availability probe for the pin store,
// performed once at startup and passed by reference. When the probe
// fails, every pin-touching operation degrades to a no-op with a null
// result; document state changes still proceed.
type Capability struct {
	pins      PinStore
	available bool
}

// ProbeCapability checks the pin store once and wraps it. A nil store or
// a failing probe yields an unavailable capability, never an error: the
// integration is optional.
func ProbeCapability(ctx context.Context, pins PinStore, logger *zap.Logger) *Capability {
	if pins == nil {
		logger.Warn("pin store not configured; pin sync disabled")
		return &Capability{}
	}
	if _, err := pins.List(ctx, PinFilter{IncludeUnplaced: true}); err != nil {
		logger.Warn("pin store probe failed; pin sync disabled", zap.Error(err))
		return &Capability{}
	}
	return &Capability{pins: pins, available: true}
}

// Available reports whether the pin store answered the startup probe.
func (c *Capability) Available() bool {
	return c != nil && c.available
}

// Pins returns the probed store; nil when unavailable.
func (c *Capability) Pins() PinStore {
	if !c.Available() {
		return nil
	}
	return c.pins
}
