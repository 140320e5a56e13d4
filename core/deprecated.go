package core

import "fmt"

// Legacy per-field configuration setters kept for callers ported from the
// Arduino-style API. Each one derives a fresh Settings snapshot and
// reprograms the peripheral, exactly as if BeginTransaction had been called
// with the updated snapshot.

// SetBitOrder replaces the cached bit order and reprograms the peripheral.
//
// Deprecated: Use BeginTransaction with a full Settings snapshot.
func (b *Bus) SetBitOrder(o BitOrder) error {
	if o > LSBFirst {
		return fmt.Errorf("spi: invalid bit order %d", o)
	}
	b.settings = b.settings.WithOrder(o)
	return b.program()
}

// SetDataMode replaces the cached data mode and reprograms the peripheral.
// Each of the four canonical modes maps to exactly one internal constant;
// an out-of-range value changes nothing.
//
// Deprecated: Use BeginTransaction with a full Settings snapshot.
func (b *Bus) SetDataMode(m Mode) error {
	if m > Mode3 {
		return fmt.Errorf("spi: invalid data mode %d", m)
	}
	b.settings = b.settings.WithMode(m)
	return b.program()
}

// SetClockDivider sets the bus clock to the peripheral's current source
// clock divided by div, with integer division. Divider 0 restores
// DefaultClock instead of dividing by zero.
//
// The source clock is queried from the driver at call time; if the system
// clock tree is reconfigured afterwards the computed frequency goes stale.
//
// Deprecated: Use BeginTransaction with a full Settings snapshot.
func (b *Bus) SetClockDivider(div uint8) error {
	if div == 0 {
		b.settings = b.settings.WithClock(DefaultClock)
	} else {
		base := MustPort().ClockFrequency(&b.handle)
		b.settings = b.settings.WithClock(base / uint32(div))
	}
	return b.program()
}

// UsingInterrupt is not implemented: this layer performs no interrupt
// masking around transfers.
func (b *Bus) UsingInterrupt(interruptNumber uint8) {
}

// AttachInterrupt is not implemented.
func (b *Bus) AttachInterrupt() {
}

// DetachInterrupt is not implemented.
func (b *Bus) DetachInterrupt() {
}
