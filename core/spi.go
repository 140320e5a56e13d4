// SPI (Serial Peripheral Interface) bus wrapper
// Implements the transaction/configuration lifecycle and byte, 16-bit and
// buffer transfer primitives on top of a registered PortDriver.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"
)

// transferTimeout bounds every blocking transfer. Drivers that cannot
// complete within it report ErrTimeout.
const transferTimeout = 1000 * time.Millisecond

var (
	// ErrNotConfigured is returned by transfers issued before Configure or
	// BeginTransaction, or after Close.
	ErrNotConfigured = errors.New("spi: bus not configured")

	// ErrInvalidPin is returned by Configure when a required pin of the
	// binding did not resolve to a hardware pin of the peripheral.
	ErrInvalidPin = errors.New("spi: pin not connected")

	// ErrTimeout is reported by drivers when the peripheral did not
	// complete a transfer within the deadline.
	ErrTimeout = errors.New("spi: transfer timeout")

	// ErrUnsupported is returned for operations the registered driver has
	// no capability for.
	ErrUnsupported = errors.New("spi: not supported by driver")
)

// Bus is a logical SPI controller bound to one set of pins. It caches the
// active Settings snapshot and reprograms the peripheral whenever the
// snapshot is replaced.
//
// A Bus performs no internal locking: it assumes one execution context
// drives it at a time. BeginTransaction/EndTransaction bracket transfers
// for API compatibility but provide no mutual exclusion; callers sharing a
// Bus across goroutines must add their own mutex.
//
// Bus implements drivers.SPI, so TinyGo device drivers can sit directly on
// top of it.
type Bus struct {
	binding PinBinding
	handle  PortHandle

	settings   Settings
	resolved   bool // pins resolved into handle
	configured bool // peripheral programmed, transfers allowed
}

var _ drivers.SPI = (*Bus)(nil)

// New creates a Bus bound to the given pins. Nothing touches the hardware
// until Configure or BeginTransaction; pin resolution is deferred to that
// point so the binding can be built before a driver is registered.
func New(binding PinBinding) *Bus {
	return &Bus{
		binding:  binding,
		settings: DefaultSettings(),
	}
}

// NewDefault creates a Bus on the board's default SPI pins as registered
// by the target package.
func NewDefault() *Bus {
	return New(DefaultBinding())
}

// Binding returns the pin binding the bus was created with.
func (b *Bus) Binding() PinBinding {
	return b.binding
}

// Settings returns the currently cached configuration snapshot.
func (b *Bus) Settings() Settings {
	return b.settings
}

// Configure programs the peripheral with the cached settings (the defaults,
// unless BeginTransaction or a legacy setter ran first) and makes the bus
// ready for transfers. Calling it again is allowed and simply reprograms.
func (b *Bus) Configure() error {
	// Reset driver state to a clean baseline before programming.
	b.handle.State = nil
	return b.program()
}

// BeginTransaction replaces the cached settings wholesale and reprograms
// the peripheral. There is no transaction stack: a second BeginTransaction
// overwrites the first, it does not nest.
func (b *Bus) BeginTransaction(s Settings) error {
	if !s.valid() {
		return fmt.Errorf("spi: invalid settings mode=%d order=%d", s.Mode, s.Order)
	}
	b.settings = s
	return b.program()
}

// EndTransaction ends a BeginTransaction bracket. It releases nothing and
// provides no mutual exclusion; it exists so call sites can keep the
// begin/end pairing.
func (b *Bus) EndTransaction() {
}

// Close disables the peripheral and releases its claim on the bound pins.
// The bus returns to the unconfigured state; Configure or BeginTransaction
// must run again before further transfers.
func (b *Bus) Close() error {
	if !b.configured {
		return nil
	}
	b.configured = false
	if err := MustPort().Deinitialize(&b.handle); err != nil {
		return fmt.Errorf("spi: deinitialize: %w", err)
	}
	return nil
}

// program resolves pins on first use, then (re)programs the peripheral
// with the cached settings.
func (b *Bus) program() error {
	d := MustPort()

	if !b.resolved {
		b.handle.SCK = d.ResolvePin(b.binding.SCK)
		b.handle.SDO = d.ResolvePin(b.binding.SDO)
		b.handle.SDI = d.ResolvePin(b.binding.SDI)
		if b.binding.HasCS() {
			b.handle.CS = d.ResolvePin(b.binding.CS)
		} else {
			b.handle.CS = NoHardwarePin
		}
		b.resolved = true
	}

	// The original Arduino layer programmed the peripheral with dangling
	// pins and let the bus fail electrically. Surfacing it here instead.
	if b.handle.SCK == NoHardwarePin || b.handle.SDO == NoHardwarePin || b.handle.SDI == NoHardwarePin {
		return ErrInvalidPin
	}
	if b.binding.HasCS() && b.handle.CS == NoHardwarePin {
		return ErrInvalidPin
	}

	if err := d.Initialize(&b.handle, b.settings.Clock, b.settings.Mode, b.settings.Order); err != nil {
		b.configured = false
		return fmt.Errorf("spi: initialize: %w", err)
	}
	b.configured = true

	DebugPrintln("spi: configured clk=" + utoa(b.settings.Clock) +
		" mode=" + utoa(uint32(b.settings.Mode)) +
		" order=" + utoa(uint32(b.settings.Order)))
	return nil
}

// Transfer clocks one byte out and returns the byte clocked in during the
// same 8 bus cycles.
func (b *Bus) Transfer(w byte) (byte, error) {
	if !b.configured {
		return 0, ErrNotConfigured
	}
	tx := [1]byte{w}
	var rx [1]byte
	if err := MustPort().Transfer(&b.handle, tx[:], rx[:], transferTimeout, b.settings.NoReceive); err != nil {
		return 0, err
	}
	return rx[0], nil
}

// Transfer16 clocks two bytes out as one 16-bit value and returns the
// 16-bit value clocked in.
//
// The driver transmits byte-by-byte in memory order, so under MSBFirst the
// value's bytes are swapped before transmission and the received bytes
// swapped back, keeping the numeric value in natural order on both ends.
// Under LSBFirst no swap applies.
func (b *Bus) Transfer16(w uint16) (uint16, error) {
	if !b.configured {
		return 0, ErrNotConfigured
	}
	if b.settings.Order == MSBFirst {
		w = w<<8 | w>>8
	}
	var tx, rx [2]byte
	binary.LittleEndian.PutUint16(tx[:], w)
	if err := MustPort().Transfer(&b.handle, tx[:], rx[:], transferTimeout, b.settings.NoReceive); err != nil {
		return 0, err
	}
	r := binary.LittleEndian.Uint16(rx[:])
	if b.settings.Order == MSBFirst {
		r = r<<8 | r>>8
	}
	return r, nil
}

// Exchange transmits buf and overwrites it in place with the received
// bytes, index-for-index: buf[i] sent corresponds exactly to buf[i]
// received. An empty or nil buffer is a no-op, not an error.
func (b *Bus) Exchange(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !b.configured {
		return ErrNotConfigured
	}
	return MustPort().Transfer(&b.handle, buf, buf, transferTimeout, b.settings.NoReceive)
}

// TxRx transmits w and fills r index-for-index with the received bytes;
// w is never written to. Buffer lengths must match. A nil or empty buffer
// on either side is a no-op, not an error.
func (b *Bus) TxRx(w, r []byte) error {
	if len(w) == 0 || len(r) == 0 {
		return nil
	}
	if !b.configured {
		return ErrNotConfigured
	}
	if len(w) != len(r) {
		return fmt.Errorf("spi: tx/rx length mismatch %d != %d", len(w), len(r))
	}
	return MustPort().Transfer(&b.handle, w, r, transferTimeout, b.settings.NoReceive)
}

// Tx implements the drivers.SPI buffer transfer. Matching-length w and r
// behave like TxRx. A nil r transmits without capturing inbound data; a
// nil w clocks out zeroes while filling r. Anything else is a length
// mismatch error.
func (b *Bus) Tx(w, r []byte) error {
	switch {
	case len(w) == len(r):
		return b.TxRx(w, r)
	case len(r) == 0:
		if !b.configured {
			return ErrNotConfigured
		}
		scratch := make([]byte, len(w))
		return MustPort().Transfer(&b.handle, w, scratch, transferTimeout, true)
	case len(w) == 0:
		if !b.configured {
			return ErrNotConfigured
		}
		zeroes := make([]byte, len(r))
		return MustPort().Transfer(&b.handle, zeroes, r, transferTimeout, b.settings.NoReceive)
	default:
		return fmt.Errorf("spi: tx/rx length mismatch %d != %d", len(w), len(r))
	}
}

// EnableDebugPins routes the given pins to the peripheral's SPI signal
// functions, for peripherals wired to fixed internal pins that can mirror
// the bus on debug-accessible pads. Returns ErrUnsupported when the
// registered driver does not implement PinRouter. CS may be NoPin.
func (b *Bus) EnableDebugPins(sdo, sdi, sck, cs Pin) error {
	d := MustPort()
	router, ok := d.(PinRouter)
	if !ok {
		return ErrUnsupported
	}
	roles := []struct {
		id   Pin
		role SignalRole
	}{
		{sdo, RoleSDO},
		{sdi, RoleSDI},
		{sck, RoleSCK},
		{cs, RoleCS},
	}
	for _, p := range roles {
		if p.id == NoPin {
			continue
		}
		hw := d.ResolvePin(p.id)
		if hw == NoHardwarePin {
			return ErrInvalidPin
		}
		if err := router.RoutePin(hw, p.role); err != nil {
			return fmt.Errorf("spi: route pin: %w", err)
		}
	}
	return nil
}
