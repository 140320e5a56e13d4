package core

import "time"

// Pin identifies a logical pin by board pin number, before resolution
// against the hardware pin map.
type Pin uint32

// NoPin marks a pin role as not connected. A binding with CS set to NoPin
// runs without hardware chip select.
const NoPin Pin = 0xFFFFFFFF

// HardwarePin is a resolved hardware pin reference. The core never
// interprets it beyond comparing against NoHardwarePin; only the driver
// knows what it addresses.
type HardwarePin uint32

// NoHardwarePin is returned by ResolvePin for identifiers that do not map
// to any pin of the peripheral.
const NoHardwarePin HardwarePin = 0xFFFFFFFF

// SignalRole names the four SPI signal functions a pin can be routed to.
type SignalRole uint8

const (
	RoleSCK SignalRole = iota
	RoleSDO
	RoleSDI
	RoleCS
)

// PortHandle carries the per-bus peripheral state passed to every driver
// call. The core fills in the resolved pins once; State belongs to the
// driver and is never interpreted here.
type PortHandle struct {
	SCK HardwarePin
	SDO HardwarePin
	SDI HardwarePin
	CS  HardwarePin // NoHardwarePin when running without hardware chip select

	// State is driver-private peripheral state (register base, controller
	// instance, remote session, ...). Configure resets it to nil so the
	// driver starts from a clean baseline.
	State interface{}
}

// PortDriver is the abstract SPI peripheral interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type PortDriver interface {
	// ResolvePin maps a board pin number to a hardware pin reference.
	// Returns NoHardwarePin for identifiers the peripheral cannot serve.
	ResolvePin(id Pin) HardwarePin

	// Initialize programs the peripheral for the given clock frequency,
	// data mode and bit order, claiming the pins recorded in the handle.
	Initialize(h *PortHandle, clock uint32, mode Mode, order BitOrder) error

	// Deinitialize disables the peripheral and releases its pins.
	Deinitialize(h *PortHandle) error

	// Transfer performs a blocking full-duplex transfer: w is clocked out
	// and r is filled byte-for-byte, len(w) == len(r). When noReceive is
	// set the driver only drives clock and data out; r contents are then
	// unspecified. The driver must give up after timeout and report it.
	Transfer(h *PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error

	// ClockFrequency returns the peripheral's current source clock in Hz.
	// Only used by the legacy clock-divider setter; the value can go stale
	// if the system clock tree is reconfigured between calls.
	ClockFrequency(h *PortHandle) uint32
}

// PinRouter is an optional driver capability for routing individual pins to
// peripheral signal functions. Peripherals with no general-purpose pin
// multiplexing of their own (or drivers that pre-route everything in
// Initialize) simply don't implement it.
type PinRouter interface {
	RoutePin(pin HardwarePin, role SignalRole) error
}

// Global singleton used by core code.
var portDriver PortDriver

// SetPortDriver is called by target-specific code to register its driver.
func SetPortDriver(d PortDriver) {
	portDriver = d
}

// MustPort returns the configured driver or panics if missing.
func MustPort() PortDriver {
	if portDriver == nil {
		panic("SPI port driver not configured")
	}
	return portDriver
}
