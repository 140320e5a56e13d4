package core

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// loopbackDriver is a test PortDriver with the data-out pin wired back to
// data-in: every byte clocked out comes straight back.
type loopbackDriver struct {
	baseClock uint32

	inits         []initRecord
	deinits       int
	transfers     int
	lastWire      []byte // bytes as they appeared on the wire
	lastNoReceive bool
	failWith      error
}

type initRecord struct {
	clock uint32
	mode  Mode
	order BitOrder
}

func (d *loopbackDriver) ResolvePin(id Pin) HardwarePin {
	if id >= 32 {
		return NoHardwarePin
	}
	return HardwarePin(id)
}

func (d *loopbackDriver) Initialize(h *PortHandle, clock uint32, mode Mode, order BitOrder) error {
	d.inits = append(d.inits, initRecord{clock: clock, mode: mode, order: order})
	h.State = d
	return nil
}

func (d *loopbackDriver) Deinitialize(h *PortHandle) error {
	d.deinits++
	return nil
}

func (d *loopbackDriver) Transfer(h *PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error {
	d.transfers++
	d.lastNoReceive = noReceive
	d.lastWire = append(d.lastWire[:0], w...)
	if d.failWith != nil {
		return d.failWith
	}
	if !noReceive {
		copy(r, d.lastWire)
	}
	return nil
}

func (d *loopbackDriver) ClockFrequency(h *PortHandle) uint32 {
	return d.baseClock
}

// routingDriver adds the PinRouter capability on top of loopbackDriver.
type routingDriver struct {
	loopbackDriver
	routed []routedPin
}

type routedPin struct {
	pin  HardwarePin
	role SignalRole
}

func (d *routingDriver) RoutePin(pin HardwarePin, role SignalRole) error {
	d.routed = append(d.routed, routedPin{pin: pin, role: role})
	return nil
}

func testBinding() PinBinding {
	return PinBinding{SCK: 2, SDO: 3, SDI: 0, CS: NoPin}
}

func setupLoopback(t *testing.T) (*loopbackDriver, *Bus) {
	t.Helper()
	drv := &loopbackDriver{baseClock: 84000000}
	SetPortDriver(drv)
	return drv, New(testBinding())
}

func TestTransferBeforeConfigure(t *testing.T) {
	_, bus := setupLoopback(t)

	if _, err := bus.Transfer(0xA5); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Transfer before Configure: got %v, want ErrNotConfigured", err)
	}
	if _, err := bus.Transfer16(0x1234); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Transfer16 before Configure: got %v, want ErrNotConfigured", err)
	}
	if err := bus.Exchange([]byte{1}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Exchange before Configure: got %v, want ErrNotConfigured", err)
	}
	if err := bus.TxRx([]byte{1}, []byte{0}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("TxRx before Configure: got %v, want ErrNotConfigured", err)
	}
}

func TestConfigureUsesDefaults(t *testing.T) {
	drv, bus := setupLoopback(t)

	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if len(drv.inits) != 1 {
		t.Fatalf("expected 1 peripheral init, got %d", len(drv.inits))
	}
	got := drv.inits[0]
	if got.clock != DefaultClock || got.mode != Mode0 || got.order != MSBFirst {
		t.Errorf("default init = %+v, want clk=%d mode=0 msb-first", got, DefaultClock)
	}
}

func TestBeginTransactionOverwrites(t *testing.T) {
	drv, bus := setupLoopback(t)

	a := Settings{Clock: 8000000, Mode: Mode3, Order: LSBFirst}
	b := Settings{Clock: 1000000, Mode: Mode1, Order: MSBFirst}

	if err := bus.BeginTransaction(a); err != nil {
		t.Fatalf("BeginTransaction(a) failed: %v", err)
	}
	if err := bus.BeginTransaction(b); err != nil {
		t.Fatalf("BeginTransaction(b) failed: %v", err)
	}
	bus.EndTransaction()

	if bus.Settings() != b {
		t.Errorf("cached settings = %+v, want %+v", bus.Settings(), b)
	}

	// Configuring A then B must leave the peripheral exactly as B alone.
	drv2 := &loopbackDriver{baseClock: 84000000}
	SetPortDriver(drv2)
	bus2 := New(testBinding())
	if err := bus2.BeginTransaction(b); err != nil {
		t.Fatalf("BeginTransaction(b) on fresh bus failed: %v", err)
	}
	last := drv.inits[len(drv.inits)-1]
	if last != drv2.inits[len(drv2.inits)-1] {
		t.Errorf("A-then-B programmed %+v, B-alone programmed %+v", last, drv2.inits[0])
	}
}

func TestBeginTransactionRejectsInvalidSettings(t *testing.T) {
	drv, bus := setupLoopback(t)

	err := bus.BeginTransaction(Settings{Clock: 1000000, Mode: Mode(7)})
	if err == nil {
		t.Fatal("expected error for out-of-range mode")
	}
	if len(drv.inits) != 0 {
		t.Errorf("peripheral was programmed %d times despite invalid settings", len(drv.inits))
	}
}

// The concrete end-to-end scenario: 1MHz, mode 0, MSB first, loopback.
func TestLoopbackScenario(t *testing.T) {
	_, bus := setupLoopback(t)

	if err := bus.BeginTransaction(Settings{Clock: 1000000, Mode: Mode0, Order: MSBFirst}); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}

	got, err := bus.Transfer(0xA5)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if got != 0xA5 {
		t.Errorf("Transfer(0xA5) = 0x%02X, want 0xA5", got)
	}

	got16, err := bus.Transfer16(0x1234)
	if err != nil {
		t.Fatalf("Transfer16 failed: %v", err)
	}
	if got16 != 0x1234 {
		t.Errorf("Transfer16(0x1234) = 0x%04X, want 0x1234", got16)
	}

	buf := []byte{0x01, 0x02, 0x03}
	if err := bus.Exchange(buf); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Exchange under loopback changed buffer to %v", buf)
	}

	bus.EndTransaction()
}

func TestTransfer16WireOrder(t *testing.T) {
	testCases := []struct {
		name     string
		order    BitOrder
		value    uint16
		wantWire []byte
	}{
		{name: "msb first swaps to natural wire order", order: MSBFirst, value: 0x1234, wantWire: []byte{0x12, 0x34}},
		{name: "lsb first goes out unswapped", order: LSBFirst, value: 0x1234, wantWire: []byte{0x34, 0x12}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			drv, bus := setupLoopback(t)
			if err := bus.BeginTransaction(Settings{Clock: 1000000, Order: tc.order}); err != nil {
				t.Fatalf("BeginTransaction failed: %v", err)
			}

			got, err := bus.Transfer16(tc.value)
			if err != nil {
				t.Fatalf("Transfer16 failed: %v", err)
			}
			if !bytes.Equal(drv.lastWire, tc.wantWire) {
				t.Errorf("wire bytes = %#v, want %#v", drv.lastWire, tc.wantWire)
			}
			// Loopback must reconstruct the value exactly in both orders.
			if got != tc.value {
				t.Errorf("loopback round trip = 0x%04X, want 0x%04X", got, tc.value)
			}
		})
	}
}

func TestExchangeNoOp(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := bus.Exchange(nil); err != nil {
		t.Errorf("Exchange(nil) = %v, want nil", err)
	}
	if err := bus.Exchange([]byte{}); err != nil {
		t.Errorf("Exchange(empty) = %v, want nil", err)
	}
	if drv.transfers != 0 {
		t.Errorf("no-op exchanges reached the driver %d times", drv.transfers)
	}
}

func TestTxRx(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	w := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	orig := append([]byte(nil), w...)
	r := make([]byte, len(w))
	if err := bus.TxRx(w, r); err != nil {
		t.Fatalf("TxRx failed: %v", err)
	}
	if !bytes.Equal(w, orig) {
		t.Errorf("output buffer was mutated: %v", w)
	}
	if !bytes.Equal(r, orig) {
		t.Errorf("input buffer = %v, want %v under loopback", r, orig)
	}

	// Missing buffer on either side is a no-op.
	before := drv.transfers
	if err := bus.TxRx(nil, r); err != nil {
		t.Errorf("TxRx(nil, r) = %v, want nil", err)
	}
	if err := bus.TxRx(w, nil); err != nil {
		t.Errorf("TxRx(w, nil) = %v, want nil", err)
	}
	if drv.transfers != before {
		t.Errorf("no-op TxRx reached the driver")
	}

	// Mismatched lengths are an error, not silent truncation.
	if err := bus.TxRx(w, make([]byte, 2)); err == nil {
		t.Error("expected error for mismatched buffer lengths")
	}
}

func TestTxDriverCompat(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	// Write-only: nil read buffer suppresses receive at the driver.
	if err := bus.Tx([]byte{1, 2, 3}, nil); err != nil {
		t.Fatalf("Tx write-only failed: %v", err)
	}
	if !drv.lastNoReceive {
		t.Error("write-only Tx did not suppress receive")
	}

	// Read-only: zeroes are clocked out.
	r := make([]byte, 3)
	if err := bus.Tx(nil, r); err != nil {
		t.Fatalf("Tx read-only failed: %v", err)
	}
	if !bytes.Equal(drv.lastWire, []byte{0, 0, 0}) {
		t.Errorf("read-only Tx clocked out %v, want zeroes", drv.lastWire)
	}

	if err := bus.Tx(make([]byte, 3), make([]byte, 2)); err == nil {
		t.Error("expected error for mismatched non-empty buffers")
	}
}

func TestNoReceiveSetting(t *testing.T) {
	drv, bus := setupLoopback(t)
	s := DefaultSettings().WithNoReceive(true)
	if err := bus.BeginTransaction(s); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := bus.Transfer(0x55); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !drv.lastNoReceive {
		t.Error("NoReceive setting was not forwarded to the driver")
	}
}

func TestTransferErrorSurfaces(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	drv.failWith = ErrTimeout
	if _, err := bus.Transfer(0xFF); !errors.Is(err, ErrTimeout) {
		t.Errorf("Transfer with timed-out driver = %v, want ErrTimeout", err)
	}
	if err := bus.Exchange([]byte{1, 2}); !errors.Is(err, ErrTimeout) {
		t.Errorf("Exchange with timed-out driver = %v, want ErrTimeout", err)
	}
}

func TestCloseAndReconfigure(t *testing.T) {
	drv, bus := setupLoopback(t)
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if drv.deinits != 1 {
		t.Errorf("expected 1 deinit, got %d", drv.deinits)
	}
	if _, err := bus.Transfer(0x01); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Transfer after Close = %v, want ErrNotConfigured", err)
	}

	// Close on an already-closed bus is harmless.
	if err := bus.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if drv.deinits != 1 {
		t.Errorf("second Close reached the driver, deinits = %d", drv.deinits)
	}

	// A fresh Configure brings the bus back.
	if err := bus.Configure(); err != nil {
		t.Fatalf("Configure after Close failed: %v", err)
	}
	if got, err := bus.Transfer(0x42); err != nil || got != 0x42 {
		t.Errorf("Transfer after reconfigure = (0x%02X, %v), want (0x42, nil)", got, err)
	}
}

func TestInvalidPinBinding(t *testing.T) {
	SetPortDriver(&loopbackDriver{})

	bus := New(PinBinding{SCK: 99, SDO: 3, SDI: 0, CS: NoPin})
	if err := bus.Configure(); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("Configure with dangling SCK = %v, want ErrInvalidPin", err)
	}

	// Bad hardware CS is rejected too, but only when one was bound.
	bus = New(PinBinding{SCK: 2, SDO: 3, SDI: 0, CS: 99})
	if err := bus.Configure(); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("Configure with dangling CS = %v, want ErrInvalidPin", err)
	}

	bus = New(testBinding())
	if err := bus.Configure(); err != nil {
		t.Errorf("Configure without CS = %v, want nil", err)
	}
}

func TestEnableDebugPins(t *testing.T) {
	// Driver without the routing capability.
	SetPortDriver(&loopbackDriver{})
	bus := New(testBinding())
	if err := bus.EnableDebugPins(3, 0, 2, 1); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EnableDebugPins on plain driver = %v, want ErrUnsupported", err)
	}

	// Driver with routing: all four roles land, in SDO/SDI/SCK/CS order.
	drv := &routingDriver{}
	SetPortDriver(drv)
	if err := bus.EnableDebugPins(3, 0, 2, 1); err != nil {
		t.Fatalf("EnableDebugPins failed: %v", err)
	}
	want := []routedPin{
		{pin: 3, role: RoleSDO},
		{pin: 0, role: RoleSDI},
		{pin: 2, role: RoleSCK},
		{pin: 1, role: RoleCS},
	}
	if len(drv.routed) != len(want) {
		t.Fatalf("routed %d pins, want %d", len(drv.routed), len(want))
	}
	for i := range want {
		if drv.routed[i] != want[i] {
			t.Errorf("routed[%d] = %+v, want %+v", i, drv.routed[i], want[i])
		}
	}

	// NoPin chip select is skipped, not an error.
	drv.routed = nil
	if err := bus.EnableDebugPins(3, 0, 2, NoPin); err != nil {
		t.Fatalf("EnableDebugPins without CS failed: %v", err)
	}
	if len(drv.routed) != 3 {
		t.Errorf("routed %d pins without CS, want 3", len(drv.routed))
	}
}

func TestDefaultBinding(t *testing.T) {
	saved := DefaultBinding()
	defer SetDefaultBinding(saved)

	want := PinBinding{SCK: 18, SDO: 19, SDI: 16, CS: NoPin}
	SetDefaultBinding(want)
	bus := NewDefault()
	if bus.Binding() != want {
		t.Errorf("NewDefault binding = %+v, want %+v", bus.Binding(), want)
	}
}
