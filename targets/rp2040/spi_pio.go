//go:build rp2040

package rp2040

import (
	"errors"
	"machine"
	"sync"
	"time"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"

	"spibus/core"
)

// PIODriver is a core.PortDriver backed by a PIO state machine instead of
// the PL022 controllers. It frees both hardware SPI blocks and works on
// any GPIO triple, at the cost of two restrictions of the PIO program:
// only modes 0 and 1, MSB-first only.
type PIODriver struct {
	mu sync.Mutex

	// One programmed state machine per clock pin. Reprogramming adds the
	// PIO program again, so frequent reconfiguration with different
	// settings will exhaust PIO instruction memory.
	ports map[core.HardwarePin]*pioPort
}

var _ core.PortDriver = (*PIODriver)(nil)

type pioPort struct {
	sm    pio.StateMachine
	spi   *piolib.SPI
	clock uint32
	mode  core.Mode
}

// NewPIODriver creates the PIO-backed SPI driver.
func NewPIODriver() *PIODriver {
	return &PIODriver{ports: make(map[core.HardwarePin]*pioPort)}
}

// RegisterPIO installs the PIO driver as the process-wide SPI backend.
func RegisterPIO() {
	core.SetPortDriver(NewPIODriver())
}

// ResolvePin maps a board pin number to a hardware pin reference. PIO can
// drive any GPIO, so the only check is the pin range.
func (d *PIODriver) ResolvePin(id core.Pin) core.HardwarePin {
	if id > maxGPIO {
		return core.NoHardwarePin
	}
	return core.HardwarePin(id)
}

// Initialize claims a state machine for the handle's clock pin (or reuses
// the one already programmed with identical settings) and loads the SPI
// program.
func (d *PIODriver) Initialize(h *core.PortHandle, clock uint32, mode core.Mode, order core.BitOrder) error {
	if mode > core.Mode1 {
		return errors.New("PIO SPI program supports modes 0 and 1 only")
	}
	if order != core.MSBFirst {
		return errors.New("PIO SPI program shifts MSB first only")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var sm pio.StateMachine
	if p, exists := d.ports[h.SCK]; exists {
		if p.clock == clock && p.mode == mode {
			h.State = p
			return nil
		}
		// Settings changed: stop the old program and reuse its state
		// machine for the fresh one.
		p.sm.SetEnabled(false)
		delete(d.ports, h.SCK)
		sm = p.sm
	} else {
		var err error
		sm, err = pio.PIO0.ClaimStateMachine()
		if err != nil {
			return err
		}
	}
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: clock,
		Mode:      uint8(mode),
		SCK:       machine.Pin(h.SCK),
		SDO:       machine.Pin(h.SDO),
		SDI:       machine.Pin(h.SDI),
	})
	if err != nil {
		sm.SetEnabled(false)
		return err
	}

	p := &pioPort{sm: sm, spi: spi, clock: clock, mode: mode}
	d.ports[h.SCK] = p
	h.State = p
	return nil
}

// Deinitialize stops the state machine and parks the pins as inputs.
func (d *PIODriver) Deinitialize(h *core.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := h.State.(*pioPort)
	if !ok {
		return nil
	}
	p.sm.SetEnabled(false)
	delete(d.ports, h.SCK)

	input := machine.PinConfig{Mode: machine.PinInput}
	machine.Pin(h.SCK).Configure(input)
	machine.Pin(h.SDO).Configure(input)
	machine.Pin(h.SDI).Configure(input)
	h.State = nil
	return nil
}

// Transfer performs the full-duplex exchange through the state machine
// FIFOs. The PIO program always clocks data in, so noReceive saves
// nothing here; the received bytes simply land in r as usual.
func (d *PIODriver) Transfer(h *core.PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error {
	p, ok := h.State.(*pioPort)
	if !ok {
		return core.ErrNotConfigured
	}
	if len(w) != len(r) {
		return errors.New("tx and rx buffer lengths must match")
	}
	return p.spi.Tx(w, r)
}

// ClockFrequency returns the system clock the PIO divider runs from.
func (d *PIODriver) ClockFrequency(h *core.PortHandle) uint32 {
	return machine.CPUFrequency()
}
