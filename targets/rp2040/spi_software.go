//go:build rp2040 || rp2350

package rp2040

import (
	"errors"
	"machine"
	"sync"
	"time"

	"spibus/core"
)

// SoftDriver is a bit-banged core.PortDriver fallback on plain GPIO. Any
// three pins work, at the price of a much lower ceiling on the clock rate.
// Unlike the hardware controller it honors LSBFirst in the bit loop itself.
type SoftDriver struct {
	mu sync.Mutex
}

var _ core.PortDriver = (*SoftDriver)(nil)

// NewSoftDriver creates the bit-banged driver.
func NewSoftDriver() *SoftDriver {
	return &SoftDriver{}
}

// RegisterSoft installs the bit-banged driver as the process-wide backend.
func RegisterSoft() {
	core.SetPortDriver(NewSoftDriver())
}

// softPort holds the per-bus bit-bang state stored in the handle.
type softPort struct {
	sck   machine.Pin
	sdo   machine.Pin
	sdi   machine.Pin
	cs    machine.Pin
	hasCS bool

	cpol     bool // clock idle level
	cpha     bool // sample on second edge
	lsbFirst bool

	// Delay between clock transitions; two transitions per bit.
	halfPeriod time.Duration
}

// ResolvePin maps a board pin number to a hardware pin reference.
func (d *SoftDriver) ResolvePin(id core.Pin) core.HardwarePin {
	if id > maxGPIO {
		return core.NoHardwarePin
	}
	return core.HardwarePin(id)
}

// Initialize configures the GPIO pins and derives the bit timing.
func (d *SoftDriver) Initialize(h *core.PortHandle, clock uint32, mode core.Mode, order core.BitOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &softPort{
		sck:      machine.Pin(h.SCK),
		sdo:      machine.Pin(h.SDO),
		sdi:      machine.Pin(h.SDI),
		cpol:     mode == core.Mode2 || mode == core.Mode3,
		cpha:     mode == core.Mode1 || mode == core.Mode3,
		lsbFirst: order == core.LSBFirst,
	}
	if h.CS != core.NoHardwarePin {
		p.cs = machine.Pin(h.CS)
		p.hasCS = true
	}

	// Clock toggles twice per bit, so each transition lasts half a period.
	if clock > 0 {
		p.halfPeriod = time.Duration(500000000/clock) * time.Nanosecond
	} else {
		p.halfPeriod = 5 * time.Microsecond // 100kHz fallback
	}

	p.sck.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.sdo.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.sdi.Configure(machine.PinConfig{Mode: machine.PinInput})
	p.sck.Set(p.cpol) // idle level per CPOL
	p.sdo.Low()
	if p.hasCS {
		p.cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.cs.High() // active low, deasserted
	}

	h.State = p
	return nil
}

// Deinitialize parks all pins as inputs.
func (d *SoftDriver) Deinitialize(h *core.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := h.State.(*softPort)
	if !ok {
		return nil
	}
	input := machine.PinConfig{Mode: machine.PinInput}
	p.sck.Configure(input)
	p.sdo.Configure(input)
	p.sdi.Configure(input)
	if p.hasCS {
		p.cs.Configure(input)
	}
	h.State = nil
	return nil
}

// Transfer bit-bangs the full-duplex exchange. The loop is pin-toggle
// bound, so the deadline cannot fire and noReceive saves nothing; both are
// accepted for interface parity with the hardware driver.
func (d *SoftDriver) Transfer(h *core.PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error {
	p, ok := h.State.(*softPort)
	if !ok {
		return core.ErrNotConfigured
	}
	if len(w) != len(r) {
		return errors.New("tx and rx buffer lengths must match")
	}

	if p.hasCS {
		p.cs.Low()
	}
	for i := 0; i < len(w); i++ {
		r[i] = p.transferByte(w[i])
	}
	if p.hasCS {
		p.cs.High()
	}
	return nil
}

// ClockFrequency reports the system clock, the ceiling any bit-banged rate
// is derived from.
func (d *SoftDriver) ClockFrequency(h *core.PortHandle) uint32 {
	return machine.CPUFrequency()
}

// transferByte shifts one byte out and one byte in, honoring the
// configured bit order and clock phase.
func (p *softPort) transferByte(tx byte) byte {
	var rx byte
	for i := 0; i < 8; i++ {
		bit := 7 - i
		if p.lsbFirst {
			bit = i
		}

		p.sdo.Set(tx&(1<<bit) != 0)

		if !p.cpha {
			// CPHA=0: data valid before the leading edge, sample there.
			time.Sleep(p.halfPeriod)
			if p.sdi.Get() {
				rx |= 1 << bit
			}
		}

		p.sck.Set(!p.cpol) // leading edge
		time.Sleep(p.halfPeriod)

		if p.cpha {
			// CPHA=1: sample after the leading edge.
			if p.sdi.Get() {
				rx |= 1 << bit
			}
		}

		p.sck.Set(p.cpol) // trailing edge, back to idle
		time.Sleep(p.halfPeriod)
	}
	return rx
}
