//go:build rp2040 || rp2350

// RP2040/RP2350 hardware SPI backend
// Implements core.PortDriver on top of TinyGo's machine.SPI controllers.
package rp2040

import (
	"errors"
	"machine"
	"sync"
	"time"

	"spibus/core"
)

// Driver drives the two PL022 SPI controllers through machine.SPI0/SPI1.
// It also implements core.PinRouter: any SPI-capable pin can be handed to
// the controller's pin mux, which is what EnableDebugPins needs.
type Driver struct {
	mu sync.Mutex
}

var (
	_ core.PortDriver = (*Driver)(nil)
	_ core.PinRouter  = (*Driver)(nil)
)

// NewDriver creates the hardware SPI driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Register installs the hardware driver as the process-wide SPI backend and
// registers the Pico default pins (SPI0: SCK=GPIO18, SDO=GPIO19, SDI=GPIO16).
func Register() {
	core.SetPortDriver(NewDriver())
	core.SetDefaultBinding(core.PinBinding{
		SCK: core.Pin(machine.GPIO18),
		SDO: core.Pin(machine.GPIO19),
		SDI: core.Pin(machine.GPIO16),
		CS:  core.NoPin,
	})
}

const maxGPIO = 29 // GPIO0-GPIO29

// ResolvePin maps a board pin number to a hardware pin reference.
func (d *Driver) ResolvePin(id core.Pin) core.HardwarePin {
	if id > maxGPIO {
		return core.NoHardwarePin
	}
	return core.HardwarePin(id)
}

// spiPinRole returns the controller index (0 or 1) and the signal function
// the RP2040 pin mux assigns to pin when muxed to SPI. The assignment is
// fixed by the chip: controller = (pin/8)%2, function cycles
// RX, CSn, SCK, TX every four pins.
func spiPinRole(pin core.HardwarePin) (ctrl uint8, role core.SignalRole, ok bool) {
	if pin > maxGPIO {
		return 0, 0, false
	}
	ctrl = uint8((pin / 8) % 2)
	switch pin % 4 {
	case 0:
		role = core.RoleSDI
	case 1:
		role = core.RoleCS
	case 2:
		role = core.RoleSCK
	case 3:
		role = core.RoleSDO
	}
	return ctrl, role, true
}

// controllerFor validates that the handle's pins all mux to the expected
// SPI function on one controller and returns that controller.
func controllerFor(h *core.PortHandle) (*machine.SPI, error) {
	sckCtrl, sckRole, ok := spiPinRole(h.SCK)
	if !ok || sckRole != core.RoleSCK {
		return nil, errors.New("SCK pin has no SPI clock function")
	}
	sdoCtrl, sdoRole, ok := spiPinRole(h.SDO)
	if !ok || sdoRole != core.RoleSDO {
		return nil, errors.New("SDO pin has no SPI TX function")
	}
	sdiCtrl, sdiRole, ok := spiPinRole(h.SDI)
	if !ok || sdiRole != core.RoleSDI {
		return nil, errors.New("SDI pin has no SPI RX function")
	}
	if sckCtrl != sdoCtrl || sckCtrl != sdiCtrl {
		return nil, errors.New("SPI pins span two controllers")
	}
	if h.CS != core.NoHardwarePin {
		csCtrl, csRole, ok := spiPinRole(h.CS)
		if !ok || csRole != core.RoleCS || csCtrl != sckCtrl {
			return nil, errors.New("CS pin has no SPI CSn function on this controller")
		}
	}
	if sckCtrl == 0 {
		return machine.SPI0, nil
	}
	return machine.SPI1, nil
}

// Initialize programs the controller serving the handle's pins.
func (d *Driver) Initialize(h *core.PortHandle, clock uint32, mode core.Mode, order core.BitOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	spi, err := controllerFor(h)
	if err != nil {
		return err
	}

	err = spi.Configure(machine.SPIConfig{
		Frequency: clock,
		SCK:       machine.Pin(h.SCK),
		SDO:       machine.Pin(h.SDO),
		SDI:       machine.Pin(h.SDI),
		Mode:      uint8(mode),
		LSBFirst:  order == core.LSBFirst,
	})
	if err != nil {
		return err
	}

	// Hardware chip select is just another muxed pin on the PL022.
	if h.CS != core.NoHardwarePin {
		machine.Pin(h.CS).Configure(machine.PinConfig{Mode: machine.PinSPI})
	}

	h.State = spi
	return nil
}

// Deinitialize releases the controller's claim on the pins by parking them
// as floating inputs. The PL022 itself stops clocking once its pins are
// unmuxed.
func (d *Driver) Deinitialize(h *core.PortHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	input := machine.PinConfig{Mode: machine.PinInput}
	machine.Pin(h.SCK).Configure(input)
	machine.Pin(h.SDO).Configure(input)
	machine.Pin(h.SDI).Configure(input)
	if h.CS != core.NoHardwarePin {
		machine.Pin(h.CS).Configure(input)
	}
	h.State = nil
	return nil
}

// Transfer performs the blocking full-duplex transfer. The hardware paces
// itself off its FIFOs, so the deadline never fires here; it exists for
// backends that can actually stall.
func (d *Driver) Transfer(h *core.PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error {
	spi, ok := h.State.(*machine.SPI)
	if !ok {
		return core.ErrNotConfigured
	}
	if len(w) != len(r) {
		return errors.New("tx and rx buffer lengths must match")
	}
	if noReceive {
		return spi.Tx(w, nil)
	}
	return spi.Tx(w, r)
}

// ClockFrequency returns clk_peri, which feeds both SPI controllers and
// tracks the system clock on RP2040.
func (d *Driver) ClockFrequency(h *core.PortHandle) uint32 {
	return machine.CPUFrequency()
}

// RoutePin hands a pin to the SPI function of its controller. The RP2040
// mux fixes which signal each pin carries, so the requested role only
// serves as a sanity check.
func (d *Driver) RoutePin(pin core.HardwarePin, role core.SignalRole) error {
	_, have, ok := spiPinRole(pin)
	if !ok || have != role {
		return errors.New("pin cannot carry the requested SPI signal")
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinSPI})
	return nil
}
