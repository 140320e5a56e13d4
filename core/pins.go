package core

// PinBinding names the pins a logical SPI bus is wired to. All three data
// pins must belong to the same physical peripheral; the driver rejects
// mixed bindings at Configure time.
//
// CS is optional. When set, it must be a pin the peripheral can drive as a
// hardware-managed chip select; callers that bind one must not also toggle
// a software CS pin around transfers elsewhere.
type PinBinding struct {
	SCK Pin
	SDO Pin // controller out, peripheral in
	SDI Pin // controller in, peripheral out
	CS  Pin // NoPin to run without hardware chip select
}

// HasCS reports whether the binding carries a hardware chip select pin.
func (b PinBinding) HasCS() bool {
	return b.CS != NoPin
}

// Default binding registered by target-specific code, used by NewDefault.
var defaultBinding = PinBinding{SCK: NoPin, SDO: NoPin, SDI: NoPin, CS: NoPin}

// SetDefaultBinding is called by target-specific code to register the
// board's default SPI pins.
func SetDefaultBinding(b PinBinding) {
	defaultBinding = b
}

// DefaultBinding returns the binding registered by the target, or an
// all-NoPin binding if the target never registered one.
func DefaultBinding() PinBinding {
	return defaultBinding
}
