package core

// Mode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

// BitOrder selects which end of a byte is clocked out first.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// DefaultClock is the bus frequency used when the caller never picks one
// and when SetClockDivider is called with divider 0.
const DefaultClock uint32 = 4000000 // 4MHz

// Settings holds one configuration snapshot for an SPI bus: clock frequency,
// data mode, bit order and the receive-suppression flag.
//
// Settings is a value type. The With* helpers derive a new snapshot instead
// of mutating fields in place, so a snapshot handed to BeginTransaction can
// never change underneath the bus afterwards.
type Settings struct {
	Clock     uint32   // Bus clock frequency in Hz
	Mode      Mode     // Clock polarity/phase (Mode0-Mode3)
	Order     BitOrder // MSBFirst or LSBFirst
	NoReceive bool     // Drive clock+data out only, discard inbound data
}

// DefaultSettings returns the configuration used by Configure when the
// caller never called BeginTransaction: 4MHz, mode 0, MSB first.
func DefaultSettings() Settings {
	return Settings{
		Clock: DefaultClock,
		Mode:  Mode0,
		Order: MSBFirst,
	}
}

// WithClock derives a new snapshot with the given clock frequency.
func (s Settings) WithClock(hz uint32) Settings {
	s.Clock = hz
	return s
}

// WithMode derives a new snapshot with the given data mode.
func (s Settings) WithMode(m Mode) Settings {
	s.Mode = m
	return s
}

// WithOrder derives a new snapshot with the given bit order.
func (s Settings) WithOrder(o BitOrder) Settings {
	s.Order = o
	return s
}

// WithNoReceive derives a new snapshot with the receive-suppression flag set.
// Useful for write-only peripherals (displays, DACs) where inbound data is
// never looked at.
func (s Settings) WithNoReceive(suppress bool) Settings {
	s.NoReceive = suppress
	return s
}

// valid reports whether the mode and bit order fields hold defined values.
func (s Settings) valid() bool {
	return s.Mode <= Mode3 && s.Order <= LSBFirst
}
