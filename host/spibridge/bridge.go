package spibridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/constraints"

	"spibus/core"
)

// Bridge protocol: every exchange is one request frame host->probe and one
// response frame probe->host.
//
//	sync     uint8  always 0x7B
//	op       uint8  opcode (request) / status (response)
//	length   uint16 payload length before padding, little endian
//	payload  []byte padded with zeroes to a multiple of 4 (probe DMA works
//	                in 32-bit words)
//	crc      uint16 crc16 over op, length and padded payload, little endian
const frameSync = 0x7B

// Request opcodes.
const (
	opResolvePin = 0x01
	opInit       = 0x02
	opDeinit     = 0x03
	opTransfer   = 0x04
	opClockFreq  = 0x05
	opRoutePin   = 0x06
)

// Response status codes.
const (
	statusOK      = 0x00
	statusTimeout = 0x01
	statusFault   = 0x02
	statusBadPin  = 0x03
)

// Transfer request flag bits.
const flagNoReceive = 0x01

// maxChunk bounds a single transfer frame to what fits in the probe's
// buffer; longer transfers are split across frames with CS held by the
// probe between them.
const maxChunk = 2048

// align rounds val up to the nearest multiple of to.
func align[T constraints.Unsigned](val, to T) T {
	return (val + to - 1) &^ (to - 1)
}

// Driver implements core.PortDriver against a bridge probe on the other
// end of a serial link. The mutex serializes frames on the wire; the bus
// semantics above it stay single-caller as usual.
type Driver struct {
	mu   sync.Mutex
	port Port
	log  *slog.Logger
}

var (
	_ core.PortDriver = (*Driver)(nil)
	_ core.PinRouter  = (*Driver)(nil)
)

// NewDriver creates a driver speaking the bridge protocol over port.
// logger may be nil to disable logging.
func NewDriver(port Port, logger *slog.Logger) *Driver {
	return &Driver{port: port, log: logger}
}

// Close closes the underlying serial link.
func (d *Driver) Close() error {
	return d.port.Close()
}

func (d *Driver) debug(msg string, attrs ...slog.Attr) {
	if d.log != nil {
		d.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (d *Driver) warn(msg string, attrs ...slog.Attr) {
	if d.log != nil {
		d.log.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}

// writeFrame sends one request frame.
func (d *Driver) writeFrame(op byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("spibridge: payload too large: %d", len(payload))
	}
	padded := align(uint(len(payload)), 4)

	frame := make([]byte, 0, 4+padded+2)
	frame = append(frame, frameSync, op)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	for i := uint(len(payload)); i < padded; i++ {
		frame = append(frame, 0)
	}
	frame = binary.LittleEndian.AppendUint16(frame, crc16(frame[1:]))

	_, err := d.port.Write(frame)
	return err
}

// readFrame reads one response frame, resynchronizing on the sync byte if
// the link carried garbage.
func (d *Driver) readFrame() (status byte, payload []byte, err error) {
	var b [1]byte
	for {
		if _, err = io.ReadFull(d.port, b[:]); err != nil {
			return 0, nil, err
		}
		if b[0] == frameSync {
			break
		}
		d.warn("spibridge: skipping byte while resyncing", slog.Int("byte", int(b[0])))
	}

	var header [3]byte
	if _, err = io.ReadFull(d.port, header[:]); err != nil {
		return 0, nil, err
	}
	status = header[0]
	length := uint(binary.LittleEndian.Uint16(header[1:]))
	padded := align(length, 4)

	body := make([]byte, padded+2)
	if _, err = io.ReadFull(d.port, body); err != nil {
		return 0, nil, err
	}

	sum := crc16(append(header[:], body[:padded]...))
	if sum != binary.LittleEndian.Uint16(body[padded:]) {
		return 0, nil, fmt.Errorf("spibridge: frame checksum mismatch")
	}
	return status, body[:length], nil
}

// roundTrip sends a request and decodes the response status.
func (d *Driver) roundTrip(op byte, payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeFrame(op, payload); err != nil {
		return nil, fmt.Errorf("spibridge: write: %w", err)
	}
	status, resp, err := d.readFrame()
	if err != nil {
		return nil, fmt.Errorf("spibridge: read: %w", err)
	}
	switch status {
	case statusOK:
		return resp, nil
	case statusTimeout:
		return nil, core.ErrTimeout
	case statusBadPin:
		return nil, core.ErrInvalidPin
	default:
		return nil, fmt.Errorf("spibridge: probe fault, status %d", status)
	}
}

// ResolvePin asks the probe to map a pin number. Communication failures
// resolve to NoHardwarePin and surface later when the bus is configured.
func (d *Driver) ResolvePin(id core.Pin) core.HardwarePin {
	req := binary.LittleEndian.AppendUint32(nil, uint32(id))
	resp, err := d.roundTrip(opResolvePin, req)
	if err != nil || len(resp) < 4 {
		d.warn("spibridge: pin resolution failed", slog.Uint64("pin", uint64(id)), slog.Any("err", err))
		return core.NoHardwarePin
	}
	return core.HardwarePin(binary.LittleEndian.Uint32(resp))
}

// Initialize programs the probe's SPI peripheral.
func (d *Driver) Initialize(h *core.PortHandle, clock uint32, mode core.Mode, order core.BitOrder) error {
	req := make([]byte, 0, 22)
	req = binary.LittleEndian.AppendUint32(req, clock)
	req = binary.LittleEndian.AppendUint32(req, uint32(h.SCK))
	req = binary.LittleEndian.AppendUint32(req, uint32(h.SDO))
	req = binary.LittleEndian.AppendUint32(req, uint32(h.SDI))
	req = binary.LittleEndian.AppendUint32(req, uint32(h.CS))
	req = append(req, byte(mode), byte(order))

	if _, err := d.roundTrip(opInit, req); err != nil {
		return err
	}
	h.State = d
	d.debug("spibridge: initialized",
		slog.Uint64("clock", uint64(clock)),
		slog.Int("mode", int(mode)),
		slog.Int("order", int(order)))
	return nil
}

// Deinitialize releases the probe's peripheral and pins.
func (d *Driver) Deinitialize(h *core.PortHandle) error {
	h.State = nil
	_, err := d.roundTrip(opDeinit, nil)
	return err
}

// Transfer runs the full-duplex exchange on the probe, splitting long
// buffers into probe-sized chunks.
func (d *Driver) Transfer(h *core.PortHandle, w, r []byte, timeout time.Duration, noReceive bool) error {
	if h.State == nil {
		return core.ErrNotConfigured
	}
	if len(w) != len(r) {
		return fmt.Errorf("spibridge: tx/rx length mismatch %d != %d", len(w), len(r))
	}

	timeoutMs := timeout.Milliseconds()
	if timeoutMs > 0xFFFF {
		timeoutMs = 0xFFFF
	}
	flags := byte(0)
	if noReceive {
		flags |= flagNoReceive
	}

	for off := 0; off < len(w); off += maxChunk {
		end := off + maxChunk
		if end > len(w) {
			end = len(w)
		}
		chunk := w[off:end]

		req := make([]byte, 0, 6+len(chunk))
		req = append(req, flags, 0)
		req = binary.LittleEndian.AppendUint16(req, uint16(timeoutMs))
		req = binary.LittleEndian.AppendUint16(req, uint16(len(chunk)))
		req = append(req, chunk...)

		resp, err := d.roundTrip(opTransfer, req)
		if err != nil {
			return err
		}
		if !noReceive {
			if len(resp) != len(chunk) {
				return fmt.Errorf("spibridge: probe returned %d bytes, want %d", len(resp), len(chunk))
			}
			copy(r[off:end], resp)
		}
	}
	d.debug("spibridge: transfer", slog.Int("count", len(w)), slog.Bool("noReceive", noReceive))
	return nil
}

// ClockFrequency queries the probe's SPI source clock. Returns 0 when the
// probe cannot be reached; the legacy divider setter then computes a zero
// frequency, which the next Initialize rejects on the probe side.
func (d *Driver) ClockFrequency(h *core.PortHandle) uint32 {
	resp, err := d.roundTrip(opClockFreq, nil)
	if err != nil || len(resp) < 4 {
		d.warn("spibridge: clock frequency query failed", slog.Any("err", err))
		return 0
	}
	return binary.LittleEndian.Uint32(resp)
}

// RoutePin asks the probe to mux a pin to an SPI signal function.
func (d *Driver) RoutePin(pin core.HardwarePin, role core.SignalRole) error {
	req := binary.LittleEndian.AppendUint32(nil, uint32(pin))
	req = append(req, byte(role))
	_, err := d.roundTrip(opRoutePin, req)
	return err
}
