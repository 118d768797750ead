// Package gt911 implements a driver for the Goodix GT911 capacitive
// touch controllers.
//
// Datasheet: https://www.goodix.com/en/product/touch/touch_screen_controller/GT911
//
// The driver is synchronous and performs blocking bus transactions
// through a shared scratch buffer; a Device must be confined to one
// goroutine or externally serialized.
package gt911

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
)

// Bus is the I2C bus the controller is connected to. A nil read half
// is a plain write, a nil write half a plain read. Satisfied by
// periph.io's i2c.Bus.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// Device drives a single GT911 controller.
type Device struct {
	bus    Bus
	width  int
	height int
	// Allocate enough space for the configuration upload, the
	// largest transaction issued by the driver.
	buf [2 + configLen]byte
}

// New returns a driver for the controller on bus, attached to a panel
// of the given size in pixels.
func New(bus Bus, width, height int) *Device {
	return &Device{
		bus:    bus,
		width:  width,
		height: height,
	}
}

// Command is a maintenance command for the controller's command
// register. The driver only issues CmdRead itself; the remaining
// commands are executed autonomously by the controller.
type Command byte

const (
	CmdRead       Command = 0x00
	CmdDiffVal    Command = 0x01
	CmdSoftReset  Command = 0x02
	CmdBaseUpdate Command = 0x03
	CmdCalibrate  Command = 0x04
	CmdScreenOff  Command = 0x05
)

// ErrPanelSize reports panel dimensions that do not fit the
// controller's 12-bit coordinate fields.
var ErrPanelSize = errors.New("gt911: panel size exceeds 12-bit coordinate range")

// IdentifyError reports a failed product ID or firmware read during
// Init. Initialization continues past it; the usual cause is a wiring
// or addressing fault.
type IdentifyError struct {
	Err error
}

func (e *IdentifyError) Error() string {
	return fmt.Sprintf("gt911: identify: %v", e.Err)
}

func (e *IdentifyError) Unwrap() error {
	return e.Err
}

// Init uploads the controller configuration for the panel size and
// switches the controller into coordinate reporting mode. Bus
// failures during the identify step do not abort initialization; they
// are reported as an *IdentifyError after the remaining steps
// complete.
func (d *Device) Init() error {
	const maxCoord = 1<<12 - 1
	if d.width <= 0 || d.width > maxCoord || d.height <= 0 || d.height > maxCoord {
		return fmt.Errorf("%w: %dx%d", ErrPanelSize, d.width, d.height)
	}
	var idErr error
	if _, err := d.ProductID(); err != nil {
		idErr = err
	} else if _, err := d.Firmware(); err != nil {
		idErr = err
	}
	tx := d.buf[:2+configLen]
	putAddr(tx, regConfigData)
	buildConfig(tx[2:], uint16(d.width), uint16(d.height))
	if err := d.bus.Tx(Addr, tx, nil); err != nil {
		return fmt.Errorf("gt911: config upload: %w", err)
	}
	if err := d.SendCommand(CmdRead); err != nil {
		return err
	}
	if idErr != nil {
		return &IdentifyError{Err: idErr}
	}
	return nil
}

// SendCommand writes cmd to the command register.
func (d *Device) SendCommand(cmd Command) error {
	if err := d.writeReg(regCommand, byte(cmd)); err != nil {
		return fmt.Errorf("gt911: command %#02x: %w", byte(cmd), err)
	}
	return nil
}

// ReadTouchPoint polls the controller for a touch point. It reports
// false without error when the controller has no new data; bus
// failures are returned as errors, distinct from "no touch", so that
// a dead bus does not read as an idle panel.
//
// Multiple simultaneous contacts are collapsed into their centroid.
// The driver does not track individual fingers; callers that need
// true multi-touch need a richer read path.
func (d *Device) ReadTouchPoint() (image.Point, bool, error) {
	status, err := d.readStatus()
	if err != nil {
		return image.Point{}, false, fmt.Errorf("gt911: status: %w", err)
	}
	if status&statusReady == 0 {
		return image.Point{}, false, nil
	}
	n := int(status & statusCountMask)
	if n == 0 {
		if err := d.ackStatus(); err != nil {
			return image.Point{}, false, fmt.Errorf("gt911: status ack: %w", err)
		}
		return image.Point{}, false, nil
	}
	if n > maxPoints {
		n = maxPoints
	}
	var sumX, sumY int
	bo := binary.LittleEndian
	for i := 0; i < n; i++ {
		// 6 bytes per point: x, y and a trailing track ID and
		// reserved byte the driver ignores.
		b, err := d.readRegs(regPoint1X+uint16(i)*pointStride, 6)
		if err != nil {
			return image.Point{}, false, fmt.Errorf("gt911: point %d: %w", i, err)
		}
		sumX += int(bo.Uint16(b))
		sumY += int(bo.Uint16(b[2:]))
	}
	// Acknowledge only after the point blocks are read, so the
	// controller cannot overwrite them mid-read.
	if err := d.ackStatus(); err != nil {
		return image.Point{}, false, fmt.Errorf("gt911: status ack: %w", err)
	}
	return image.Pt(sumX/n, sumY/n), true, nil
}

// ProductID reads the 4-byte product identifier, reversed into
// reading order and trimmed of padding.
func (d *Device) ProductID() (string, error) {
	b, err := d.readRegs(regProductID, 4)
	if err != nil {
		return "", fmt.Errorf("gt911: product id: %w", err)
	}
	id := []byte{b[3], b[2], b[1], b[0]}
	return string(bytes.TrimRight(id, "\x00")), nil
}

// Firmware reads the controller firmware version.
func (d *Device) Firmware() (uint16, error) {
	b, err := d.readRegs(regFirmwareVer, 2)
	if err != nil {
		return 0, fmt.Errorf("gt911: firmware: %w", err)
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Resolution reads the output resolution the controller is currently
// configured for.
func (d *Device) Resolution() (width, height int, err error) {
	b, err := d.readRegs(regXResolution, 4)
	if err != nil {
		return 0, 0, fmt.Errorf("gt911: resolution: %w", err)
	}
	bo := binary.LittleEndian
	return int(bo.Uint16(b)), int(bo.Uint16(b[2:])), nil
}

// VendorID reads the module vendor identifier.
func (d *Device) VendorID() (byte, error) {
	b, err := d.readRegs(regVendorID, 1)
	if err != nil {
		return 0, fmt.Errorf("gt911: vendor id: %w", err)
	}
	return b[0], nil
}

// readStatus reads the coordinate status register: bit 7 reports data
// ready, bits 3:0 the touch point count.
func (d *Device) readStatus() (byte, error) {
	b, err := d.readRegs(regCoordStatus, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ackStatus clears the coordinate status register, acknowledging the
// consumed touch data to the controller.
func (d *Device) ackStatus() error {
	return d.writeReg(regCoordStatus, 0)
}

// readRegs reads n bytes starting at reg, as two bus transactions:
// the register address write followed by the data read.
func (d *Device) readRegs(reg uint16, n int) ([]byte, error) {
	w := d.buf[:2]
	putAddr(w, reg)
	if err := d.bus.Tx(Addr, w, nil); err != nil {
		return nil, err
	}
	r := d.buf[2 : 2+n]
	if err := d.bus.Tx(Addr, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Device) writeReg(reg uint16, val byte) error {
	w := d.buf[:3]
	putAddr(w, reg)
	w[2] = val
	return d.bus.Tx(Addr, w, nil)
}

// putAddr encodes a register address in transmission order, high byte
// first.
func putAddr(b []byte, reg uint16) {
	binary.BigEndian.PutUint16(b, reg)
}

// buildConfig fills cfg, which must be configLen bytes, with the
// configuration blob for the given panel size. The checksum at offset
// 184 makes the first 185 bytes sum to zero mod 256; the final byte
// is the config refresh flag.
func buildConfig(cfg []byte, width, height uint16) {
	copy(cfg, configTemplate[:])
	bo := binary.LittleEndian
	bo.PutUint16(cfg[1:], width)
	bo.PutUint16(cfg[3:], height)
	cfg[184] = checksum(cfg[:184])
	cfg[185] = 1
}

// checksum computes the two's complement of the byte sum of b.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return ^sum + 1
}

const (
	// Addr is the controller's 7-bit bus address.
	Addr = 0x5D

	regCommand     = 0x8040
	regConfigData  = 0x8047
	regConfigFresh = 0x8100
	regProductID   = 0x8140
	regFirmwareVer = 0x8144
	regXResolution = 0x8146
	regYResolution = 0x8148
	regVendorID    = 0x814A
	regCoordStatus = 0x814E
	regPoint1X     = 0x8150

	statusReady     = 0x80
	statusCountMask = 0x0F

	// Per-controller limit of reported touch points, each in an
	// 8-byte register block.
	maxPoints   = 5
	pointStride = 8

	// Registers 0x8047-0x8100 inclusive.
	configLen = 186
)

// configTemplate holds the vendor recommended values for registers
// 0x8047-0x8100. The panel size at offsets 1-4 and the checksum at
// offset 184 are filled in by buildConfig.
var configTemplate = [configLen]byte{
	0x81, 0x00, 0x00, 0x00, 0x00, 0x01, 0x04, // 0x8047: version, panel size, touch limit, module switch 1
	0x20, 0x01, 0x08, 0x28, 0x05, 0x50, // 0x804E-0x8053: shake count, filter, touch thresholds
	0x3C, 0x0F, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x8054
	0x00, 0x89, 0x2A, 0x0B, 0x2D, 0x2B, 0x0F, 0x0A, 0x00, 0x00, 0x01, 0xA9, 0x03, // 0x8061
	0x2D, 0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x21, // 0x806E
	0x59, 0x94, 0xC5, 0x02, 0x07, 0x00, 0x00, 0x04, 0x93, 0x24, 0x00, 0x7D, 0x2C, // 0x807B
	0x00, 0x6B, 0x36, 0x00, 0x5D, 0x42, 0x00, 0x53, 0x50, 0x00, 0x53, 0x00, 0x00, // 0x8088
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x8095
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x80A2
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, // 0x80AE: sensor channel map
	0x0C, 0x0E, 0x10, 0x12, 0x14, 0x16, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, // 0x80BB
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x80C8
	0x02, 0x04, 0x06, 0x08, 0x0A, 0x0F, 0x10, 0x12, 0x16, 0x18, 0x1C, 0x1D, 0x1E, // 0x80D5: driver channel map
	0x1F, 0x20, 0x21, 0x22, 0x24, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, // 0x80E2
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x80EF
	0x00, 0x00, 0x00, 0x01, // 0x80FC: reserved, checksum, config refresh
}
