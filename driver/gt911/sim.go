package gt911

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync"
)

// Simulator implements Bus with the register semantics of a GT911
// controller, for tests and for exercising integrations without
// hardware.
type Simulator struct {
	mu       sync.Mutex
	reg      uint16 // Register address set by the last write.
	config   [configLen]byte
	hasConf  bool
	cmds     []Command
	status   byte
	touching bool
	points   []image.Point
	firmware uint16
	vendor   byte
	// Product identifier in transmission order.
	id [4]byte
}

func NewSimulator() *Simulator {
	return &Simulator{
		id:       [4]byte{0x00, '1', '1', '9'},
		firmware: 0x1060,
		vendor:   0x01,
	}
}

// Touch simulates contacts on the panel. The ready flag stays
// asserted, re-arming after each acknowledgment, until Release.
func (s *Simulator) Touch(points ...image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points[:0], points...)
	s.touching = true
	s.status = statusReady | byte(len(points))
}

// Release simulates lifting all contacts. The controller reports one
// final ready status with a zero point count.
func (s *Simulator) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touching = false
	s.status = statusReady
}

// Config returns the uploaded configuration blob, if any.
func (s *Simulator) Config() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasConf {
		return nil, false
	}
	cfg := make([]byte, configLen)
	copy(cfg, s.config[:])
	return cfg, true
}

// Commands returns the commands written to the command register, in
// order.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.cmds...)
}

func (s *Simulator) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr != Addr {
		return fmt.Errorf("sim: transaction for address %#02x", addr)
	}
	if len(w) > 0 {
		if len(w) < 2 {
			return fmt.Errorf("sim: short register address write")
		}
		s.reg = binary.BigEndian.Uint16(w)
		if err := s.write(w[2:]); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return s.read(r)
	}
	return nil
}

func (s *Simulator) write(data []byte) error {
	if len(data) == 0 {
		// Address set only; a read follows.
		return nil
	}
	switch s.reg {
	case regCommand:
		if len(data) != 1 {
			return fmt.Errorf("sim: command write of %d bytes", len(data))
		}
		s.cmds = append(s.cmds, Command(data[0]))
		return nil
	case regConfigData:
		if len(data) != configLen {
			return fmt.Errorf("sim: config write of %d bytes, want %d", len(data), configLen)
		}
		var sum byte
		for _, b := range data[:configLen-1] {
			sum += b
		}
		if sum != 0 {
			return fmt.Errorf("sim: config checksum mismatch")
		}
		if data[configLen-1] != 1 {
			return fmt.Errorf("sim: config refresh flag %#02x", data[configLen-1])
		}
		copy(s.config[:], data)
		s.hasConf = true
		return nil
	case regCoordStatus:
		if len(data) != 1 || data[0] != 0 {
			return fmt.Errorf("sim: status write %x", data)
		}
		// The acknowledgment clears the register; the next scan
		// cycle re-asserts it while contacts remain.
		if s.touching {
			s.status = statusReady | byte(len(s.points))
		} else {
			s.status = 0
		}
		return nil
	}
	return fmt.Errorf("sim: write to register %#04x", s.reg)
}

func (s *Simulator) read(r []byte) error {
	bo := binary.LittleEndian
	switch {
	case s.reg == regProductID:
		copy(r, s.id[:])
		return nil
	case s.reg == regFirmwareVer:
		if len(r) < 2 {
			return fmt.Errorf("sim: short firmware read")
		}
		bo.PutUint16(r, s.firmware)
		return nil
	case s.reg == regXResolution:
		if !s.hasConf || len(r) < 4 {
			return fmt.Errorf("sim: resolution read before configuration")
		}
		// Resolution registers mirror the configured panel size.
		copy(r, s.config[1:5])
		return nil
	case s.reg == regVendorID:
		r[0] = s.vendor
		return nil
	case s.reg == regCoordStatus:
		r[0] = s.status
		return nil
	case s.reg >= regPoint1X && s.reg < regPoint1X+maxPoints*pointStride:
		i := int(s.reg-regPoint1X) / pointStride
		if (s.reg-regPoint1X)%pointStride != 0 || i >= len(s.points) {
			return fmt.Errorf("sim: read of unreported point block %#04x", s.reg)
		}
		if len(r) < 6 {
			return fmt.Errorf("sim: short point read")
		}
		bo.PutUint16(r, uint16(s.points[i].X))
		bo.PutUint16(r[2:], uint16(s.points[i].Y))
		r[4] = byte(i) // Track ID.
		r[5] = 0
		return nil
	}
	return fmt.Errorf("sim: read from register %#04x", s.reg)
}
