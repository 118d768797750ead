// package input implements the pointer input driver for the touch
// panel, polling the GT911 controller and delivering events.
package input

import (
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"tactile.sh/driver/gt911"
)

// Event is a pointer event. A release carries the last reported
// position with Pressed false.
type Event struct {
	Position image.Point
	Pressed  bool
}

type Config struct {
	// Bus names the I2C bus the controller is on. Empty selects the
	// first available bus.
	Bus string
	// Width and Height are the panel dimensions in pixels.
	Width  int
	Height int
	// Interval is the polling interval. Zero means 60 polls per
	// second.
	Interval time.Duration
}

// Pump owns the polling goroutine for one controller.
type Pump struct {
	bus  i2c.BusCloser
	stop chan struct{}
	done chan struct{}
}

// Open initializes the touch controller and starts delivering events
// on ch. Sends block until received.
func Open(ch chan<- Event, cfg Config) (*Pump, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	dev := gt911.New(bus, cfg.Width, cfg.Height)
	if err := dev.Init(); err != nil {
		var idErr *gt911.IdentifyError
		if !errors.As(err, &idErr) {
			bus.Close()
			return nil, fmt.Errorf("input: %w", err)
		}
		// Usually a wiring or addressing fault; the controller may
		// still respond to polling.
		log.Printf("input: touch controller identify failed: %v", idErr.Err)
	} else if id, err := dev.ProductID(); err == nil {
		if fw, err := dev.Firmware(); err == nil {
			log.Printf("input: touch controller %s, firmware %#04x", id, fw)
		}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	p := newPump(ch, dev, interval)
	p.bus = bus
	return p, nil
}

func newPump(ch chan<- Event, dev *gt911.Device, interval time.Duration) *Pump {
	p := &Pump{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.poll(ch, dev, interval)
	return p
}

func (p *Pump) poll(ch chan<- Event, dev *gt911.Device, interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var pressed bool
	var last image.Point
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			pos, touching, err := dev.ReadTouchPoint()
			if err != nil {
				// Transient bus failures self-correct: the status
				// register is read fresh on the next tick.
				log.Printf("input: %v", err)
				continue
			}
			switch {
			case touching && (!pressed || pos != last):
				pressed, last = true, pos
				ch <- Event{Position: pos, Pressed: true}
			case !touching && pressed:
				pressed = false
				ch <- Event{Position: last, Pressed: false}
			}
		}
	}
}

// Close stops polling and releases the bus.
func (p *Pump) Close() {
	close(p.stop)
	<-p.done
	if p.bus != nil {
		p.bus.Close()
	}
}
