// Command gt911ctl inspects and exercises a GT911 touch controller
// over I2C.
//
// Usage:
//
//	gt911ctl [flags] info
//	gt911ctl [flags] watch [-sim]
//	gt911ctl [flags] command <read|diffval|softreset|baseupdate|calibrate|screenoff>
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"tactile.sh/driver/gt911"
)

var (
	busName   = flag.String("bus", "", "I2C bus name (default: first available bus)")
	panelFile = flag.String("panel", "", "YAML panel profile (bus, width, height)")
	width     = flag.Int("width", 480, "panel width in pixels")
	height    = flag.Int("height", 272, "panel height in pixels")

	watchFlags = flag.NewFlagSet("watch", flag.ExitOnError)
	watchSim   = watchFlags.Bool("sim", false, "poll a simulated controller instead of hardware")
)

// profile is an on-disk panel description, so that per-board settings
// don't have to be repeated on every invocation.
type profile struct {
	Bus    string `yaml:"bus"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

var commands = map[string]gt911.Command{
	"read":       gt911.CmdRead,
	"diffval":    gt911.CmdDiffVal,
	"softreset":  gt911.CmdSoftReset,
	"baseupdate": gt911.CmdBaseUpdate,
	"calibrate":  gt911.CmdCalibrate,
	"screenoff":  gt911.CmdScreenOff,
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("gt911ctl: ")
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("specify a subcommand: info, watch or command")
	}
	if *panelFile != "" {
		if err := applyProfile(*panelFile); err != nil {
			return err
		}
	}
	switch args[0] {
	case "info":
		return info()
	case "watch":
		watchFlags.Parse(args[1:])
		return watch(*watchSim)
	case "command":
		if len(args) != 2 {
			return errors.New("command takes exactly one command name")
		}
		cmd, ok := commands[args[1]]
		if !ok {
			return fmt.Errorf("unknown command %q", args[1])
		}
		return sendCommand(cmd)
	}
	return fmt.Errorf("unknown subcommand %q", args[0])
}

// applyProfile loads the panel profile and fills in every setting not
// overridden on the command line.
func applyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("panel profile %s: %w", path, err)
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if !set["bus"] && p.Bus != "" {
		*busName = p.Bus
	}
	if !set["width"] && p.Width != 0 {
		*width = p.Width
	}
	if !set["height"] && p.Height != 0 {
		*height = p.Height
	}
	return nil
}

func openBus() (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	return i2creg.Open(*busName)
}

func info() error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()
	dev := gt911.New(bus, *width, *height)
	id, err := dev.ProductID()
	if err != nil {
		return err
	}
	fw, err := dev.Firmware()
	if err != nil {
		return err
	}
	vendor, err := dev.VendorID()
	if err != nil {
		return err
	}
	w, h, err := dev.Resolution()
	if err != nil {
		return err
	}
	fmt.Printf("product id: %s\n", id)
	fmt.Printf("firmware: %#04x\n", fw)
	fmt.Printf("vendor id: %#02x\n", vendor)
	fmt.Printf("resolution: %dx%d\n", w, h)
	return nil
}

func sendCommand(cmd gt911.Command) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()
	return gt911.New(bus, *width, *height).SendCommand(cmd)
}

func watch(simulated bool) error {
	var bus gt911.Bus
	if simulated {
		sim := gt911.NewSimulator()
		go simTouches(sim, *width, *height)
		bus = sim
	} else {
		hw, err := openBus()
		if err != nil {
			return err
		}
		defer hw.Close()
		bus = hw
	}
	dev := gt911.New(bus, *width, *height)
	if err := dev.Init(); err != nil {
		var idErr *gt911.IdentifyError
		if !errors.As(err, &idErr) {
			return err
		}
		log.Printf("warning: %v", err)
	}
	var pressed bool
	var last image.Point
	for range time.Tick(time.Second / 60) {
		p, touching, err := dev.ReadTouchPoint()
		if err != nil {
			log.Print(err)
			continue
		}
		switch {
		case touching && (!pressed || p != last):
			state := "move"
			if !pressed {
				state = "press"
			}
			pressed, last = true, p
			fmt.Printf("%s\t%d\t%d\n", state, p.X, p.Y)
		case !touching && pressed:
			pressed = false
			fmt.Println("release")
		}
	}
	return nil
}

// simTouches drives the simulator with a contact sweeping the panel
// diagonally, releasing between sweeps.
func simTouches(sim *gt911.Simulator, w, h int) {
	for {
		const steps = 20
		for i := 0; i <= steps; i++ {
			sim.Touch(image.Pt(i*(w-1)/steps, i*(h-1)/steps))
			time.Sleep(50 * time.Millisecond)
		}
		sim.Release()
		time.Sleep(500 * time.Millisecond)
	}
}
