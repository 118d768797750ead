package input

import (
	"image"
	"testing"
	"time"

	"tactile.sh/driver/gt911"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	panic("unreachable")
}

func TestPumpEvents(t *testing.T) {
	sim := gt911.NewSimulator()
	dev := gt911.New(sim, 480, 272)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	ch := make(chan Event)
	p := newPump(ch, dev, time.Millisecond)
	defer p.Close()

	sim.Touch(image.Pt(10, 20))
	e := waitEvent(t, ch)
	if !e.Pressed || e.Position != image.Pt(10, 20) {
		t.Errorf("press event %+v, want (10,20) pressed", e)
	}

	// A drag reports the new position while held.
	sim.Touch(image.Pt(30, 40))
	e = waitEvent(t, ch)
	if !e.Pressed || e.Position != image.Pt(30, 40) {
		t.Errorf("drag event %+v, want (30,40) pressed", e)
	}

	sim.Release()
	e = waitEvent(t, ch)
	if e.Pressed {
		t.Errorf("release event %+v, want released", e)
	}
	if e.Position != image.Pt(30, 40) {
		t.Errorf("release position %v, want last held position (30,40)", e.Position)
	}
}
