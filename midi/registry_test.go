package midi

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type fakeOut struct {
	name string
	mu   sync.Mutex
	open bool
	sent [][]byte
}

func (o *fakeOut) Open() error             { o.mu.Lock(); o.open = true; o.mu.Unlock(); return nil }
func (o *fakeOut) Close() error            { o.mu.Lock(); o.open = false; o.mu.Unlock(); return nil }
func (o *fakeOut) IsOpen() bool            { o.mu.Lock(); defer o.mu.Unlock(); return o.open }
func (o *fakeOut) Number() int             { return 0 }
func (o *fakeOut) String() string          { return o.name }
func (o *fakeOut) Underlying() interface{} { return nil }

func (o *fakeOut) Send(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, append([]byte(nil), data...))
	return nil
}

func (o *fakeOut) messages() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.sent...)
}

type fakeHost struct {
	mu       sync.Mutex
	outs     []*fakeOut
	virtuals int
}

func (h *fakeHost) Outs() ([]drivers.Out, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	outs := make([]drivers.Out, len(h.outs))
	for i, o := range h.outs {
		outs[i] = o
	}
	return outs, nil
}

func (h *fakeHost) OpenVirtualOut(name string) (drivers.Out, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.virtuals++
	return &fakeOut{name: name, open: true}, nil
}

func (h *fakeHost) set(outs ...*fakeOut) {
	h.mu.Lock()
	h.outs = outs
	h.mu.Unlock()
}

func newTestRegistry(h Host) *Registry {
	return NewRegistry(h, 10*time.Millisecond, log.New(io.Discard))
}

func TestDisplayNameAndKey(t *testing.T) {
	tests := []struct {
		raw, display, key string
	}{
		{"Midi Through:Midi Through Port-0 14:0", "Midi Through Port-0", "midi through port-0"},
		{"IAC Driver Bus 1", "IAC Driver Bus 1", "iac driver bus 1"},
		{"Synth:Main Out 24:1", "Synth:Main Out", "synth:main out"},
		{"  Spaced   Name ", "Spaced   Name", "spaced name"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.raw); got != tt.display {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.raw, got, tt.display)
		}
		if got := Key(tt.raw); got != tt.key {
			t.Errorf("Key(%q) = %q, want %q", tt.raw, got, tt.key)
		}
		if Key(tt.display) != Key(tt.raw) {
			t.Errorf("display and raw keys differ for %q", tt.raw)
		}
	}
}

func TestPollAddsAndRemoves(t *testing.T) {
	a := &fakeOut{name: "Midi Through:Midi Through Port-0 14:0"}
	b := &fakeOut{name: "Synth B"}
	h := &fakeHost{}
	h.set(a, b)
	r := newTestRegistry(h)

	added, removed := r.Poll()
	if len(added) != 2 || len(removed) != 0 {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	if !a.IsOpen() {
		t.Error("port not opened on add")
	}

	added, removed = r.Poll()
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("second poll: added=%v removed=%v", added, removed)
	}

	h.set(b)
	_, removed = r.Poll()
	if len(removed) != 1 || removed[0] != "Midi Through Port-0" {
		t.Fatalf("removed = %v", removed)
	}
	if a.IsOpen() {
		t.Error("removed port left open")
	}

	ev := []DeviceEvent{<-r.Events(), <-r.Events(), <-r.Events()}
	if ev[2].Type != DeviceRemoved || ev[2].Name != "Midi Through Port-0" {
		t.Errorf("last event = %+v", ev[2])
	}
}

func TestCreateVirtualIdempotent(t *testing.T) {
	h := &fakeHost{}
	r := newTestRegistry(h)

	for i := 0; i < 3; i++ {
		if err := r.CreateVirtual("go-daw out"); err != nil {
			t.Fatal(err)
		}
	}
	if h.virtuals != 1 {
		t.Errorf("virtual ports opened = %d, want 1", h.virtuals)
	}

	// polling never removes virtual ports
	r.Poll()
	if got := r.List(); len(got) != 1 || got[0] != "go-daw out" {
		t.Errorf("List = %v", got)
	}
}

func TestSendLookup(t *testing.T) {
	a := &fakeOut{name: "Midi Through:Midi Through Port-0 14:0"}
	h := &fakeHost{}
	h.set(a)
	r := newTestRegistry(h)
	r.Poll()

	for _, name := range []string{"Midi Through Port-0", "MIDI THROUGH PORT-0", "midi through"} {
		if err := r.Send(name, []byte{0x90, 60, 100}); err != nil {
			t.Errorf("Send(%q): %v", name, err)
		}
	}
	if n := len(a.messages()); n != 3 {
		t.Errorf("sent %d messages, want 3", n)
	}

	err := r.Send("nope", []byte{0x90, 60, 100})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Send to unknown device: err = %v", err)
	}
	if n := len(a.messages()); n != 3 {
		t.Errorf("unknown-device message was delivered somewhere")
	}
}

func TestDispatcherPreservesPerDeviceOrder(t *testing.T) {
	a := &fakeOut{name: "A"}
	b := &fakeOut{name: "B"}
	h := &fakeHost{}
	h.set(a, b)
	r := newTestRegistry(h)
	r.Poll()

	d := NewDispatcher(r, log.New(io.Discard))
	for i := 0; i < 20; i++ {
		d.Dispatch([]Message{
			{Device: "A", Data: []byte{0x90, byte(i), 100}},
			{Device: "B", Data: []byte{0x90, byte(i), 100}},
			{Device: "A", Data: []byte{0x80, byte(i), 0}},
			{Device: "missing", Data: []byte{0x80, byte(i), 0}},
		})
	}
	d.Close()

	got := a.messages()
	if len(got) != 40 {
		t.Fatalf("A got %d messages, want 40", len(got))
	}
	for i := 0; i < 20; i++ {
		on, off := got[2*i], got[2*i+1]
		if on[0] != 0x90 || off[0] != 0x80 || on[1] != byte(i) || off[1] != byte(i) {
			t.Fatalf("message %d out of order: %v %v", i, on, off)
		}
	}
	if len(b.messages()) != 20 {
		t.Errorf("B got %d messages, want 20", len(b.messages()))
	}
}
