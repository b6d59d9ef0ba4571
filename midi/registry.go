package midi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrDeviceNotFound is returned when sending to a name with no open port.
var ErrDeviceNotFound = errors.New("midi device not found")

// Host enumerates output ports. *rtmididrv.Driver satisfies it.
type Host interface {
	Outs() ([]drivers.Out, error)
	OpenVirtualOut(name string) (drivers.Out, error)
}

// DeviceEvent is emitted when an output port appears or disappears
type DeviceEvent struct {
	Type DeviceEventType
	Name string
}

type DeviceEventType int

const (
	DeviceAdded DeviceEventType = iota
	DeviceRemoved
)

func (t DeviceEventType) String() string {
	if t == DeviceAdded {
		return "added"
	}
	return "removed"
}

type device struct {
	name    string
	out     drivers.Out
	virtual bool
	mu      sync.Mutex // serializes writes to out
}

// Registry tracks the host's MIDI output ports by name
type Registry struct {
	host        Host
	devices     map[string]*device
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration
	scanTimeout time.Duration
	log         *log.Logger
}

// NewRegistry creates a registry polling host every pollRate
func NewRegistry(host Host, pollRate time.Duration, logger *log.Logger) *Registry {
	return &Registry{
		host:        host,
		devices:     make(map[string]*device),
		events:      make(chan DeviceEvent, 16),
		pollRate:    pollRate,
		scanTimeout: 3 * time.Second,
		log:         logger,
	}
}

// Events returns a channel of Added/Removed events. It is closed when Run returns.
func (r *Registry) Events() <-chan DeviceEvent {
	return r.events
}

// List returns the display names of all open devices, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for _, d := range r.devices {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

// Run polls until ctx is done. Ports stay open; call Close once nothing
// sends anymore.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollRate)
	defer ticker.Stop()

	r.Poll()

	for {
		select {
		case <-ctx.Done():
			close(r.events)
			return nil
		case <-ticker.C:
			r.Poll()
		}
	}
}

// Poll diffs the host's current ports against the registry, opening new
// ports and closing vanished ones. Virtual ports are never removed.
func (r *Registry) Poll() (added, removed []string) {
	type portsResult struct {
		outs []drivers.Out
		err  error
	}

	ch := make(chan portsResult, 1)
	go func() {
		outs, err := r.host.Outs()
		ch <- portsResult{outs: outs, err: err}
	}()

	var outs []drivers.Out
	select {
	case res := <-ch:
		if res.err != nil {
			r.log.Warn("port scan failed", "err", res.err)
			return nil, nil
		}
		outs = res.outs
	case <-time.After(r.scanTimeout):
		// Host MIDI stack is hung; skip this scan.
		r.log.Warn("port scan timed out", "timeout", r.scanTimeout)
		return nil, nil
	}

	seen := make(map[string]bool, len(outs))
	for _, out := range outs {
		key := Key(out.String())
		seen[key] = true

		r.mu.RLock()
		_, exists := r.devices[key]
		r.mu.RUnlock()
		if exists {
			continue
		}

		if err := out.Open(); err != nil {
			r.log.Warn("open port failed", "port", out.String(), "err", err)
			continue
		}

		name := DisplayName(out.String())
		r.mu.Lock()
		r.devices[key] = &device{name: name, out: out}
		r.mu.Unlock()

		added = append(added, name)
		r.emit(DeviceEvent{Type: DeviceAdded, Name: name})
	}

	r.mu.Lock()
	for key, d := range r.devices {
		if d.virtual || seen[key] {
			continue
		}
		d.out.Close()
		delete(r.devices, key)
		removed = append(removed, d.name)
	}
	r.mu.Unlock()

	for _, name := range removed {
		r.emit(DeviceEvent{Type: DeviceRemoved, Name: name})
	}
	return added, removed
}

func (r *Registry) emit(ev DeviceEvent) {
	r.log.Info("device "+ev.Type.String(), "name", ev.Name)
	select {
	case r.events <- ev:
	default:
		r.log.Debug("device event dropped, no listener", "name", ev.Name)
	}
}

// CreateVirtual opens a virtual output port. It is a no-op if a device with
// that name already exists.
func (r *Registry) CreateVirtual(name string) error {
	key := Key(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[key]; ok {
		return nil
	}

	out, err := r.host.OpenVirtualOut(name)
	if err != nil {
		return errors.Wrapf(err, "create virtual port %q", name)
	}
	r.devices[key] = &device{name: DisplayName(name), out: out, virtual: true}
	r.log.Info("virtual device created", "name", name)
	return nil
}

// lookup finds a device by key, falling back to a unique prefix match.
func (r *Registry) lookup(name string) *device {
	key := Key(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.devices[key]; ok {
		return d
	}
	var match *device
	for k, d := range r.devices {
		if strings.HasPrefix(k, key) {
			if match != nil {
				return nil
			}
			match = d
		}
	}
	return match
}

// Send writes raw MIDI bytes to the named device. Unknown devices return
// ErrDeviceNotFound and the message is dropped.
func (r *Registry) Send(name string, msg []byte) error {
	d := r.lookup(name)
	if d == nil {
		return errors.Wrap(ErrDeviceNotFound, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.Send(msg)
}

// Close closes every open port.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		d.out.Close()
	}
	r.devices = make(map[string]*device)
}
