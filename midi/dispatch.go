package midi

import (
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"go-daw/debug"
)

// Message is raw MIDI bytes bound for a device.
type Message struct {
	Device string
	Data   []byte
}

// Sender writes one message to a device. *Registry satisfies it.
type Sender interface {
	Send(device string, data []byte) error
}

// queue depth per device, in batches
const workerQueue = 64

// Dispatcher fans a tick's batch out to one worker per device. Messages for
// the same device are written in batch order; devices run in parallel.
type Dispatcher struct {
	sender  Sender
	workers map[string]chan []Message
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	log     *log.Logger
}

// NewDispatcher creates a dispatcher writing through sender
func NewDispatcher(sender Sender, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		workers: make(map[string]chan []Message),
		log:     logger,
	}
}

// Dispatch enqueues batch without blocking. If a device's queue is full its
// part of the batch is dropped and logged.
func (d *Dispatcher) Dispatch(batch []Message) {
	if len(batch) == 0 {
		return
	}

	groups := make(map[string][]Message)
	var order []string
	for _, m := range batch {
		key := Key(m.Device)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	for _, key := range order {
		ch := d.worker(key)
		select {
		case ch <- groups[key]:
		default:
			d.log.Warn("device queue full, dropping", "device", key, "messages", len(groups[key]))
		}
	}
}

// worker must be called with d.mu held.
func (d *Dispatcher) worker(key string) chan []Message {
	if ch, ok := d.workers[key]; ok {
		return ch
	}
	ch := make(chan []Message, workerQueue)
	d.workers[key] = ch
	d.wg.Add(1)
	go d.run(ch)
	return ch
}

func (d *Dispatcher) run(ch chan []Message) {
	defer d.wg.Done()

	// Keep MIDI writes on one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for batch := range ch {
		for _, m := range batch {
			err := d.sender.Send(m.Device, m.Data)
			switch {
			case err == nil:
			case errors.Is(err, ErrDeviceNotFound):
				debug.LogEvery(64, "dispatch", "send to unknown device %q dropped", m.Device)
			default:
				d.log.Error("send failed", "device", m.Device, "err", err)
			}
		}
	}
}

// Close drains every queue and waits for the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
