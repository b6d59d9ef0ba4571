package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"go-daw/clock"
	"go-daw/midi"
	"go-daw/syncbus"
)

var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrSequenceExists   = errors.New("sequence already exists")
	ErrStepRange        = errors.New("step out of range")
	ErrSlotRange        = errors.New("command slot out of range")
	ErrTooShort         = errors.New("sequence cannot be shorter than one step")
	ErrSlotsFull        = errors.New("both command slots are in use")
	ErrInvalid          = errors.New("invalid argument")
	ErrStopped          = errors.New("sequencer stopped")
)

// SenderID identifies the sequencer on the sync bus.
const SenderID = "sequencer"

// Clock is the tick source. *clock.Clock satisfies it.
type Clock interface {
	Pulses() <-chan clock.Pulse
	PPQ() int
	Tempo() float64
	SetTempo(bpm float64)
	Interval() time.Duration
	Reset()
}

// Output receives one batch of MIDI messages per tick. *midi.Dispatcher satisfies it.
type Output interface {
	Dispatch(batch []midi.Message)
}

// Publisher receives sync frames. *syncbus.Bus satisfies it.
type Publisher interface {
	Publish(sender string, msg syncbus.Message)
}

// Options configures a Manager
type Options struct {
	Clock         Clock
	Output        Output
	Bus           Publisher // optional
	Store         *Store    // optional
	DefaultDevice string
	Logger        *log.Logger
}

// Manager owns all sequences and play state. Commands are applied by the
// goroutine running Run, between clock ticks.
type Manager struct {
	clock         Clock
	out           Output
	bus           Publisher
	store         *Store
	defaultDevice string
	log           *log.Logger

	// guarded by mu; written only by the Run goroutine
	mu         sync.RWMutex
	sequences  map[string]*Sequence
	playing    nameSet
	queued     nameSet
	queuedStop nameSet

	// owned by the Run goroutine
	pulses  uint64
	held    map[heldKey]*heldNote
	pending []pendingEvent

	cmds    chan func()
	done    chan struct{}
	updates chan struct{}
}

// NewManager creates a manager; call Run to start it.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		clock:         opts.Clock,
		out:           opts.Output,
		bus:           opts.Bus,
		store:         opts.Store,
		defaultDevice: opts.DefaultDevice,
		log:           logger,
		sequences:     make(map[string]*Sequence),
		playing:       make(nameSet),
		queued:        make(nameSet),
		queuedStop:    make(nameSet),
		held:          make(map[heldKey]*heldNote),
		cmds:          make(chan func(), 64),
		done:          make(chan struct{}),
		updates:       make(chan struct{}, 1),
	}
}

// Updates signals (coalesced) whenever sequences or play state change.
func (m *Manager) Updates() <-chan struct{} { return m.updates }

func (m *Manager) notifyUpdate() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Run processes clock pulses and commands until ctx is done. Held notes are
// released before it returns. A panic inside the loop ends the session
// with an error.
func (m *Manager) Run(ctx context.Context) (err error) {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sequencer loop crashed: %v", r)
			m.log.Error("fatal", "err", err)
		}
		m.flushAll()
	}()

	pulses := m.clock.Pulses()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-pulses:
			if !ok {
				return errors.New("clock stopped")
			}
			m.onPulse(p)
		case fn := <-m.cmds:
			fn()
		}
	}
}

// do runs fn on the loop goroutine and waits for its result. Once Run has
// returned every call fails with ErrStopped.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() {
		err := ErrStopped
		defer func() { errc <- err }()
		err = fn()
	}

	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-m.done:
		// cmd may have run just before the loop exited
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	}
}

// mutate runs fn under the write lock on the loop goroutine. Listeners are
// notified even on error, since fn may have applied part of a batch.
func (m *Manager) mutate(ctx context.Context, fn func() error) error {
	return m.do(ctx, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		defer m.notifyUpdate()
		return fn()
	})
}

func (m *Manager) get(name string) (*Sequence, error) {
	seq, ok := m.sequences[name]
	if !ok {
		return nil, errors.Wrap(ErrSequenceNotFound, name)
	}
	return seq, nil
}

func (m *Manager) getStep(name string, step int) (*Step, error) {
	seq, err := m.get(name)
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= len(seq.Steps) {
		return nil, errors.Wrapf(ErrStepRange, "%s step %d of %d", name, step, len(seq.Steps))
	}
	return &seq.Steps[step], nil
}

// resetIfIdle must be called with mu held.
func (m *Manager) resetIfIdle() {
	if len(m.playing) == 0 && len(m.queued) == 0 {
		m.clock.Reset()
	}
}

// NewSequence creates an empty sequence and returns its name. An empty name
// is generated, an empty device uses the default device.
func (m *Manager) NewSequence(ctx context.Context, name, device string, channel uint8) (string, error) {
	if device == "" {
		device = m.defaultDevice
	}
	if channel > 16 {
		return "", errors.Wrapf(ErrInvalid, "channel %d", channel)
	}
	err := m.mutate(ctx, func() error {
		if name == "" {
			for i := 1; ; i++ {
				name = fmt.Sprintf("seq-%d", i)
				if _, ok := m.sequences[name]; !ok {
					break
				}
			}
		}
		if _, ok := m.sequences[name]; ok {
			return errors.Wrap(ErrSequenceExists, name)
		}
		m.sequences[name] = NewSequence(name, device, channel)
		m.log.Info("sequence created", "name", name, "device", device)
		return nil
	})
	return name, err
}

// RmSequence deletes a sequence, removes it from every play set and
// releases any notes it is holding.
func (m *Manager) RmSequence(ctx context.Context, name string) error {
	return m.mutate(ctx, func() error {
		if _, err := m.get(name); err != nil {
			return err
		}
		delete(m.sequences, name)
		m.playing.del(name)
		m.queued.del(name)
		m.queuedStop.del(name)
		m.out.Dispatch(m.releaseSource(name))
		m.resetIfIdle()
		return nil
	})
}

func (m *Manager) SetDevice(ctx context.Context, name, device string) error {
	return m.mutate(ctx, func() error {
		seq, err := m.get(name)
		if err != nil {
			return err
		}
		seq.Device = device
		return nil
	})
}

func (m *Manager) SetChannel(ctx context.Context, name string, channel uint8) error {
	if channel < 1 || channel > 16 {
		return errors.Wrapf(ErrInvalid, "channel %d", channel)
	}
	return m.mutate(ctx, func() error {
		seq, err := m.get(name)
		if err != nil {
			return err
		}
		seq.Channel = channel
		return nil
	})
}

// RenameSequence moves a sequence and its play state to a new name in one
// step; no tick ever sees the old and new names at once.
func (m *Manager) RenameSequence(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return errors.Wrap(ErrInvalid, "empty name")
	}
	return m.mutate(ctx, func() error {
		seq, err := m.get(oldName)
		if err != nil {
			return err
		}
		if oldName == newName {
			return nil
		}
		if _, ok := m.sequences[newName]; ok {
			return errors.Wrap(ErrSequenceExists, newName)
		}
		delete(m.sequences, oldName)
		seq.Name = newName
		m.sequences[newName] = seq
		m.playing.rename(oldName, newName)
		m.queued.rename(oldName, newName)
		m.queuedStop.rename(oldName, newName)
		m.renameSource(oldName, newName)
		return nil
	})
}

// Play queues sequences to start at their next loop boundary. Unknown names
// are reported after the known ones are queued.
func (m *Manager) Play(ctx context.Context, names ...string) error {
	return m.mutate(ctx, func() error {
		missing := m.missing("play", names)
		for _, name := range names {
			if _, ok := m.sequences[name]; !ok {
				continue
			}
			m.queuedStop.del(name)
			if !m.playing.has(name) {
				m.queued.add(name)
			}
		}
		return missing
	})
}

// missing logs unknown names and returns ErrSequenceNotFound for the first.
// Must be called with mu held.
func (m *Manager) missing(op string, names []string) error {
	var err error
	for _, name := range names {
		if _, ok := m.sequences[name]; ok {
			continue
		}
		m.log.Error(op+": no such sequence", "name", name)
		if err == nil {
			err = errors.Wrap(ErrSequenceNotFound, name)
		}
	}
	return err
}

func (m *Manager) PlayAll(ctx context.Context) error {
	return m.mutate(ctx, func() error {
		for name := range m.sequences {
			m.queuedStop.del(name)
			if !m.playing.has(name) {
				m.queued.add(name)
			}
		}
		return nil
	})
}

// Stop halts sequences immediately. Notes already sounding release on schedule.
func (m *Manager) Stop(ctx context.Context, names ...string) error {
	return m.mutate(ctx, func() error {
		missing := m.missing("stop", names)
		for _, name := range names {
			m.queued.del(name)
			m.playing.del(name)
			m.queuedStop.del(name)
		}
		m.resetIfIdle()
		return missing
	})
}

func (m *Manager) StopAll(ctx context.Context) error {
	return m.mutate(ctx, func() error {
		clear(m.playing)
		clear(m.queued)
		clear(m.queuedStop)
		m.clock.Reset()
		return nil
	})
}

// QueueStop stops sequences at their next loop boundary.
func (m *Manager) QueueStop(ctx context.Context, names ...string) error {
	return m.mutate(ctx, func() error {
		missing := m.missing("queue stop", names)
		for _, name := range names {
			if _, ok := m.sequences[name]; ok {
				m.queuedStop.add(name)
			}
		}
		return missing
	})
}

// AddNote adds note to a step, replacing the velocity and length of the
// same note if it is already there.
func (m *Manager) AddNote(ctx context.Context, name string, step int, note, velocity uint8, length *NoteLen) error {
	if note > 127 || velocity > 127 {
		return errors.Wrapf(ErrInvalid, "note %d velocity %d", note, velocity)
	}
	return m.mutate(ctx, func() error {
		st, err := m.getStep(name, step)
		if err != nil {
			return err
		}
		n := Note{Note: note, Velocity: velocity, Len: length}
		for i := range st.Notes {
			if st.Notes[i].Note == note {
				st.Notes[i] = n
				return nil
			}
		}
		st.Notes = append(st.Notes, n)
		return nil
	})
}

// RmNote removes note from a step; removing an absent note is a no-op.
func (m *Manager) RmNote(ctx context.Context, name string, step int, note uint8) error {
	return m.mutate(ctx, func() error {
		st, err := m.getStep(name, step)
		if err != nil {
			return err
		}
		for i := range st.Notes {
			if st.Notes[i].Note == note {
				st.Notes = append(st.Notes[:i], st.Notes[i+1:]...)
				break
			}
		}
		if len(st.Notes) == 0 {
			st.Notes = nil
		}
		return nil
	})
}

// AddCmd puts cmd in the first empty slot. Adding a command already present
// is a no-op.
func (m *Manager) AddCmd(ctx context.Context, name string, step int, cmd Cmd) error {
	if err := cmd.Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if cmd.IsNone() {
		return nil
	}
	return m.mutate(ctx, func() error {
		st, err := m.getStep(name, step)
		if err != nil {
			return err
		}
		for _, c := range st.Cmds {
			if c.Equal(cmd) {
				return nil
			}
		}
		for i := range st.Cmds {
			if st.Cmds[i].IsNone() {
				st.Cmds[i] = cmd.Clone()
				return nil
			}
		}
		return errors.Wrapf(ErrSlotsFull, "%s step %d", name, step)
	})
}

// SetCmd replaces slot 0 or 1 directly. A zero Cmd clears the slot.
func (m *Manager) SetCmd(ctx context.Context, name string, step, slot int, cmd Cmd) error {
	if slot < 0 || slot > 1 {
		return errors.Wrapf(ErrSlotRange, "slot %d", slot)
	}
	if err := cmd.Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return m.mutate(ctx, func() error {
		st, err := m.getStep(name, step)
		if err != nil {
			return err
		}
		st.Cmds[slot] = cmd.Clone()
		return nil
	})
}

// RmCmd clears every slot holding cmd; an absent command is a no-op.
func (m *Manager) RmCmd(ctx context.Context, name string, step int, cmd Cmd) error {
	return m.mutate(ctx, func() error {
		st, err := m.getStep(name, step)
		if err != nil {
			return err
		}
		for i := range st.Cmds {
			if st.Cmds[i].Equal(cmd) {
				st.Cmds[i] = Cmd{}
			}
		}
		return nil
	})
}

// ChangeLenBy grows (appending empty steps) or shrinks a sequence. A result
// shorter than one step is refused and the sequence is left unchanged.
func (m *Manager) ChangeLenBy(ctx context.Context, name string, amount int) error {
	return m.mutate(ctx, func() error {
		seq, err := m.get(name)
		if err != nil {
			return err
		}
		n := len(seq.Steps) + amount
		if n < 1 {
			return errors.Wrapf(ErrTooShort, "%s: %d%+d", name, len(seq.Steps), amount)
		}
		if n < len(seq.Steps) {
			seq.Steps = seq.Steps[:n]
		} else {
			seq.Steps = append(seq.Steps, make([]Step, n-len(seq.Steps))...)
		}
		return nil
	})
}

// GetSequence returns a deep copy of a sequence.
func (m *Manager) GetSequence(ctx context.Context, name string) (*Sequence, error) {
	var out *Sequence
	err := m.do(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		seq, err := m.get(name)
		if err != nil {
			return err
		}
		out = seq.Clone()
		return nil
	})
	return out, err
}

// GetSequences returns all sequence names, sorted.
func (m *Manager) GetSequences(ctx context.Context) ([]string, error) {
	var names []string
	err := m.do(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		set := make(nameSet, len(m.sequences))
		for name := range m.sequences {
			set.add(name)
		}
		names = set.sorted()
		return nil
	})
	return names, err
}

// PlayState returns the transport sets as of the last completed tick.
func (m *Manager) PlayState(ctx context.Context) (PlayState, error) {
	var ps PlayState
	err := m.do(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		ps = m.playState()
		return nil
	})
	return ps, err
}

func (m *Manager) playState() PlayState {
	return PlayState{
		Playing:    m.playing.sorted(),
		Queued:     m.queued.sorted(),
		QueuedStop: m.queuedStop.sorted(),
	}
}

// Status reads a snapshot without going through the command queue.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Tempo: m.clock.Tempo()}
	names := make(nameSet, len(m.sequences))
	for name := range m.sequences {
		names.add(name)
	}
	for _, name := range names.sorted() {
		seq := m.sequences[name]
		state := Stopped
		switch {
		case m.playing.has(name) && m.queuedStop.has(name):
			state = Stopping
		case m.playing.has(name):
			state = Playing
		case m.queued.has(name):
			state = Queued
		}
		st.Sequences = append(st.Sequences, SequenceStatus{
			Name:    name,
			Device:  seq.Device,
			Channel: seq.Channel,
			Len:     len(seq.Steps),
			State:   state,
		})
	}
	return st
}

// SetTempo takes effect on the next clock re-arm.
func (m *Manager) SetTempo(bpm float64) {
	m.clock.SetTempo(bpm)
	m.log.Info("tempo", "bpm", m.clock.Tempo())
	m.notifyUpdate()
}

func (m *Manager) Tempo() float64 { return m.clock.Tempo() }

// Panic releases every held note and cancels pending retriggers now.
func (m *Manager) Panic(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.out.Dispatch(m.releaseAll())
		return nil
	})
}

// insert adds or replaces sequences, keeping play state for replaced names.
// Nothing is inserted if any sequence is invalid.
func (m *Manager) insert(ctx context.Context, seqs map[string]*Sequence) error {
	for name, seq := range seqs {
		if seq == nil {
			return errors.Wrapf(ErrInvalid, "sequence %s is empty", name)
		}
		if err := seq.Validate(); err != nil {
			return errors.Wrapf(ErrInvalid, "sequence %s: %v", name, err)
		}
	}
	return m.mutate(ctx, func() error {
		for name, seq := range seqs {
			seq.Name = name
			if len(seq.Steps) == 0 {
				seq.Steps = make([]Step, 1)
			}
			if seq.Channel < 1 || seq.Channel > 16 {
				seq.Channel = DefaultChannel
			}
			m.sequences[name] = seq
		}
		return nil
	})
}

// snapshot deep-copies every sequence.
func (m *Manager) snapshot(ctx context.Context) (map[string]*Sequence, error) {
	out := make(map[string]*Sequence)
	err := m.do(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for name, seq := range m.sequences {
			out[name] = seq.Clone()
		}
		return nil
	})
	return out, err
}
