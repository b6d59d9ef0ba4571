package sequencer

import (
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"go-daw/clock"
	"go-daw/debug"
	"go-daw/midi"
	"go-daw/syncbus"
)

// Held notes and pending events are scheduled on the manager's own pulse
// counter, which never resets, so a transport reset cannot strand a note.

type heldKey struct {
	device  string // midi.Key of the device
	channel uint8
	note    uint8
}

type heldNote struct {
	source  string
	device  string
	channel uint8
	note    uint8
	offAt   uint64
}

// pendingEvent is a note or CC that starts after the step that produced it
// (retriggers, swing).
type pendingEvent struct {
	source  string
	device  string
	channel uint8
	note    *NoteEvent
	cc      *CCEvent
}

func (p pendingEvent) at() uint64 {
	if p.note != nil {
		return p.note.OnTick
	}
	return p.cc.Tick
}

func noteOff(device string, channel, note uint8) midi.Message {
	return midi.Message{Device: device, Data: gomidi.NoteOff(channel-1, note)}
}

func (m *Manager) onPulse(p clock.Pulse) {
	start := time.Now()
	now := m.pulses
	m.pulses++

	batch, active := m.advance(p.Tick, now)
	m.out.Dispatch(batch)

	if active && m.bus != nil {
		for _, msg := range syncbus.TickMessages(p.Tick, m.clock.PPQ()) {
			m.bus.Publish(SenderID, msg)
		}
	}

	if elapsed, interval := time.Since(start), m.clock.Interval(); elapsed > interval {
		m.log.Warn("step overrun", "tick", p.Tick, "took", elapsed, "interval", interval)
	}
}

// advance does all work for one pulse and returns the MIDI batch. Note-offs
// precede note-ons in the batch.
func (m *Manager) advance(tick, now uint64) ([]midi.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offs := m.releaseDue(now)
	var ons []midi.Message

	if clock.IsStep(tick, m.clock.PPQ()) && (len(m.playing) > 0 || len(m.queued) > 0) {
		var flushed []midi.Message
		flushed, ons = m.step(tick, now)
		offs = append(offs, flushed...)
	}
	ons = append(m.fireDue(now), ons...)

	active := len(m.playing) > 0 || len(m.queued) > 0
	if !active {
		m.clock.Reset()
	}
	return append(offs, ons...), active
}

// step handles a sixteenth boundary: transport changes, then expansion of
// every playing sequence's current step.
func (m *Manager) step(tick, now uint64) (offs, ons []midi.Message) {
	ppq := m.clock.PPQ()
	i := tick / clock.Sixteenth(ppq)

	wasIdle := len(m.playing) == 0
	for _, name := range m.queued.sorted() {
		seq, ok := m.sequences[name]
		if !ok {
			m.queued.del(name)
			continue
		}
		if wasIdle || i%uint64(len(seq.Steps)) == 0 {
			m.queued.del(name)
			m.playing.add(name)
			debug.Log("transport", "start %s at step %d", name, i)
		}
	}

	for _, name := range m.playing.sorted() {
		seq := m.sequences[name]
		if m.queuedStop.has(name) && i%uint64(len(seq.Steps)) == 0 {
			m.playing.del(name)
			debug.Log("transport", "queued stop %s at step %d", name, i)
		}
	}
	for name := range m.queuedStop {
		if !m.playing.has(name) {
			m.queuedStop.del(name)
		}
	}

	type expanded struct {
		seq *Sequence
		ex  Expansion
	}
	var all []expanded
	flush := false
	for _, name := range m.playing.sorted() {
		seq := m.sequences[name]
		ex := Expand(seq.Steps[i%uint64(len(seq.Steps))], now, ppq)
		flush = flush || ex.Panic
		all = append(all, expanded{seq, ex})
	}

	if flush {
		offs = m.releaseAll()
	}

	for _, e := range all {
		seq := e.seq
		for _, cc := range e.ex.CCs {
			if cc.Tick <= now {
				ons = append(ons, midi.Message{Device: seq.Device, Data: gomidi.ControlChange(seq.Channel-1, cc.Control, cc.Value)})
				continue
			}
			m.pending = append(m.pending, pendingEvent{source: seq.Name, device: seq.Device, channel: seq.Channel, cc: &cc})
		}
		for _, ev := range e.ex.Events {
			if ev.OnTick <= now {
				ons = append(ons, m.noteOn(seq.Name, seq.Device, seq.Channel, ev))
				continue
			}
			m.pending = append(m.pending, pendingEvent{source: seq.Name, device: seq.Device, channel: seq.Channel, note: &ev})
		}
	}
	return offs, ons
}

// noteOn registers a held note and returns its note-on. A note already
// held on the same key keeps the later release.
func (m *Manager) noteOn(source, device string, channel uint8, ev NoteEvent) midi.Message {
	key := heldKey{device: midi.Key(device), channel: channel, note: ev.Note}
	if h, ok := m.held[key]; ok {
		h.offAt = max(h.offAt, ev.OffTick)
		h.source = source
	} else {
		m.held[key] = &heldNote{source: source, device: device, channel: channel, note: ev.Note, offAt: ev.OffTick}
	}
	return midi.Message{Device: device, Data: gomidi.NoteOn(channel-1, ev.Note, ev.Velocity)}
}

func (m *Manager) releaseDue(now uint64) []midi.Message {
	var offs []midi.Message
	for key, h := range m.held {
		if h.offAt <= now {
			offs = append(offs, noteOff(h.device, h.channel, h.note))
			delete(m.held, key)
		}
	}
	return offs
}

func (m *Manager) fireDue(now uint64) []midi.Message {
	var ons []midi.Message
	keep := m.pending[:0]
	for _, p := range m.pending {
		if p.at() > now {
			keep = append(keep, p)
			continue
		}
		if p.note != nil {
			ons = append(ons, m.noteOn(p.source, p.device, p.channel, *p.note))
		} else {
			ons = append(ons, midi.Message{Device: p.device, Data: gomidi.ControlChange(p.channel-1, p.cc.Control, p.cc.Value)})
		}
	}
	m.pending = keep
	return ons
}

// releaseSource sends nothing itself; it returns note-offs for everything
// source holds and drops its pending events.
func (m *Manager) releaseSource(source string) []midi.Message {
	var offs []midi.Message
	for key, h := range m.held {
		if h.source == source {
			offs = append(offs, noteOff(h.device, h.channel, h.note))
			delete(m.held, key)
		}
	}
	keep := m.pending[:0]
	for _, p := range m.pending {
		if p.source != source {
			keep = append(keep, p)
		}
	}
	m.pending = keep
	return offs
}

func (m *Manager) renameSource(oldName, newName string) {
	for _, h := range m.held {
		if h.source == oldName {
			h.source = newName
		}
	}
	for i := range m.pending {
		if m.pending[i].source == oldName {
			m.pending[i].source = newName
		}
	}
}

// releaseAll returns note-offs for every held note and cancels everything pending.
func (m *Manager) releaseAll() []midi.Message {
	offs := make([]midi.Message, 0, len(m.held))
	for key, h := range m.held {
		offs = append(offs, noteOff(h.device, h.channel, h.note))
		delete(m.held, key)
	}
	m.pending = nil
	return offs
}

func (m *Manager) flushAll() {
	if offs := m.releaseAll(); len(offs) > 0 {
		m.log.Info("releasing held notes", "count", len(offs))
		m.out.Dispatch(offs)
	}
}
