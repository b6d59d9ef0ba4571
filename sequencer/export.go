package sequencer

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-daw/clock"
)

// ExportSMF renders loops passes of seq through Expand into a Standard MIDI
// File: a tempo track plus one note track.
func ExportSMF(seq *Sequence, ppq int, tempo float64, loops int, path string) error {
	if loops < 1 {
		loops = 1
	}

	type timed struct {
		at    uint64
		order int // offs, then CCs, then ons at the same tick
		msg   gomidi.Message
	}
	var events []timed

	ch := seq.Channel - 1
	sixteenth := clock.Sixteenth(ppq)
	for l := 0; l < loops; l++ {
		for i, st := range seq.Steps {
			tick := uint64(l*len(seq.Steps)+i) * sixteenth
			ex := Expand(st, tick, ppq)
			for _, cc := range ex.CCs {
				events = append(events, timed{cc.Tick, 1, gomidi.ControlChange(ch, cc.Control, cc.Value)})
			}
			for _, ev := range ex.Events {
				events = append(events,
					timed{ev.OnTick, 2, gomidi.NoteOn(ch, ev.Note, ev.Velocity)},
					timed{ev.OffTick, 0, gomidi.NoteOff(ch, ev.Note)},
				)
			}
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].order < events[j].order
	})

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(ppq)

	var track0 smf.Track
	track0.Add(0, smf.MetaMeter(4, 4))
	track0.Add(0, smf.MetaTempo(tempo))
	track0.Close(0)
	if err := sm.Add(track0); err != nil {
		return errors.Wrap(err, "add tempo track")
	}

	var track smf.Track
	var last uint64
	for _, e := range events {
		track.Add(uint32(e.at-last), e.msg)
		last = e.at
	}
	end := uint64(loops*len(seq.Steps)) * sixteenth
	if end > last {
		track.Close(uint32(end - last))
	} else {
		track.Close(0)
	}
	if err := sm.Add(track); err != nil {
		return errors.Wrap(err, "add note track")
	}

	return errors.Wrapf(sm.WriteFile(path), "write %s", path)
}

// ExportSequence writes one loop of a sequence to path as a .mid file.
func (m *Manager) ExportSequence(ctx context.Context, name, path string) error {
	seq, err := m.GetSequence(ctx, name)
	if err != nil {
		return err
	}
	return ExportSMF(seq, m.clock.PPQ(), m.clock.Tempo(), 1, path)
}
