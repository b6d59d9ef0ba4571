package sequencer

import (
	"sort"

	"go-daw/clock"
)

// NoteEvent is one note to play: note-on at OnTick, note-off at OffTick.
type NoteEvent struct {
	Note     uint8
	Velocity uint8
	OnTick   uint64
	OffTick  uint64
}

// CCEvent is a control change sent at Tick.
type CCEvent struct {
	Control uint8
	Value   uint8
	Tick    uint64
}

// Expansion is everything one step produces.
type Expansion struct {
	Events []NoteEvent
	CCs    []CCEvent
	Panic  bool
}

// Transpose applies a chord interval to note, wrapping into 0..127.
//
// A downward interval larger than the note wraps from the top:
// Transpose(2, -5) == 124. An upward interval past 127 wraps modulo 128.
func Transpose(note uint8, interval int) uint8 {
	n := int(note)
	switch {
	case interval < 0 && -interval <= n:
		return uint8(n + interval)
	case interval < 0:
		return wrap(127 - (-interval - n))
	case interval <= 127-n:
		return uint8(n + interval)
	default:
		return wrap(n + interval)
	}
}

func wrap(n int) uint8 {
	return uint8(((n % 128) + 128) % 128)
}

// slots collects the two command slots of a step, resolving conflicts.
type slots struct {
	hold      int // -1 when absent
	roll      int
	hasRoll   bool
	repeat    int
	hasRepeat bool
	swing     int
	intervals []int8
	ccs       []CCEvent
	panic     bool
}

func readSlots(cmds [2]Cmd) slots {
	s := slots{hold: -1}
	for _, c := range cmds {
		switch c.Kind {
		case CmdChord:
			s.intervals = append(s.intervals, c.Intervals...)
		case CmdRoll:
			s.hasRoll = true
			s.roll = max(s.roll, c.Times)
		case CmdRepeat:
			s.hasRepeat = true
			s.repeat = max(s.repeat, c.Times)
		case CmdHold:
			s.hold = max(s.hold, c.Steps)
		case CmdSwing:
			s.swing = max(s.swing, c.Amount)
		case CmdPanic:
			s.panic = true
		case CmdCC:
			merged := false
			for i := range s.ccs {
				if s.ccs[i].Control == c.Control {
					s.ccs[i].Value = max(s.ccs[i].Value, c.Value)
					merged = true
				}
			}
			if !merged {
				s.ccs = append(s.ccs, CCEvent{Control: c.Control, Value: c.Value})
			}
		}
	}
	return s
}

// Expand turns a step played at tick into concrete note and CC events.
// It is pure: the same inputs always give the same Expansion.
func Expand(step Step, tick uint64, ppq int) Expansion {
	sixteenth := clock.Sixteenth(ppq)
	half := clock.ThirtySecond(ppq)
	s := readSlots(step.Cmds)

	delay := uint64(min(s.swing, int(sixteenth)-1))
	on := tick + delay

	ex := Expansion{Panic: s.panic}
	for _, cc := range s.ccs {
		cc.Tick = on
		ex.CCs = append(ex.CCs, cc)
	}

	// retrigger spacing; Roll wins over Repeat
	var times int
	var spacing uint64
	switch {
	case s.hasRoll:
		times, spacing = s.roll, half
	case s.hasRepeat:
		times, spacing = s.repeat, sixteenth
	}
	holding := s.hold >= 0

	for _, n := range step.Notes {
		off := on + sixteenth
		if n.Len != nil {
			off = on + n.Len.Pulses(ppq)
		}
		if holding {
			if s.hold == 0 {
				off = on + sixteenth*3/2
			} else {
				off = on + sixteenth*uint64(s.hold+1)
			}
		}

		vel := n.Vel()
		for _, iv := range s.intervals {
			ex.Events = append(ex.Events, NoteEvent{
				Note:     Transpose(n.Note, int(iv)),
				Velocity: vel,
				OnTick:   on,
				OffTick:  off,
			})
		}

		if times == 0 {
			ex.Events = append(ex.Events, NoteEvent{Note: n.Note, Velocity: vel, OnTick: on, OffTick: off})
			continue
		}

		last := on + uint64(times)*spacing
		if holding {
			// one shared release after the last retrigger
			shared := max(off, last+spacing)
			for k := 0; k <= times; k++ {
				ex.Events = append(ex.Events, NoteEvent{
					Note:     n.Note,
					Velocity: vel,
					OnTick:   on + uint64(k)*spacing,
					OffTick:  shared,
				})
			}
			continue
		}

		baseOff := off
		if s.hasRoll {
			baseOff = on + half
		}
		ex.Events = append(ex.Events, NoteEvent{Note: n.Note, Velocity: vel, OnTick: on, OffTick: baseOff})
		for k := 1; k <= times; k++ {
			start := on + uint64(k)*spacing
			ex.Events = append(ex.Events, NoteEvent{
				Note:     n.Note,
				Velocity: vel,
				OnTick:   start,
				OffTick:  start + spacing,
			})
		}
	}

	sort.SliceStable(ex.Events, func(i, j int) bool {
		return ex.Events[i].OnTick < ex.Events[j].OnTick
	})
	return ex
}
