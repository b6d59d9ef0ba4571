package sequencer

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

const (
	DefaultVelocity = 85
	DefaultSteps    = 16
	DefaultChannel  = 1
)

// Sequence is a named loop of steps bound to one device and channel
type Sequence struct {
	Name    string `json:"name"`
	Device  string `json:"device"`
	Channel uint8  `json:"channel"` // 1-16
	Steps   []Step `json:"steps"`
}

// NewSequence returns a sequence with DefaultSteps empty steps
func NewSequence(name, device string, channel uint8) *Sequence {
	if channel < 1 || channel > 16 {
		channel = DefaultChannel
	}
	return &Sequence{
		Name:    name,
		Device:  device,
		Channel: channel,
		Steps:   make([]Step, DefaultSteps),
	}
}

// Clone returns a deep copy
func (s *Sequence) Clone() *Sequence {
	c := *s
	c.Steps = make([]Step, len(s.Steps))
	for i, st := range s.Steps {
		c.Steps[i] = st.Clone()
	}
	return &c
}

// Validate checks what a decoded file can get wrong: note and velocity
// ranges and the command slots. Channel and length are normalized on insert.
func (s *Sequence) Validate() error {
	for i, st := range s.Steps {
		for _, n := range st.Notes {
			if n.Note > 127 || n.Velocity > 127 {
				return errors.Errorf("step %d: note %d velocity %d out of range", i, n.Note, n.Velocity)
			}
		}
		for _, c := range st.Cmds {
			if err := c.Validate(); err != nil {
				return errors.Wrapf(err, "step %d", i)
			}
		}
	}
	return nil
}

// Step is one row of a sequence: notes plus two command slots
type Step struct {
	Notes []Note `json:"notes,omitempty"`
	Cmds  [2]Cmd `json:"cmds"`
}

func (s Step) Clone() Step {
	c := Step{Notes: slices.Clone(s.Notes)}
	for i := range s.Cmds {
		c.Cmds[i] = s.Cmds[i].Clone()
	}
	for i := range c.Notes {
		if c.Notes[i].Len != nil {
			l := *c.Notes[i].Len
			c.Notes[i].Len = &l
		}
	}
	return c
}

// Note is a MIDI note number with optional velocity and length
type Note struct {
	Note     uint8    `json:"note"`
	Velocity uint8    `json:"velocity,omitempty"` // 0 = DefaultVelocity
	Len      *NoteLen `json:"len,omitempty"`      // nil = one sixteenth
}

func (n Note) Vel() uint8 {
	if n.Velocity == 0 {
		return DefaultVelocity
	}
	return n.Velocity
}

var noteNames = [12]string{"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-"}

// NoteName formats a MIDI note tracker style, 60 -> "C-4".
func NoteName(n uint8) string {
	return fmt.Sprintf("%s%d", noteNames[n%12], int(n)/12-1)
}

// LenUnit is a note value
type LenUnit string

const (
	Whole        LenUnit = "wn"
	Half         LenUnit = "hn"
	Quarter      LenUnit = "qn"
	Eighth       LenUnit = "en"
	Sixteenth    LenUnit = "sn"
	ThirtySecond LenUnit = "tn"
	SixtyFourth  LenUnit = "s4n"
)

// NoteLen is Count notes of Unit
type NoteLen struct {
	Unit  LenUnit `json:"unit"`
	Count int     `json:"count"`
}

// Pulses converts the length to clock ticks. Unknown units count as sixteenths.
func (l NoteLen) Pulses(ppq int) uint64 {
	count := l.Count
	if count < 1 {
		count = 1
	}
	var unit int
	switch l.Unit {
	case Whole:
		unit = ppq * 4
	case Half:
		unit = ppq * 2
	case Quarter:
		unit = ppq
	case Eighth:
		unit = ppq / 2
	case ThirtySecond:
		unit = ppq / 8
	case SixtyFourth:
		unit = max(ppq/16, 1)
	default:
		unit = ppq / 4
	}
	return uint64(unit * count)
}

// CmdKind names a tracker command
type CmdKind string

const (
	CmdNone   CmdKind = ""
	CmdChord  CmdKind = "chord"
	CmdRoll   CmdKind = "roll"
	CmdRepeat CmdKind = "repeat"
	CmdHold   CmdKind = "hold"
	CmdSwing  CmdKind = "swing"
	CmdPanic  CmdKind = "panic"
	CmdCC     CmdKind = "cc"
)

// Cmd is a tracker performance command. Only the fields of its Kind are used.
type Cmd struct {
	Kind      CmdKind `json:"kind,omitempty"`
	Intervals []int8  `json:"intervals,omitempty"` // chord
	Times     int     `json:"times,omitempty"`     // roll, repeat
	Steps     int     `json:"steps,omitempty"`     // hold
	Amount    int     `json:"amount,omitempty"`    // swing, in pulses
	Control   uint8   `json:"control,omitempty"`   // cc
	Value     uint8   `json:"value,omitempty"`     // cc
}

func Chord(intervals ...int8) Cmd { return Cmd{Kind: CmdChord, Intervals: intervals} }
func Roll(times int) Cmd          { return Cmd{Kind: CmdRoll, Times: times} }
func Repeat(times int) Cmd        { return Cmd{Kind: CmdRepeat, Times: times} }
func HoldFor(steps int) Cmd       { return Cmd{Kind: CmdHold, Steps: steps} }
func Swing(amount int) Cmd        { return Cmd{Kind: CmdSwing, Amount: amount} }
func Panic() Cmd                  { return Cmd{Kind: CmdPanic} }
func CC(control, value uint8) Cmd { return Cmd{Kind: CmdCC, Control: control, Value: value} }

func (c Cmd) IsNone() bool { return c.Kind == CmdNone }

func (c Cmd) Equal(o Cmd) bool {
	return c.Kind == o.Kind &&
		slices.Equal(c.Intervals, o.Intervals) &&
		c.Times == o.Times &&
		c.Steps == o.Steps &&
		c.Amount == o.Amount &&
		c.Control == o.Control &&
		c.Value == o.Value
}

func (c Cmd) Clone() Cmd {
	c.Intervals = slices.Clone(c.Intervals)
	return c
}

func (c Cmd) String() string {
	switch c.Kind {
	case CmdNone:
		return "---"
	case CmdChord:
		return fmt.Sprintf("chord%v", c.Intervals)
	case CmdRoll:
		return fmt.Sprintf("roll %d", c.Times)
	case CmdRepeat:
		return fmt.Sprintf("rep %d", c.Times)
	case CmdHold:
		return fmt.Sprintf("hold %d", c.Steps)
	case CmdSwing:
		return fmt.Sprintf("swing %d", c.Amount)
	case CmdPanic:
		return "panic"
	case CmdCC:
		return fmt.Sprintf("cc%d=%d", c.Control, c.Value)
	}
	return string(c.Kind)
}

// Validate rejects kinds outside the closed command set.
func (c Cmd) Validate() error {
	switch c.Kind {
	case CmdNone, CmdChord, CmdRoll, CmdRepeat, CmdHold, CmdSwing, CmdPanic, CmdCC:
	default:
		return errors.Errorf("unknown command kind %q", c.Kind)
	}
	if c.Times < 0 || c.Steps < 0 || c.Amount < 0 {
		return errors.Errorf("negative argument in %s", c)
	}
	if c.Kind == CmdCC && (c.Control > 127 || c.Value > 127) {
		return errors.Errorf("cc out of range: %s", c)
	}
	return nil
}
