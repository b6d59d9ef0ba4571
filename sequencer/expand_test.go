package sequencer

import (
	"testing"
)

const testPPQ = 48

func notes(ns ...uint8) []Note {
	out := make([]Note, len(ns))
	for i, n := range ns {
		out[i] = Note{Note: n}
	}
	return out
}

func TestTransposeRule(t *testing.T) {
	for note := 0; note <= 127; note++ {
		for off := -128; off <= 127; off++ {
			got := int(Transpose(uint8(note), off))
			var want int
			switch {
			case off < 0 && -off <= note:
				want = note + off
			case off < 0:
				want = (((127 - (-off - note)) % 128) + 128) % 128
			case off <= 127-note:
				want = note + off
			default:
				want = (note + off) % 128
			}
			if got != want || got < 0 || got > 127 {
				t.Fatalf("Transpose(%d, %d) = %d, want %d", note, off, got, want)
			}
		}
	}
}

func TestTransposeExamples(t *testing.T) {
	tests := []struct {
		note uint8
		off  int
		want uint8
	}{
		{2, -5, 124},
		{60, 7, 67},
		{60, -12, 48},
		{120, 10, 2},
		{0, -128, 127},
		{127, 127, 126},
	}
	for _, tt := range tests {
		if got := Transpose(tt.note, tt.off); got != tt.want {
			t.Errorf("Transpose(%d, %d) = %d, want %d", tt.note, tt.off, got, tt.want)
		}
	}
}

func TestExpandChordWrap(t *testing.T) {
	ex := Expand(Step{Notes: notes(2), Cmds: [2]Cmd{Chord(-5)}}, 0, testPPQ)
	if len(ex.Events) != 2 {
		t.Fatalf("events = %v", ex.Events)
	}
	found := false
	for _, e := range ex.Events {
		if e.Note == 124 {
			found = true
		}
	}
	if !found {
		t.Errorf("chord member 124 missing: %v", ex.Events)
	}
}

func TestExpandDefaultLength(t *testing.T) {
	ex := Expand(Step{Notes: notes(60)}, 100, testPPQ)
	if len(ex.Events) != 1 {
		t.Fatalf("events = %v", ex.Events)
	}
	e := ex.Events[0]
	if e.OnTick != 100 || e.OffTick != 112 || e.Velocity != DefaultVelocity {
		t.Errorf("event = %+v", e)
	}
}

func TestExpandNoteLen(t *testing.T) {
	step := Step{Notes: []Note{{Note: 60, Velocity: 100, Len: &NoteLen{Unit: Quarter, Count: 2}}}}
	e := Expand(step, 0, testPPQ).Events[0]
	if e.OffTick != 96 || e.Velocity != 100 {
		t.Errorf("event = %+v", e)
	}
}

func TestExpandHold(t *testing.T) {
	tests := []struct {
		name string
		cmds [2]Cmd
		off  uint64
	}{
		{"hold 1", [2]Cmd{HoldFor(1)}, 10 + 2*12},
		{"hold 0", [2]Cmd{HoldFor(0)}, 10 + 18},
		{"max of both slots", [2]Cmd{HoldFor(1), HoldFor(3)}, 10 + 4*12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := Expand(Step{Notes: notes(60), Cmds: tt.cmds}, 10, testPPQ)
			if len(ex.Events) != 1 {
				t.Fatalf("events = %v", ex.Events)
			}
			if got := ex.Events[0].OffTick; got != tt.off {
				t.Errorf("OffTick = %d, want %d", got, tt.off)
			}
		})
	}
}

func TestExpandChordSharesOff(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Chord(4, 7), HoldFor(2)}}, 0, testPPQ)
	if len(ex.Events) != 3 {
		t.Fatalf("events = %v", ex.Events)
	}
	for _, e := range ex.Events {
		if e.OffTick != 36 {
			t.Errorf("note %d off = %d, want 36", e.Note, e.OffTick)
		}
	}
}

func TestExpandChordMergesSlots(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Chord(4), Chord(7)}}, 0, testPPQ)
	got := map[uint8]bool{}
	for _, e := range ex.Events {
		got[e.Note] = true
	}
	if !got[60] || !got[64] || !got[67] || len(got) != 3 {
		t.Errorf("notes = %v", got)
	}
}

func TestExpandRoll(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Roll(2)}}, 0, testPPQ)
	if len(ex.Events) != 3 {
		t.Fatalf("events = %v", ex.Events)
	}
	for k, e := range ex.Events {
		on := uint64(k * 6)
		if e.OnTick != on || e.OffTick != on+6 {
			t.Errorf("retrigger %d = %+v, want on %d off %d", k, e, on, on+6)
		}
	}
}

func TestExpandRepeat(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Repeat(1), Repeat(3)}}, 0, testPPQ)
	if len(ex.Events) != 4 {
		t.Fatalf("events = %v", ex.Events)
	}
	for k, e := range ex.Events {
		on := uint64(k * 12)
		if e.OnTick != on || e.OffTick != on+12 {
			t.Errorf("retrigger %d = %+v", k, e)
		}
	}
}

func TestExpandRollBeatsRepeat(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Repeat(5), Roll(1)}}, 0, testPPQ)
	if len(ex.Events) != 2 {
		t.Fatalf("events = %v", ex.Events)
	}
	if ex.Events[1].OnTick != 6 {
		t.Errorf("retrigger at %d, want half-step spacing", ex.Events[1].OnTick)
	}
}

func TestExpandRollWithHold(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Roll(3), HoldFor(1)}}, 0, testPPQ)
	if len(ex.Events) != 4 {
		t.Fatalf("events = %v", ex.Events)
	}
	for _, e := range ex.Events {
		if e.OffTick != 24 {
			t.Errorf("event %+v: held retriggers share the hold release", e)
		}
	}
}

func TestExpandPanicAndCCWithoutNotes(t *testing.T) {
	ex := Expand(Step{Cmds: [2]Cmd{Panic(), CC(7, 100)}}, 5, testPPQ)
	if !ex.Panic {
		t.Error("Panic not set")
	}
	if len(ex.Events) != 0 {
		t.Errorf("events = %v", ex.Events)
	}
	if len(ex.CCs) != 1 || ex.CCs[0] != (CCEvent{Control: 7, Value: 100, Tick: 5}) {
		t.Errorf("CCs = %v", ex.CCs)
	}
}

func TestExpandCCConflict(t *testing.T) {
	ex := Expand(Step{Cmds: [2]Cmd{CC(1, 20), CC(1, 90)}}, 0, testPPQ)
	if len(ex.CCs) != 1 || ex.CCs[0].Value != 90 {
		t.Errorf("CCs = %v", ex.CCs)
	}
	ex = Expand(Step{Cmds: [2]Cmd{CC(1, 20), CC(2, 90)}}, 0, testPPQ)
	if len(ex.CCs) != 2 {
		t.Errorf("CCs = %v", ex.CCs)
	}
}

func TestExpandSwing(t *testing.T) {
	ex := Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Swing(2), Swing(4)}}, 0, testPPQ)
	if e := ex.Events[0]; e.OnTick != 4 || e.OffTick != 16 {
		t.Errorf("event = %+v", e)
	}
	ex = Expand(Step{Notes: notes(60), Cmds: [2]Cmd{Swing(500)}}, 0, testPPQ)
	if e := ex.Events[0]; e.OnTick != 11 {
		t.Errorf("swing not clamped below one step: %+v", e)
	}
}

func TestNoteName(t *testing.T) {
	if got := NoteName(60); got != "C-4" {
		t.Errorf("NoteName(60) = %q", got)
	}
	if got := NoteName(61); got != "C#4" {
		t.Errorf("NoteName(61) = %q", got)
	}
}
