package sequencer

import "sort"

type nameSet map[string]struct{}

func (s nameSet) add(name string) { s[name] = struct{}{} }
func (s nameSet) del(name string) { delete(s, name) }

func (s nameSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// rename moves old to new if present.
func (s nameSet) rename(old, new string) {
	if s.has(old) {
		s.del(old)
		s.add(new)
	}
}

// PlayState is a snapshot of the transport sets
type PlayState struct {
	Playing    []string
	Queued     []string
	QueuedStop []string
}

// State of a single sequence as seen by a UI
type SeqState string

const (
	Stopped  SeqState = "stopped"
	Queued   SeqState = "queued"
	Playing  SeqState = "playing"
	Stopping SeqState = "stopping"
)

// SequenceStatus summarizes one sequence
type SequenceStatus struct {
	Name    string
	Device  string
	Channel uint8
	Len     int
	State   SeqState
}

// Status is a read-only view of the manager for monitors
type Status struct {
	Tempo     float64
	Sequences []SequenceStatus
}
