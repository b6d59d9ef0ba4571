// Package clock drives the shared tempo pulse.
//
// A Clock emits one Pulse every 60/tempo/PPQ seconds. The wait is re-armed
// against an absolute deadline after every pulse so small scheduling jitter
// does not accumulate, and a tempo change takes effect on the next re-arm.
package clock

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	MinTempo = 20.0
	MaxTempo = 300.0
)

// Pulse is one clock tick.
type Pulse struct {
	Tick uint64
	At   time.Time
}

// Clock is a resettable tempo clock.
type Clock struct {
	ppq    int
	tempo  atomic.Uint64 // float64 bits
	next   atomic.Uint64 // tick to emit next
	pulses chan Pulse
	log    *log.Logger
}

// New creates a clock; tempo is clamped to [MinTempo, MaxTempo].
func New(tempo float64, ppq int, logger *log.Logger) *Clock {
	c := &Clock{
		ppq:    ppq,
		pulses: make(chan Pulse, 1),
		log:    logger,
	}
	c.SetTempo(tempo)
	return c
}

// Pulses delivers ticks in order. Ticks are never dropped; a slow reader
// delays them and is reported as a step overrun.
func (c *Clock) Pulses() <-chan Pulse { return c.pulses }

func (c *Clock) PPQ() int { return c.ppq }

func (c *Clock) Tempo() float64 { return math.Float64frombits(c.tempo.Load()) }

// SetTempo clamps bpm to [MinTempo, MaxTempo].
func (c *Clock) SetTempo(bpm float64) {
	if math.IsNaN(bpm) || bpm < MinTempo {
		bpm = MinTempo
	}
	if bpm > MaxTempo {
		bpm = MaxTempo
	}
	c.tempo.Store(math.Float64bits(bpm))
}

// Interval is the time between two pulses at the current tempo.
func (c *Clock) Interval() time.Duration {
	return Interval(c.Tempo(), c.ppq)
}

// CurrentTick is the tick that will be emitted next.
func (c *Clock) CurrentTick() uint64 { return c.next.Load() }

// Reset makes the next emitted tick 0.
func (c *Clock) Reset() { c.next.Store(0) }

// Run emits pulses until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	deadline := time.Now().Add(c.Interval())
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			tick := c.next.Add(1) - 1
			if !c.emit(ctx, Pulse{Tick: tick, At: now}) {
				return nil
			}

			interval := c.Interval()
			deadline = deadline.Add(interval)
			if late := time.Since(deadline); late > interval {
				c.log.Warn("step overrun", "tick", tick, "late", late)
				deadline = time.Now().Add(interval)
			}
			timer.Reset(time.Until(deadline))
		}
	}
}

func (c *Clock) emit(ctx context.Context, p Pulse) bool {
	select {
	case c.pulses <- p:
		return true
	default:
	}

	c.log.Warn("step overrun", "tick", p.Tick, "reason", "consumer busy")
	select {
	case c.pulses <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// Interval returns 60/tempo/ppq seconds.
func Interval(tempo float64, ppq int) time.Duration {
	return time.Duration(60 / tempo / float64(ppq) * float64(time.Second))
}

// Sixteenth is the pulse length of one step.
func Sixteenth(ppq int) uint64 { return uint64(ppq / 4) }

// ThirtySecond is the pulse length of half a step.
func ThirtySecond(ppq int) uint64 { return uint64(ppq / 8) }

// IsStep reports whether tick lies on a sixteenth-note boundary.
func IsStep(tick uint64, ppq int) bool { return tick%Sixteenth(ppq) == 0 }

// IsHalfStep reports whether tick lies on a thirty-second-note boundary.
func IsHalfStep(tick uint64, ppq int) bool { return tick%ThirtySecond(ppq) == 0 }
