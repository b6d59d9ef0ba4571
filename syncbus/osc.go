package syncbus

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/hypebeast/go-osc/osc"
)

const (
	AddressPulse = "/sync/pulse"
	AddressBeat  = "/sync/beat"
)

// Target is an OSC receiver
type Target struct {
	Host string
	Port int
}

// OSCForwarder mirrors bus traffic to OSC receivers: beat labels on
// AddressBeat and tick counts as an int32 on AddressPulse. Relayed client
// text is not forwarded.
type OSCForwarder struct {
	bus     *Bus
	clients []*osc.Client
	log     *log.Logger
}

func NewOSCForwarder(bus *Bus, targets []Target, logger *log.Logger) *OSCForwarder {
	f := &OSCForwarder{bus: bus, log: logger}
	for _, t := range targets {
		f.clients = append(f.clients, osc.NewClient(t.Host, t.Port))
	}
	return f
}

// Run forwards until ctx is done. If the bus drops it for falling behind it
// reconnects.
func (f *OSCForwarder) Run(ctx context.Context) error {
	const id = "osc"
	for {
		sub, err := f.bus.Connect(id)
		if err != nil {
			return err
		}
		if done := f.forward(ctx, sub); done {
			f.bus.Disconnect(id)
			return nil
		}
		f.log.Warn("osc forwarder fell behind, reconnecting")
	}
}

func (f *OSCForwarder) forward(ctx context.Context, sub *Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			if m := toOSC(msg); m != nil {
				for _, c := range f.clients {
					if err := c.Send(m); err != nil {
						f.log.Debug("osc send failed", "err", err)
					}
				}
			}
		}
	}
}

func toOSC(msg Message) *osc.Message {
	switch msg.Kind {
	case Text:
		if !IsBeatLabel(msg.Text) {
			return nil
		}
		return osc.NewMessage(AddressBeat, msg.Text)
	case Binary:
		return osc.NewMessage(AddressPulse, int32(msg.Tick))
	}
	return nil
}
