// Package syncbus fans clock sync messages out to connected clients.
package syncbus

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

var ErrDuplicateID = errors.New("subscriber id already connected")

type Kind int

const (
	Text Kind = iota
	Binary
)

// Message is one frame on the bus
type Message struct {
	Kind Kind
	Text string
	Data []byte
	Tick uint64 // thirty-second count of a tick frame; not sent on the wire
}

func TextMessage(s string) Message { return Message{Kind: Text, Text: s} }

// TickMessage is an empty binary frame; its presence is the signal.
func TickMessage(n uint64) Message { return Message{Kind: Binary, Tick: n} }

// Subscription receives every message not published by itself.
// C is closed on disconnect.
type Subscription struct {
	id string
	ch chan Message
}

func (s *Subscription) ID() string { return s.id }
func (s *Subscription) C() <-chan Message { return s.ch }

// Bus is an in-process publish/subscribe hub
type Bus struct {
	subs   map[string]*Subscription
	mu     sync.RWMutex
	buffer int
	log    *log.Logger
}

// New creates a bus whose subscriptions buffer up to buffer messages.
func New(buffer int, logger *log.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    logger,
	}
}

// Connect registers a subscriber under id.
func (b *Bus) Connect(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; ok {
		return nil, errors.Wrap(ErrDuplicateID, id)
	}
	s := &Subscription{id: id, ch: make(chan Message, b.buffer)}
	b.subs[id] = s
	b.log.Debug("connected", "id", id)
	return s, nil
}

// Disconnect removes id and closes its channel. Unknown ids are ignored.
func (b *Bus) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnect(id)
}

func (b *Bus) disconnect(id string) {
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
	b.log.Debug("disconnected", "id", id)
}

// Publish delivers msg to every subscriber except sender. A subscriber whose
// buffer is full is disconnected; the publisher never waits.
func (b *Bus) Publish(sender string, msg Message) {
	var failed []string

	b.mu.RLock()
	for id, s := range b.subs {
		if id == sender {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			failed = append(failed, id)
		}
	}
	b.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range failed {
		b.log.Warn("dropping slow subscriber", "id", id)
		b.disconnect(id)
	}
	b.mu.Unlock()
}

// IDs lists connected subscribers, sorted.
func (b *Bus) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
