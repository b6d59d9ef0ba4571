package syncbus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

func newTestBus(buffer int) *Bus {
	return New(buffer, log.New(io.Discard))
}

func TestPublishSkipsSender(t *testing.T) {
	b := newTestBus(4)
	a, _ := b.Connect("a")
	c, _ := b.Connect("c")

	b.Publish("a", TextMessage("hi"))

	select {
	case m := <-c.C():
		if m.Text != "hi" {
			t.Errorf("c got %q", m.Text)
		}
	default:
		t.Fatal("c got nothing")
	}
	select {
	case m := <-a.C():
		t.Fatalf("sender received its own message %q", m.Text)
	default:
	}
}

func TestDuplicateConnect(t *testing.T) {
	b := newTestBus(1)
	if _, err := b.Connect("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Connect("x"); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	b := newTestBus(1)
	slow, _ := b.Connect("slow")
	fast, _ := b.Connect("fast")

	b.Publish("server", TextMessage("1"))
	<-fast.C()
	b.Publish("server", TextMessage("1e"))

	if ids := b.IDs(); len(ids) != 1 || ids[0] != "fast" {
		t.Fatalf("IDs = %v, want [fast]", ids)
	}
	// slow keeps what it buffered, then sees the close
	if m := <-slow.C(); m.Text != "1" {
		t.Errorf("slow got %q", m.Text)
	}
	if _, ok := <-slow.C(); ok {
		t.Error("slow channel not closed")
	}
	if m := <-fast.C(); m.Text != "1e" {
		t.Errorf("fast got %q", m.Text)
	}
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	b := newTestBus(1)
	b.Disconnect("ghost")
	b.Publish("ghost", TextMessage("x"))
}

func TestTickMessages(t *testing.T) {
	var labels []string
	var ticks []uint64
	for tick := uint64(0); tick < 48*4; tick++ {
		for _, m := range TickMessages(tick, 48) {
			if m.Kind == Text {
				labels = append(labels, m.Text)
				continue
			}
			if len(m.Data) != 0 {
				t.Errorf("tick %d: binary payload %v, want empty", tick, m.Data)
			}
			ticks = append(ticks, m.Tick)
		}
	}
	if got := strings.Join(labels, " "); got != strings.Join(BeatLabels[:], " ") {
		t.Errorf("labels = %s", got)
	}
	if len(ticks) != 32 || ticks[0] != 0 || ticks[31] != 31 {
		t.Errorf("binary ticks = %v, want 0..31", ticks)
	}
	if BeatLabel(17) != "1e" {
		t.Errorf("BeatLabel(17) = %s", BeatLabel(17))
	}
}

func TestWSRoundTrip(t *testing.T) {
	b := newTestBus(8)
	srv := httptest.NewServer(NewWSHandler(b, log.New(io.Discard)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(b.IDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish("sequencer", TextMessage("2&"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.TextMessage || string(data) != "2&" {
		t.Errorf("got %d %q", kind, data)
	}

	b.Publish("sequencer", TickMessage(7))
	kind, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || len(data) != 0 {
		t.Errorf("tick frame = %d %v, want empty binary", kind, data)
	}

	// client text is relayed to other subscribers
	other, _ := b.Connect("other")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-other.C():
		if m.Text != "hello" {
			t.Errorf("relayed %q", m.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client text not relayed")
	}
}

func TestToOSC(t *testing.T) {
	beat := toOSC(TextMessage("3&"))
	if beat == nil || beat.Address != AddressBeat || beat.Arguments[0] != "3&" {
		t.Errorf("beat = %v", beat)
	}
	pulse := toOSC(TickMessage(9))
	if pulse == nil || pulse.Address != AddressPulse || pulse.Arguments[0] != int32(9) {
		t.Errorf("pulse = %v", pulse)
	}
	if m := toOSC(TextMessage("hello from a client")); m != nil {
		t.Errorf("relayed client text forwarded: %v", m)
	}
}
