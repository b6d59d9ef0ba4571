package syncbus

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

// WSHandler serves one duplex websocket stream per client. Bus messages go
// out as text or binary frames; text frames from a client are relayed to
// every other subscriber.
type WSHandler struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      *log.Logger
}

func NewWSHandler(bus *Bus, logger *log.Logger) *WSHandler {
	return &WSHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sub, err := h.bus.Connect(id)
	if err != nil {
		h.log.Error("connect failed", "err", err)
		return
	}
	h.log.Info("client connected", "id", id, "remote", r.RemoteAddr)

	go h.readLoop(conn, id)

	for msg := range sub.C() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		frame := websocket.TextMessage
		data := []byte(msg.Text)
		if msg.Kind == Binary {
			frame, data = websocket.BinaryMessage, msg.Data
		}
		if err := conn.WriteMessage(frame, data); err != nil {
			h.log.Debug("write failed", "id", id, "err", err)
			break
		}
	}
	h.bus.Disconnect(id)
	h.log.Info("client disconnected", "id", id)
}

func (h *WSHandler) readLoop(conn *websocket.Conn, id string) {
	defer h.bus.Disconnect(id)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			h.bus.Publish(id, TextMessage(string(data)))
		}
	}
}

// Serve listens on addr and mounts the handler at /message-bus until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/message-bus", h)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
