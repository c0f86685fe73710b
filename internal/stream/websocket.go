package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/densecloud/internal/httputil"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadTimeout  = 60 * time.Second
)

// WSHandler serves the frame feed to browser observers. Every frame is
// sent as one binary message holding an encoded DeltaFrame.
// Query params:
//   - cloud (optional; defaults to every cloud)
type WSHandler struct {
	publisher *Publisher
	upgrader  websocket.Upgrader
}

// NewWSHandler returns a websocket handler fed by p.
func NewWSHandler(p *Publisher) *WSHandler {
	return &WSHandler{
		publisher: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // debug endpoint
		},
	}
}

func (h *WSHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(rw)
		return
	}
	filter, _, err := httputil.UUIDParam(r, "cloud")
	if err != nil {
		httputil.BadRequest(rw, err.Error())
		return
	}
	if !h.publisher.Stats().Running {
		httputil.WriteJSONError(rw, http.StatusServiceUnavailable, "publisher is not running")
		return
	}

	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.publisher.Subscribe(filter)
	defer sub.Close()
	diagf("websocket subscriber %d: filter=%s remote=%s", sub.id, filterString(filter), r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer goroutine.
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case <-sub.Done():
				writeErr <- nil
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "publisher stopped"), time.Now().Add(time.Second))
				return
			case f := <-sub.Frames():
				b, err := Encode(f)
				if err != nil {
					writeErr <- err
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Reader loop: only control frames are expected; it ends when the
	// client closes.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	// Best-effort wait for the writer to stop so it doesn't outlive conn.
	select {
	case err := <-writeErr:
		if err != nil && err != context.Canceled {
			opsf("websocket subscriber %d write error: %v", sub.id, err)
		}
	case <-time.After(500 * time.Millisecond):
	}
}
