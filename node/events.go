package node

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/lightclient"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub streams change notifications to websocket subscribers. A
// subscriber that falls subscriberBuffer events behind is disconnected.
type EventHub struct {
	upgrader websocket.Upgrader
	metrics  *Metrics
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewEventHub(metrics *Metrics, log logrus.FieldLogger) *EventHub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
		log:     log.WithField("component", "event_hub"),
		now:     time.Now,
		subs:    make(map[*subscriber]struct{}),
	}
}

func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "subscribers": n}).Info("subscriber connected")

	go h.writeLoop(s)
	h.readLoop(s)
}

// readLoop discards client frames and notices when the peer goes away.
func (h *EventHub) readLoop(s *subscriber) {
	defer h.drop(s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) broadcast(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			h.log.Warn("subscriber too slow, disconnecting")
			delete(h.subs, s)
			close(s.send)
		}
	}
	if h.metrics != nil {
		h.metrics.ObservePublish("websocket", nil)
	}
	return nil
}

func (h *EventHub) VaultUpdated(_ context.Context, v consensus.DepositVault) error {
	ev, err := vaultEvent(v, h.now())
	if err != nil {
		return err
	}
	return h.broadcast(ev)
}

func (h *EventHub) SwapUpdated(_ context.Context, s consensus.ProposedSwap) error {
	ev, err := swapEvent(s, h.now())
	if err != nil {
		return err
	}
	return h.broadcast(ev)
}

func (h *EventHub) ForkDetected(_ context.Context, f lightclient.Fork) error {
	ev, err := forkEvent(f, h.now())
	if err != nil {
		return err
	}
	return h.broadcast(ev)
}

// Close disconnects every subscriber and refuses new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.send)
	}
}

var _ exchange.Notifier = (*EventHub)(nil)
