package events

import (
	"context"
	"net/http"
	"time"

	"waflow/internal/metrics"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 5 * time.Second

// WSHub streams bus events to websocket clients. Each connection picks a
// tenant with ?tenant_id= and receives that tenant's events as JSON
// frames; the socket is one-way.
type WSHub struct {
	bus    Bus
	logger *logrus.Logger
}

func NewWSHub(bus Bus, logger *logrus.Logger) *WSHub {
	return &WSHub{bus: bus, logger: logger}
}

func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket accept failed")
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.bus.Subscribe(tenantID)
	defer cancel()

	log := h.logger.WithField("tenant_id", tenantID)
	log.Info("WebSocket subscriber connected")
	metrics.WSClients.Inc()
	defer func() {
		metrics.WSClients.Dec()
		log.Info("WebSocket subscriber disconnected")
	}()

	// CloseRead pumps and discards inbound frames; its context ends when
	// the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
