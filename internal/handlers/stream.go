package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cryptoalerter/internal/cache"
	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Redis channel fired alerts are fanned out on.
const alertsChannel = "price_alerts"

// Hub fans fired alerts out to connected SSE and WebSocket clients. Alerts
// travel through redis pubsub so every server instance sees them no matter
// which process ran the check.
type Hub struct {
	cache *cache.Cache

	mu      sync.Mutex
	clients map[chan models.AlertRecord]bool
}

// NewHub creates a hub over the given redis connection.
func NewHub(c *cache.Cache) *Hub {
	return &Hub{
		cache:   c,
		clients: make(map[chan models.AlertRecord]bool),
	}
}

// Run subscribes to the alert channel and broadcasts until ctx is done.
// Call it in a goroutine from main.
func (h *Hub) Run(ctx context.Context) {
	sub, err := h.cache.Subscribe(ctx, alertsChannel)
	if err != nil {
		logger.Log.Error("Failed to subscribe to alert channel", zap.Error(err))
		return
	}
	defer sub.Close()

	logger.Log.Info("Starting to listen for alerts from Redis")
	for {
		if ctx.Err() != nil {
			return
		}

		recvCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := sub.ReceiveMessage(recvCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("Error receiving message from Redis", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		var alert models.AlertRecord
		if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
			logger.Log.Error("Error unmarshaling alert message", zap.Error(err))
			continue
		}

		h.broadcast(alert)
	}
}

// PublishAlert pushes a fired alert into redis for distribution. It
// satisfies the checker's publisher interface.
func (h *Hub) PublishAlert(alert models.AlertRecord) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return h.cache.Publish(context.Background(), alertsChannel, string(payload))
}

func (h *Hub) broadcast(alert models.AlertRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logger.Log.Info("Broadcasting alert to clients",
		zap.Int("client_count", len(h.clients)),
		zap.String("crypto", alert.Crypto),
	)

	for clientChan := range h.clients {
		select {
		case clientChan <- alert:
		default:
			logger.Log.Warn("Alert dropped due to slow client")
		}
	}
}

func (h *Hub) register() chan models.AlertRecord {
	clientChan := make(chan models.AlertRecord, 10)
	h.mu.Lock()
	h.clients[clientChan] = true
	count := len(h.clients)
	h.mu.Unlock()
	logger.Log.Info("Stream client connected", zap.Int("total_clients", count))
	return clientChan
}

func (h *Hub) unregister(clientChan chan models.AlertRecord) {
	h.mu.Lock()
	delete(h.clients, clientChan)
	count := len(h.clients)
	h.mu.Unlock()
	close(clientChan)
	logger.Log.Info("Stream client disconnected", zap.Int("total_clients", count))
}

// StreamAlertsHandler serves fired alerts over SSE.
func (api *API) StreamAlertsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientChan := api.Hub.register()
	defer api.Hub.unregister(clientChan)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case alert, open := <-clientChan:
			if !open {
				return
			}
			alertData, err := json.Marshal(alert)
			if err != nil {
				logger.Log.Error("Failed to marshal alert data", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", alertData)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamAlertsWSHandler serves fired alerts over a WebSocket.
func (api *API) StreamAlertsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientChan := api.Hub.register()
	defer api.Hub.unregister(clientChan)

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case alert, open := <-clientChan:
			if !open {
				return
			}
			if err := conn.WriteJSON(alert); err != nil {
				logger.Log.Warn("WebSocket write failed", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
