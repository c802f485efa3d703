// Package hub is an in-process websocket broadcast transport. App clients
// subscribe to a topic over /ws and receive every alert sent to it.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/notify"
)

// ErrHubClosed is returned by Send after the hub has stopped
var ErrHubClosed = errors.New("hub is closed")

const sendBuffer = 64

type outbound struct {
	topic string
	data  []byte
}

// Hub maintains the set of active clients and broadcasts messages to the
// ones subscribed to each message's topic.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopped    chan struct{}
	count      atomic.Int64

	upgrader     websocket.Upgrader
	defaultTopic string
}

// New creates a hub; clients that name no topic get defaultTopic
func New(defaultTopic string) *Hub {
	if defaultTopic == "" {
		defaultTopic = notify.DefaultTopic
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		defaultTopic: defaultTopic,
	}
}

// Run owns the client set until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	log := logger.WithComponent("hub")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			log.Info().Msg("hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			log.Debug().Str("remote", client.remote).Str("topic", client.topic).Msg("client subscribed")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				log.Debug().Str("remote", client.remote).Msg("client unsubscribed")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.topic != msg.topic {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow or gone client
					log.Warn().Str("remote", client.remote).Msg("client send buffer full, dropping client")
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.count.Store(int64(n))
	metrics.HubSubscribers.Set(float64(n))
}

// Subscribers returns the number of connected clients
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

// Send queues msg for every subscriber of msg.Topic. A topic with no
// subscribers is not an error.
func (h *Hub) Send(ctx context.Context, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- outbound{topic: msg.Topic, data: data}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and subscribes the connection to the
// topic named by the "topic" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = h.defaultTopic
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("hub").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topic:  topic,
		remote: conn.RemoteAddr().String(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
