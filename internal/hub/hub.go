// Package hub fans order events out to connected realtime clients.
package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Subscription narrows the events a client receives. An empty Queue matches
// every event, which is what the queue display board uses.
type Subscription struct {
	Queue string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Queue  string `json:"queue"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, meta Subscription) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			logrus.WithField("client_id", client.ID).Warn("hub: drop message for slow client")
		}
	}
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func match(sub Subscription, meta Subscription) bool {
	if sub.Queue != "" && meta.Queue != sub.Queue {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.Queue = strings.ToUpper(strings.TrimSpace(msg.Queue))
	return msg, true
}
