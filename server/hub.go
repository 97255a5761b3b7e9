package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HubMessage is one event fanned out to a channel's subscribers.
type HubMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type,omitempty"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data"`
}

type HubClient struct {
	Send chan HubMessage
}

// Hub is an in-process pub/sub used to stream server events, such as
// access log entries, to admin subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*HubClient]struct{} // channel -> clients
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*HubClient]struct{}),
	}
}

// Subscribe registers a new client for the given channel.
func (h *Hub) Subscribe(channel string) *HubClient {
	c := &HubClient{
		Send: make(chan HubMessage, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[*HubClient]struct{})
	}
	h.clients[channel][c] = struct{}{}
	return c
}

// Unsubscribe removes c from channel and closes its send channel.
func (h *Hub) Unsubscribe(channel string, c *HubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[channel]
	if subs == nil {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}

	delete(subs, c)
	close(c.Send)
	if len(subs) == 0 {
		delete(h.clients, channel)
	}
}

// Publish broadcasts payload to every client on channel. Clients whose
// buffer is full miss the message.
func (h *Hub) Publish(channel, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Str("component", "hub").Err(err).Msg("marshal error")
		return
	}

	msg := HubMessage{
		Channel: channel,
		Type:    msgType,
		Time:    time.Now(),
		Data:    data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[channel] {
		select {
		case c.Send <- msg:
		default:
		}
	}
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}
