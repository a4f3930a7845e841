// Package feed раздаёт события ленты изменений подписчикам по WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// Message описывает событие, отправляемое подписчику.
type Message struct {
	Type      string         `json:"type"`
	Entity    string         `json:"entity"`
	Action    string         `json:"action"`
	ID        string         `json:"id"`
	AccountID string         `json:"accountId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// NewMessage строит сообщение по событию ленты изменений.
func NewMessage(ev model.Event) Message {
	return Message{
		Type:      ev.Type(),
		Entity:    ev.Entity,
		Action:    ev.Action,
		ID:        ev.EntityID,
		AccountID: ev.AccountID,
		Payload:   ev.Payload,
		At:        ev.CreatedAt,
	}
}

// Hub хранит активных подписчиков и рассылает им сообщения.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub создаёт пустой Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register добавляет подписчика.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister удаляет подписчика и закрывает его канал отправки.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast отправляет сообщение всем подписчикам, чей фильтр его пропускает.
// Подписчику с заполненным буфером сообщение не доставляется.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal feed message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.accepts(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("feed client buffer full, message dropped", zap.String("type", msg.Type))
		}
	}
}

// Publish рассылает событие ленты изменений. Реализует доставку для очереди событий.
func (h *Hub) Publish(_ context.Context, ev model.Event) error {
	if ev.Entity == "" || ev.Action == "" {
		return fmt.Errorf("feed event %s has no type", ev.ID)
	}
	h.Broadcast(NewMessage(ev))
	return nil
}

// ClientCount возвращает количество подписчиков.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
