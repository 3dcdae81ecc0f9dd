package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/evbooking/internal/model"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber: одно WebSocket-соединение экрана оплаты.
type Subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
	sent map[string]struct{}
}

// SendOutcome отправляет кадр с итогом. Итог одной попытки уходит в соединение один раз.
func (s *Subscriber) SendOutcome(o model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sent[o.AttemptID]; ok {
		return nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(NewEvent(o)); err != nil {
		return err
	}
	if s.sent == nil {
		s.sent = make(map[string]struct{})
	}
	s.sent[o.AttemptID] = struct{}{}
	return nil
}

func (s *Subscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub хранит подписчиков по бронированиям.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	logger *zap.Logger
}

// NewHub создаёт пустой Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[*Subscriber]struct{}), logger: logger}
}

// Subscribe регистрирует соединение для бронирования.
func (h *Hub) Subscribe(bookingID string, conn *websocket.Conn) *Subscriber {
	s := &Subscriber{conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[bookingID] == nil {
		h.subs[bookingID] = make(map[*Subscriber]struct{})
	}
	h.subs[bookingID][s] = struct{}{}
	return s
}

// Unsubscribe удаляет соединение и закрывает его.
func (h *Hub) Unsubscribe(bookingID string, s *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[bookingID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, bookingID)
		}
	}
	h.mu.Unlock()

	_ = s.conn.Close()
}

// Subscribers возвращает число соединений по бронированию.
func (h *Hub) Subscribers(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[bookingID])
}

// Serve держит соединение открытым до отключения клиента или отмены ctx.
// Входящие кадры игнорируются, читаются только для обработки close и pong.
func (h *Hub) Serve(ctx context.Context, bookingID string, s *Subscriber) {
	defer h.Unsubscribe(bookingID, s)

	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read stopped", zap.String("bookingID", bookingID), zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}

// Publish отправляет событие всем подписчикам бронирования.
func (h *Hub) Publish(ctx context.Context, outcome model.Outcome) error {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs[outcome.BookingID]))
	for s := range h.subs[outcome.BookingID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.SendOutcome(outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
