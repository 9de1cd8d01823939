// Package realtime exposes the inventory manager over websockets. Clients
// send cart intents; the hub applies them and pushes every ledger change to
// all connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"order-concierge/internal/domain"
	"order-concierge/internal/inventory"
)

const (
	defaultSendBuffer      = 64
	defaultCheckoutTimeout = 15 * time.Second
	writeWait              = 10 * time.Second
	pongWait               = 60 * time.Second
	pingPeriod             = pongWait * 9 / 10
	maxMessageSize         = 4096
)

// Ledger is the part of *inventory.Manager the hub drives.
type Ledger interface {
	Open(connID string)
	Add(connID string, li inventory.LineItem) error
	Remove(connID, slug string) error
	Clear(connID string) error
	Disconnect(connID string)
	Checkout(ctx context.Context, connID string, gw inventory.Gateway) (map[string]int, error)
	Cart(connID string) (inventory.Cart, bool)
	Snapshot() map[string]int
}

type Hub struct {
	ledger   Ledger
	gateway  inventory.Gateway
	upgrader websocket.Upgrader
	logger   *zap.Logger

	sendBuffer      int
	checkoutTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type Option func(*Hub)

// WithSendBuffer sets how many messages may queue for one connection before
// it is considered too slow and dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithCheckoutTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.checkoutTimeout = d
		}
	}
}

// WithOriginCheck replaces the upgrader's same-origin check.
func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

func NewHub(ledger Ledger, gateway inventory.Gateway, logger *zap.Logger, opts ...Option) (*Hub, error) {
	if ledger == nil {
		return nil, errors.New("realtime: ledger must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("realtime: gateway must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		ledger:          ledger,
		gateway:         gateway,
		logger:          logger,
		sendBuffer:      defaultSendBuffer,
		checkoutTimeout: defaultCheckoutTimeout,
		clients:         map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// StockChanged fans a ledger change out to every connection. It runs inside
// the manager's lock and never blocks.
func (h *Hub) StockChanged(slug string, available int) {
	msg := stockMessage(slug, available)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(msg)
	}
}

// CartReset tells one connection its cart was released by the idle sweep.
func (h *Hub) CartReset(connID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		c.enqueue(ServerMessage{Type: TypeReset, ConnectionID: connID})
	}
}

// Connections returns the ids of the live connections.
func (h *Hub) Connections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan ServerMessage, h.sendBuffer)}

	h.ledger.Open(c.id)
	if !h.register(c) {
		h.ledger.Disconnect(c.id)
		_ = conn.Close()
		return
	}
	h.logger.Info("realtime connection opened", zap.String("connection_id", c.id))
	c.enqueue(ServerMessage{Type: TypeHello, ConnectionID: c.id, Stock: h.ledger.Snapshot()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	h.readPump(r.Context(), c)

	h.unregister(c)
	h.ledger.Disconnect(c.id)
	<-done
	h.logger.Info("realtime connection closed", zap.String("connection_id", c.id))
}

// Close drops every connection; their carts are released as the read loops
// exit. New connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("realtime connection dropped", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		var in Intent
		if err := json.Unmarshal(data, &in); err != nil {
			c.enqueue(ServerMessage{Type: TypeResult, Code: CodeBadRequest, Error: "malformed intent"})
			continue
		}
		h.handle(ctx, c, in)
	}
}

// handle applies one intent and answers with a result followed by the cart.
func (h *Hub) handle(ctx context.Context, c *client, in Intent) {
	res := ServerMessage{Type: TypeResult, RequestID: in.RequestID, Intent: in.Type}
	err := h.apply(ctx, c.id, in, &res)
	if errors.Is(err, inventory.ErrUnknownCart) {
		// The sweep released the cart; start a fresh one and retry.
		h.ledger.Open(c.id)
		err = h.apply(ctx, c.id, in, &res)
	}
	if err != nil {
		res.Code, res.Error = classify(err)
		var short *domain.InsufficientStockError
		if errors.As(err, &short) {
			res.Slug = short.Slug
			avail := short.Available
			res.Available = &avail
		}
		h.logger.Debug("realtime intent rejected",
			zap.String("connection_id", c.id),
			zap.String("intent", in.Type),
			zap.String("code", res.Code))
	} else {
		res.OK = true
	}
	c.enqueue(res)

	cart, ok := h.ledger.Cart(c.id)
	if !ok {
		h.ledger.Open(c.id)
		cart = inventory.Cart{ConnectionID: c.id}
	}
	c.enqueue(ServerMessage{Type: TypeCart, Cart: &cart})
}

func (h *Hub) apply(ctx context.Context, connID string, in Intent, res *ServerMessage) error {
	switch in.Type {
	case IntentAdd:
		return h.ledger.Add(connID, inventory.LineItem{
			Slug:       in.Slug,
			Qty:        in.Qty,
			IsBundle:   in.IsBundle,
			Components: in.Components,
		})
	case IntentRemove:
		return h.ledger.Remove(connID, in.Slug)
	case IntentClear:
		return h.ledger.Clear(connID)
	case IntentCheckout:
		cctx, cancel := context.WithTimeout(ctx, h.checkoutTimeout)
		defer cancel()
		persisted, err := h.ledger.Checkout(cctx, connID, h.gateway)
		if err != nil {
			return err
		}
		res.Persisted = persisted
		h.logger.Info("realtime checkout committed", zap.String("connection_id", connID), zap.Int("slugs", len(persisted)))
		return nil
	}
	return errUnknownIntent
}

var errUnknownIntent = errors.New("realtime: unknown intent")

func classify(err error) (string, string) {
	var short *domain.InsufficientStockError
	switch {
	case errors.As(err, &short):
		return CodeInsufficientStock, err.Error()
	case errors.Is(err, inventory.ErrUnknownProduct), errors.Is(err, domain.ErrNotFound):
		return CodeUnknownProduct, err.Error()
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return CodeInvalidQuantity, err.Error()
	case errors.Is(err, inventory.ErrEmptyCart):
		return CodeEmptyCart, err.Error()
	case errors.Is(err, inventory.ErrCheckoutInProgress):
		return CodeCheckoutInProgress, err.Error()
	case errors.Is(err, errUnknownIntent):
		return CodeBadRequest, err.Error()
	}
	return CodeInternal, "internal error"
}
