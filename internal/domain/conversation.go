package domain

import (
	"maps"
	"time"
)

// DeliveryType is how the order leaves the store.
type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentPix  PaymentMethod = "pix"
)

// Location is a shared map pin.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

type DeliveryInfo struct {
	Type     DeliveryType `json:"type,omitempty"`
	Location *Location    `json:"location,omitempty"`
	Address  string       `json:"address,omitempty"`
}

type PaymentInfo struct {
	Method    PaymentMethod `json:"method,omitempty"`
	ChangeFor float64       `json:"changeFor,omitempty"`
	PixPaid   bool          `json:"pixPaid,omitempty"`
}

// PendingChoice is an ambiguity node waiting to be resolved, carrying the
// quantity the customer asked for.
type PendingChoice struct {
	Node string `json:"node"`
	Qty  int    `json:"qty"`
}

// Session is the per-chat order-building conversation.
type Session struct {
	ChatID          string          `json:"chatId"`
	State           State           `json:"state"`
	PendingOrder    map[string]int  `json:"pendingOrder,omitempty"`
	Queue           []PendingChoice `json:"queue,omitempty"`
	Current         *PendingChoice  `json:"current,omitempty"`
	Delivery        DeliveryInfo    `json:"delivery"`
	Payment         PaymentInfo     `json:"payment"`
	ParseFailures   int             `json:"parseFailures"`
	HandoffNotified bool            `json:"handoffNotified"`
	// CheckoutID is set once a confirmation has claimed the order for
	// commit. While set, no other confirmation may commit it.
	CheckoutID   string    `json:"checkoutId,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	Version      int64     `json:"version"`
}

// NewSession returns a session in StateStart.
func NewSession(chatID string, now time.Time) *Session {
	return &Session{
		ChatID:       chatID,
		State:        StateStart,
		PendingOrder: map[string]int{},
		LastActivity: now,
	}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.PendingOrder = maps.Clone(s.PendingOrder)
	if c.PendingOrder == nil {
		c.PendingOrder = map[string]int{}
	}
	c.Queue = append([]PendingChoice(nil), s.Queue...)
	if s.Current != nil {
		cur := *s.Current
		c.Current = &cur
	}
	if s.Delivery.Location != nil {
		loc := *s.Delivery.Location
		c.Delivery.Location = &loc
	}
	return &c
}

// Idle reports whether the session has been inactive for longer than window.
func (s *Session) Idle(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivity) > window
}
