package domain

import "time"

// InboundMessage is one customer event from the chat transport.
type InboundMessage struct {
	ChatID     string    `json:"chatId"`
	Text       string    `json:"text,omitempty"`
	Location   *Location `json:"location,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
