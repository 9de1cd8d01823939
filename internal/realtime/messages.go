package realtime

import "order-concierge/internal/inventory"

// Intent types sent by clients.
const (
	IntentAdd      = "add"
	IntentRemove   = "remove"
	IntentClear    = "clear"
	IntentCheckout = "checkout"
)

// Message types pushed by the server.
const (
	TypeHello  = "hello"
	TypeStock  = "stock"
	TypeResult = "result"
	TypeCart   = "cart"
	TypeReset  = "reset"
)

// Result codes carried by failed results.
const (
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeUnknownProduct     = "UNKNOWN_PRODUCT"
	CodeInvalidQuantity    = "INVALID_QUANTITY"
	CodeEmptyCart          = "EMPTY_CART"
	CodeCheckoutInProgress = "CHECKOUT_IN_PROGRESS"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// Intent is one client request. RequestID is echoed back in the result.
type Intent struct {
	Type       string                `json:"type"`
	RequestID  string                `json:"requestId,omitempty"`
	Slug       string                `json:"slug,omitempty"`
	Qty        int                   `json:"qty,omitempty"`
	IsBundle   bool                  `json:"isBundle,omitempty"`
	Components []inventory.Component `json:"components,omitempty"`
}

// ServerMessage is the single envelope for everything the server sends; only
// the fields relevant to Type are set.
type ServerMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Stock        map[string]int  `json:"stock,omitempty"`
	Slug         string          `json:"slug,omitempty"`
	Available    *int            `json:"available,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Intent       string          `json:"intent,omitempty"`
	OK           bool            `json:"ok,omitempty"`
	Code         string          `json:"code,omitempty"`
	Error        string          `json:"error,omitempty"`
	Persisted    map[string]int  `json:"persisted,omitempty"`
	Cart         *inventory.Cart `json:"cart,omitempty"`
}

func stockMessage(slug string, available int) ServerMessage {
	return ServerMessage{Type: TypeStock, Slug: slug, Available: &available}
}
