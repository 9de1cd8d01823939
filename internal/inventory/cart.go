package inventory

import (
	"slices"
	"time"
)

// Component is one product consumed by a bundle line, per bundle unit.
type Component struct {
	Slug string `json:"slug"`
	Qty  int    `json:"qty"`
}

// LineItem is one cart entry. A bundle holds its components, not its own slug.
type LineItem struct {
	Slug       string      `json:"slug"`
	Qty        int         `json:"qty"`
	IsBundle   bool        `json:"isBundle,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// holds expands the line into the stock it reserves.
func (li LineItem) holds() map[string]int {
	out := map[string]int{}
	if !li.IsBundle {
		out[li.Slug] = li.Qty
		return out
	}
	for _, c := range li.Components {
		out[c.Slug] += c.Qty * li.Qty
	}
	return out
}

func (li LineItem) sameKind(other LineItem) bool {
	return li.Slug == other.Slug && li.IsBundle == other.IsBundle && slices.Equal(li.Components, other.Components)
}

// Cart is the set of soft holds owned by one real-time connection.
type Cart struct {
	ConnectionID string     `json:"connectionId"`
	Lines        []LineItem `json:"lines"`
	LastActivity time.Time  `json:"lastActivity"`

	checkingOut bool
	closed      bool
}

func (c *Cart) merge(li LineItem) {
	for i := range c.Lines {
		if c.Lines[i].sameKind(li) {
			c.Lines[i].Qty += li.Qty
			return
		}
	}
	li.Components = slices.Clone(li.Components)
	c.Lines = append(c.Lines, li)
}

// holds sums every line's reservation per slug.
func (c *Cart) holds() map[string]int {
	out := map[string]int{}
	for _, li := range c.Lines {
		for slug, qty := range li.holds() {
			out[slug] += qty
		}
	}
	return out
}

func (c *Cart) clone() Cart {
	cp := Cart{ConnectionID: c.ConnectionID, LastActivity: c.LastActivity}
	for _, li := range c.Lines {
		li.Components = slices.Clone(li.Components)
		cp.Lines = append(cp.Lines, li)
	}
	return cp
}
