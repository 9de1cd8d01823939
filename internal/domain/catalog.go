package domain

import "sort"

// MenuItem is a sellable product variant (or an ambiguous umbrella entry that
// must be narrowed down to one).
type MenuItem struct {
	Slug      string   `json:"slug" yaml:"slug"`
	Name      string   `json:"name" yaml:"name"`
	Price     float64  `json:"price" yaml:"price"`
	Ambiguous bool     `json:"ambiguous" yaml:"ambiguous"`
	Keywords  []string `json:"keywords" yaml:"keywords"`
	Tracked   bool     `json:"tracked" yaml:"tracked"`
	Stock     int      `json:"stock" yaml:"-"`
}

// Option is one numbered answer of an ambiguity prompt. Target is either a
// concrete product slug or another ambiguity node id.
type Option struct {
	Token  string `json:"token" yaml:"token"`
	Label  string `json:"label" yaml:"label"`
	Target string `json:"target" yaml:"target"`
}

// AmbiguityNode asks the customer to narrow an ambiguous item.
type AmbiguityNode struct {
	ID      string   `json:"id" yaml:"id"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []Option `json:"options" yaml:"options"`
}

// OrderLine is one product and quantity sent to the stock gateway.
type OrderLine struct {
	Slug string `json:"slug"`
	Qty  int    `json:"qty"`
}

// OrderLines flattens a slug→qty map into lines sorted by slug.
func OrderLines(order map[string]int) []OrderLine {
	lines := make([]OrderLine, 0, len(order))
	for slug, qty := range order {
		if qty <= 0 {
			continue
		}
		lines = append(lines, OrderLine{Slug: slug, Qty: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Slug < lines[j].Slug })
	return lines
}

// StoreStatus is whether the store currently takes orders.
type StoreStatus struct {
	Open    bool   `json:"open"`
	Message string `json:"message"`
}
