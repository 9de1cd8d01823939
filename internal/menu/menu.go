// Package menu holds the chat-facing view of the catalog: the keyword
// phrases customers use for each product and the prompts that narrow an
// ambiguous request down to one variant.
package menu

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"order-concierge/internal/domain"
	"order-concierge/internal/parser"
)

//go:embed menu.yaml
var defaultMenu []byte

type file struct {
	Items []domain.MenuItem      `yaml:"items"`
	Nodes []domain.AmbiguityNode `yaml:"nodes"`
}

// Menu is immutable once built. Catalog refreshes produce a new Menu.
type Menu struct {
	order  []string
	items  map[string]domain.MenuItem
	nodes  map[string]domain.AmbiguityNode
	parser *parser.Parser
}

// Default returns the menu embedded in the binary.
func Default() (*Menu, error) {
	return Load(bytes.NewReader(defaultMenu))
}

// LoadFile reads a menu definition from a YAML file.
func LoadFile(path string) (*Menu, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("menu: open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes and validates a YAML menu definition.
func Load(r io.Reader) (*Menu, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("menu: decode: %w", err)
	}
	return New(f.Items, f.Nodes)
}

// New builds a menu from explicit items and ambiguity nodes.
func New(items []domain.MenuItem, nodes []domain.AmbiguityNode) (*Menu, error) {
	m := &Menu{
		items: make(map[string]domain.MenuItem, len(items)),
		nodes: make(map[string]domain.AmbiguityNode, len(nodes)),
	}
	for _, it := range items {
		if it.Slug == "" {
			return nil, errors.New("menu: item slug must not be empty")
		}
		if _, dup := m.items[it.Slug]; dup {
			return nil, fmt.Errorf("menu: duplicate item %q", it.Slug)
		}
		m.items[it.Slug] = it
		m.order = append(m.order, it.Slug)
	}
	for _, n := range nodes {
		if _, dup := m.nodes[n.ID]; dup {
			return nil, fmt.Errorf("menu: duplicate node %q", n.ID)
		}
		m.nodes[n.ID] = n
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.parser = parser.New(m.Items())
	return m, nil
}

func (m *Menu) validate() error {
	for _, slug := range m.order {
		it := m.items[slug]
		if it.Ambiguous {
			if _, ok := m.nodes[slug]; !ok {
				return fmt.Errorf("menu: ambiguous item %q has no node", slug)
			}
		}
	}
	for id, n := range m.nodes {
		if len(n.Options) == 0 {
			return fmt.Errorf("menu: node %q has no options", id)
		}
		for _, opt := range n.Options {
			if _, ok := m.items[opt.Target]; !ok {
				if _, ok := m.nodes[opt.Target]; !ok {
					return fmt.Errorf("menu: node %q option %q targets unknown id %q", id, opt.Token, opt.Target)
				}
			}
		}
	}
	// A cycle would keep pushing the same prompt to the front of the queue.
	state := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("menu: ambiguity cycle through %q", id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, opt := range m.nodes[id].Options {
			if _, ok := m.nodes[opt.Target]; ok {
				if err := visit(opt.Target); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}
	for id := range m.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Item returns the menu entry for slug.
func (m *Menu) Item(slug string) (domain.MenuItem, bool) {
	it, ok := m.items[slug]
	return it, ok
}

// Node returns the ambiguity node with the given id.
func (m *Menu) Node(id string) (domain.AmbiguityNode, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// IsAmbiguous reports whether id must be resolved through a prompt.
func (m *Menu) IsAmbiguous(id string) bool {
	if it, ok := m.items[id]; ok && it.Ambiguous {
		return true
	}
	_, ok := m.nodes[id]
	return ok
}

// Items returns every entry in definition order.
func (m *Menu) Items() []domain.MenuItem {
	out := make([]domain.MenuItem, 0, len(m.order))
	for _, slug := range m.order {
		out = append(out, m.items[slug])
	}
	return out
}

// Products returns only the concrete, sellable entries.
func (m *Menu) Products() []domain.MenuItem {
	var out []domain.MenuItem
	for _, slug := range m.order {
		if it := m.items[slug]; !it.Ambiguous {
			out = append(out, it)
		}
	}
	return out
}

// Parser returns the keyword parser built from this menu.
func (m *Menu) Parser() *parser.Parser {
	return m.parser
}

// WithCatalog returns a copy of m updated with catalog data. Known slugs take
// the catalog's name, price, stock and tracking flag. Unknown products are
// appended with their folded name as the only keyword.
func (m *Menu) WithCatalog(products []domain.MenuItem) (*Menu, error) {
	items := m.Items()
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.Slug] = i
	}
	for _, p := range products {
		if p.Slug == "" {
			continue
		}
		if i, ok := index[p.Slug]; ok {
			it := items[i]
			if p.Name != "" {
				it.Name = p.Name
			}
			it.Price = p.Price
			it.Stock = p.Stock
			it.Tracked = p.Tracked
			items[i] = it
			continue
		}
		if len(p.Keywords) == 0 && p.Name != "" {
			p.Keywords = []string{parser.Fold(p.Name)}
		}
		index[p.Slug] = len(items)
		items = append(items, p)
	}
	nodes := make([]domain.AmbiguityNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	return New(items, nodes)
}
