// Package ambiguity turns ambiguous order items into a queue of numbered
// prompts and resolves the customer's answers against it.
package ambiguity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"order-concierge/internal/domain"
	"order-concierge/internal/parser"
)

// ErrInvalidChoice is returned when an answer matches no option.
var ErrInvalidChoice = errors.New("ambiguity: invalid choice")

// ErrNothingPending is returned when Answer is called with no open prompt.
var ErrNothingPending = errors.New("ambiguity: no pending prompt")

// Nodes looks up ambiguity nodes by id.
type Nodes interface {
	Node(id string) (domain.AmbiguityNode, bool)
}

// Resolver operates on the queue stored in a session. It keeps no state of
// its own.
type Resolver struct {
	nodes Nodes
}

// Resolution is the outcome of a valid answer.
type Resolution struct {
	// Slug is the concrete product chosen, empty when Nested is set.
	Slug string
	// Nested is the ambiguity node pushed to the front of the queue.
	Nested string
	Qty    int
}

func New(nodes Nodes) (*Resolver, error) {
	if nodes == nil {
		return nil, errors.New("ambiguity: nodes must not be nil")
	}
	return &Resolver{nodes: nodes}, nil
}

// Enqueue appends an ambiguous item to the back of the session queue.
func (r *Resolver) Enqueue(s *domain.Session, node string, qty int) {
	s.Queue = append(s.Queue, domain.PendingChoice{Node: node, Qty: qty})
}

// Next pops the front of the queue into s.Current and returns its prompt.
// It returns false when the queue is empty.
func (r *Resolver) Next(s *domain.Session) (string, bool) {
	for len(s.Queue) > 0 {
		head := s.Queue[0]
		s.Queue = s.Queue[1:]
		node, ok := r.nodes.Node(head.Node)
		if !ok {
			// The catalog changed under us; drop the stale prompt.
			continue
		}
		s.Current = &head
		return Render(node, head.Qty), true
	}
	s.Current = nil
	return "", false
}

// Prompt re-renders the currently open prompt.
func (r *Resolver) Prompt(s *domain.Session) (string, bool) {
	if s.Current == nil {
		return "", false
	}
	node, ok := r.nodes.Node(s.Current.Node)
	if !ok {
		return "", false
	}
	return Render(node, s.Current.Qty), true
}

// Answer resolves input against the open prompt. A choice naming another
// ambiguity node is pushed to the front of the queue, ahead of anything
// already waiting, and carries the original quantity.
func (r *Resolver) Answer(s *domain.Session, input string) (Resolution, error) {
	if s.Current == nil {
		return Resolution{}, ErrNothingPending
	}
	node, ok := r.nodes.Node(s.Current.Node)
	if !ok {
		s.Current = nil
		return Resolution{}, ErrNothingPending
	}
	opt, err := choose(node, input)
	if err != nil {
		return Resolution{}, err
	}
	qty := s.Current.Qty
	s.Current = nil
	if _, nested := r.nodes.Node(opt.Target); nested {
		s.Queue = append([]domain.PendingChoice{{Node: opt.Target, Qty: qty}}, s.Queue...)
		return Resolution{Nested: opt.Target, Qty: qty}, nil
	}
	return Resolution{Slug: opt.Target, Qty: qty}, nil
}

// choose accepts the option number or a reply naming exactly one option token.
func choose(node domain.AmbiguityNode, input string) (domain.Option, error) {
	in := parser.Fold(input)
	if n, err := strconv.Atoi(in); err == nil {
		if n >= 1 && n <= len(node.Options) {
			return node.Options[n-1], nil
		}
		return domain.Option{}, ErrInvalidChoice
	}
	words := strings.FieldsFunc(in, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	var found []domain.Option
	for _, opt := range node.Options {
		tok := parser.Fold(opt.Token)
		if in == tok {
			return opt, nil
		}
		for _, w := range words {
			if w == tok {
				found = append(found, opt)
				break
			}
		}
	}
	if len(found) != 1 {
		return domain.Option{}, ErrInvalidChoice
	}
	return found[0], nil
}

// Render formats a node as a numbered prompt.
func Render(node domain.AmbiguityNode, qty int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (quantidade: %d)", node.Prompt, qty)
	for i, opt := range node.Options {
		fmt.Fprintf(&b, "\n*%d.* %s", i+1, opt.Label)
	}
	return b.String()
}
