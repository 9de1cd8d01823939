// Package parser extracts product quantities from free-text order messages.
package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"order-concierge/internal/domain"
)

// Entry binds one keyword phrase to the product (or ambiguity node) it names.
type Entry struct {
	Phrase    string
	ProductID string
}

type compiled struct {
	Entry
	re *regexp.Regexp
}

// Parser matches keyword phrases longest first. It is immutable and safe for
// concurrent use; rebuild it when the catalog changes.
type Parser struct {
	entries []compiled
}

// New builds a parser from the keyword phrases of every menu item.
func New(items []domain.MenuItem) *Parser {
	var entries []Entry
	for _, it := range items {
		for _, kw := range it.Keywords {
			entries = append(entries, Entry{Phrase: kw, ProductID: it.Slug})
		}
	}
	return NewFromEntries(entries)
}

// NewFromEntries builds a parser from explicit phrase/product pairs.
//
// Phrases are ordered by folded length descending. Equal lengths fall back to
// phrase text and then product id, both ascending, so the result never
// depends on the order the catalog was assembled in.
func NewFromEntries(entries []Entry) *Parser {
	seen := make(map[Entry]bool, len(entries))
	out := make([]compiled, 0, len(entries))
	for _, e := range entries {
		e.Phrase = Fold(e.Phrase)
		if e.Phrase == "" || e.ProductID == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, compiled{Entry: e, re: phrasePattern(e.Phrase)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i].Phrase), utf8.RuneCountInString(out[j].Phrase)
		if li != lj {
			return li > lj
		}
		if out[i].Phrase != out[j].Phrase {
			return out[i].Phrase < out[j].Phrase
		}
		return out[i].ProductID < out[j].ProductID
	})
	return &Parser{entries: out}
}

// Entries returns the phrases in match order.
func (p *Parser) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	for i, c := range p.entries {
		out[i] = c.Entry
	}
	return out
}

// Parse returns productID→quantity for every phrase found in text. An empty
// map means nothing was recognised.
func (p *Parser) Parse(text string) map[string]int {
	result := map[string]int{}
	remaining := Fold(text)
	for _, c := range p.entries {
		if remaining == "" {
			break
		}
		locs := c.re.FindAllStringSubmatchIndex(remaining, -1)
		if len(locs) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, loc := range locs {
			qty := 1
			if loc[2] >= 0 {
				// A count too large to represent orders nothing.
				n, err := strconv.Atoi(remaining[loc[2]:loc[3]])
				if err != nil {
					n = 0
				}
				qty = n
			}
			if qty > 0 {
				result[c.ProductID] += qty
			}
			b.WriteString(remaining[last:loc[0]])
			b.WriteByte(' ')
			last = loc[1]
		}
		b.WriteString(remaining[last:])
		remaining = strings.TrimSpace(b.String())
	}
	return result
}

// phrasePattern matches phrase with any whitespace between words, an
// optional trailing plural "s" on words of three or more letters, and an
// optional leading count such as "2" or "2x".
func phrasePattern(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	parts := make([]string, len(words))
	for i, w := range words {
		q := regexp.QuoteMeta(w)
		if utf8.RuneCountInString(w) >= 3 && !strings.HasSuffix(w, "s") {
			q += "s?"
		}
		parts[i] = q
	}
	pattern := `(?:\b(\d+)\s*x?\s*|` + boundary(words[0][0]) + `)` + strings.Join(parts, `\s+`)
	last := words[len(words)-1]
	return regexp.MustCompile(pattern + boundary(last[len(last)-1]))
}

func boundary(c byte) string {
	if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' {
		return `\b`
	}
	return ""
}
