package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"order-concierge/internal/domain"
)

func testItems() []domain.MenuItem {
	return []domain.MenuItem{
		{Slug: "doce", Keywords: []string{"pamonha de doce", "pamonha doce"}},
		{Slug: "sal", Keywords: []string{"pamonha de sal"}},
		{Slug: "pamonha", Ambiguous: true, Keywords: []string{"pamonha"}},
		{Slug: "moda", Ambiguous: true, Keywords: []string{"pamonha à moda", "pamonha a moda"}},
		{Slug: "curau", Ambiguous: true, Keywords: []string{"curau"}},
		{Slug: "curau-com-canela", Ambiguous: true, Keywords: []string{"curau com canela"}},
	}
}

func TestParse_QuantitiesAndAmbiguousIDs(t *testing.T) {
	p := New(testItems())
	got := p.Parse("2 pamonhas de doce e 1 curau com canela")
	want := map[string]int{"doce": 2, "curau-com-canela": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_LongerPhraseWinsOverSubstring(t *testing.T) {
	p := New(testItems())
	got := p.Parse("quero 3 pamonha à moda e uma pamonha")
	require.Equal(t, map[string]int{"moda": 3, "pamonha": 1}, got)
}

func TestParse_DefaultQuantityAndAccumulation(t *testing.T) {
	p := New(testItems())
	got := p.Parse("pamonha de sal, 2 pamonha de sal e 2x pamonha doce")
	require.Equal(t, map[string]int{"sal": 3, "doce": 2}, got)
}

func TestParse_WhitespaceAndCaseTolerant(t *testing.T) {
	p := New(testItems())
	got := p.Parse("  4   PAMONHA\t\tDE   Doce ")
	require.Equal(t, map[string]int{"doce": 4}, got)
}

func TestParse_AccentInsensitive(t *testing.T) {
	p := New([]domain.MenuItem{{Slug: "bolinho", Keywords: []string{"bolinho de milho com queijo"}}})
	require.Equal(t, map[string]int{"bolinho": 5}, p.Parse("5 bolinhos de mílho com quêijo"))
}

func TestParse_NoMatchReturnsEmptyMap(t *testing.T) {
	p := New(testItems())
	got := p.Parse("boa tarde, tudo bem?")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestParse_DoesNotMatchInsideWords(t *testing.T) {
	p := New([]domain.MenuItem{{Slug: "sal", Keywords: []string{"sal"}}})
	require.Empty(t, p.Parse("salgado"))
}

func TestParse_ZeroQuantityIsConsumedButNotCounted(t *testing.T) {
	p := New(testItems())
	require.Empty(t, p.Parse("0 curau"))
}

func TestParse_OversizedCountOrdersNothing(t *testing.T) {
	p := New(testItems())
	require.Empty(t, p.Parse("99999999999999999999 pamonha de doce"))
	require.Equal(t, map[string]int{"sal": 2}, p.Parse("99999999999999999999 pamonha de doce e 2 pamonha de sal"))
}

func TestNewFromEntries_EqualLengthTieBreakIsDeterministic(t *testing.T) {
	a := NewFromEntries([]Entry{
		{Phrase: "milho verde", ProductID: "b"},
		{Phrase: "curau doce", ProductID: "z"},
		{Phrase: "milho verde", ProductID: "a"},
	})
	b := NewFromEntries([]Entry{
		{Phrase: "milho verde", ProductID: "a"},
		{Phrase: "milho verde", ProductID: "b"},
		{Phrase: "curau doce", ProductID: "z"},
	})
	require.Equal(t, a.Entries(), b.Entries())
	require.Equal(t, []Entry{
		{Phrase: "milho verde", ProductID: "a"},
		{Phrase: "milho verde", ProductID: "b"},
		{Phrase: "curau doce", ProductID: "z"},
	}, a.Entries())

	// The first entry in order consumes the span.
	require.Equal(t, map[string]int{"a": 2}, a.Parse("2 milho verde"))
}

func TestFold(t *testing.T) {
	require.Equal(t, "pamonha a moda", Fold("  Pamonha   À  Moda "))
	require.Equal(t, "acai com pacoca", Fold("Açaí com Paçoca"))
}
