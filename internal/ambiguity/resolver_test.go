package ambiguity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"order-concierge/internal/domain"
)

type nodeMap map[string]domain.AmbiguityNode

func (m nodeMap) Node(id string) (domain.AmbiguityNode, bool) {
	n, ok := m[id]
	return n, ok
}

func testNodes() nodeMap {
	return nodeMap{
		"curau": {ID: "curau", Prompt: "Quente ou gelado?", Options: []domain.Option{
			{Token: "quente", Label: "Quente", Target: "curau-quente"},
			{Token: "gelado", Label: "Gelado", Target: "curaugelado"},
		}},
		"curau-quente": {ID: "curau-quente", Prompt: "Com canela?", Options: []domain.Option{
			{Token: "com", Label: "Com canela", Target: "curauquentecom"},
			{Token: "sem", Label: "Sem canela", Target: "curauquentesem"},
		}},
		"bolinho": {ID: "bolinho", Prompt: "Com queijo?", Options: []domain.Option{
			{Token: "com", Label: "Com", Target: "bolinhocom"},
			{Token: "sem", Label: "Sem", Target: "bolinhosem"},
		}},
	}
}

func newSession() *domain.Session {
	return domain.NewSession("chat-1", time.Unix(0, 0))
}

func TestNew_RequiresNodes(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestQueue_IsFIFO(t *testing.T) {
	r, err := New(testNodes())
	require.NoError(t, err)
	s := newSession()
	r.Enqueue(s, "curau", 1)
	r.Enqueue(s, "bolinho", 4)

	prompt, ok := r.Next(s)
	require.True(t, ok)
	require.Contains(t, prompt, "Quente ou gelado?")
	require.Contains(t, prompt, "*1.* Quente")
	require.Contains(t, prompt, "*2.* Gelado")
	require.Equal(t, &domain.PendingChoice{Node: "curau", Qty: 1}, s.Current)
	require.Equal(t, []domain.PendingChoice{{Node: "bolinho", Qty: 4}}, s.Queue)
}

func TestAnswer_ConcreteByNumberAndToken(t *testing.T) {
	r, _ := New(testNodes())
	s := newSession()
	r.Enqueue(s, "bolinho", 4)
	_, _ = r.Next(s)

	res, err := r.Answer(s, "2")
	require.NoError(t, err)
	require.Equal(t, Resolution{Slug: "bolinhosem", Qty: 4}, res)
	require.Nil(t, s.Current)

	r.Enqueue(s, "bolinho", 1)
	_, _ = r.Next(s)
	res, err = r.Answer(s, "quero COM queijo")
	require.NoError(t, err)
	require.Equal(t, "bolinhocom", res.Slug)
}

func TestAnswer_NestedIsPushedToFront(t *testing.T) {
	r, _ := New(testNodes())
	s := newSession()
	r.Enqueue(s, "curau", 1)
	r.Enqueue(s, "bolinho", 2)
	_, _ = r.Next(s)

	res, err := r.Answer(s, "quente")
	require.NoError(t, err)
	require.Equal(t, Resolution{Nested: "curau-quente", Qty: 1}, res)
	require.Equal(t, []domain.PendingChoice{
		{Node: "curau-quente", Qty: 1},
		{Node: "bolinho", Qty: 2},
	}, s.Queue)

	prompt, ok := r.Next(s)
	require.True(t, ok)
	require.Contains(t, prompt, "Com canela?")

	res, err = r.Answer(s, "sem")
	require.NoError(t, err)
	require.Equal(t, Resolution{Slug: "curauquentesem", Qty: 1}, res)
}

func TestAnswer_InvalidKeepsPromptOpen(t *testing.T) {
	r, _ := New(testNodes())
	s := newSession()
	r.Enqueue(s, "bolinho", 1)
	_, _ = r.Next(s)

	for _, in := range []string{"3", "0", "talvez", "com e sem"} {
		_, err := r.Answer(s, in)
		require.ErrorIs(t, err, ErrInvalidChoice, in)
		require.NotNil(t, s.Current)
	}
}

func TestAnswer_NothingPending(t *testing.T) {
	r, _ := New(testNodes())
	_, err := r.Answer(newSession(), "1")
	require.ErrorIs(t, err, ErrNothingPending)
}

func TestNext_SkipsUnknownNodesAndEmpties(t *testing.T) {
	r, _ := New(testNodes())
	s := newSession()
	r.Enqueue(s, "gone", 1)
	_, ok := r.Next(s)
	require.False(t, ok)
	require.Nil(t, s.Current)
	require.Empty(t, s.Queue)
}
