package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-concierge/internal/ambiguity"
	"order-concierge/internal/domain"
)

// handleStart serves brand new chats: an order typed straight away is taken,
// anything else gets the greeting.
func (e *Engine) handleStart(_ context.Context, t *turn) {
	if e.takeOrder(t) {
		return
	}
	e.greet(t)
}

func (e *Engine) handleMenuWait(_ context.Context, t *turn) {
	switch t.folded {
	case "1":
		e.startBuilding(t, replyAskOrder)
		return
	case "2":
		t.say(e.addressReply())
		return
	case "3":
		t.say(e.hoursReply())
		return
	case "4":
		e.escalate(t, "pediu para falar com um atendente")
		return
	}
	if e.takeOrder(t) {
		return
	}
	switch {
	case strings.Contains(t.folded, "pedido") || strings.Contains(t.folded, "pedir"):
		e.startBuilding(t, replyAskOrder)
	case strings.Contains(t.folded, "endere"):
		t.say(e.addressReply())
	case strings.Contains(t.folded, "horario"):
		t.say(e.hoursReply())
	case strings.Contains(t.folded, "atendente") || strings.Contains(t.folded, "falar"):
		e.escalate(t, "pediu para falar com um atendente")
	default:
		t.say(replyMenuOptions)
	}
}

// handleBuildingOrder escalates to staff after MaxParseFailures consecutive
// messages without a recognisable item.
func (e *Engine) handleBuildingOrder(_ context.Context, t *turn) {
	if e.takeOrder(t) {
		return
	}
	t.s.ParseFailures++
	if t.s.ParseFailures >= e.cfg.MaxParseFailures {
		e.escalate(t, "não conseguiu montar o pedido pelo robô")
		return
	}
	t.say(replyNotUnderstood)
}

func (e *Engine) handleAmbiguity(_ context.Context, t *turn) {
	res, err := t.res.Answer(t.s, t.text)
	switch {
	case errors.Is(err, ambiguity.ErrInvalidChoice):
		prompt, _ := t.res.Prompt(t.s)
		t.say(replyInvalidOption + "\n\n" + prompt)
		return
	case errors.Is(err, ambiguity.ErrNothingPending):
		e.advance(t)
		return
	}
	if res.Slug != "" {
		e.addConcrete(t, res.Slug, res.Qty)
	}
	e.advance(t)
}

func (e *Engine) handlePostOrderAction(_ context.Context, t *turn) {
	switch t.folded {
	case "1", "finalizar":
		if len(t.s.PendingOrder) == 0 {
			e.startBuilding(t, replyAskOrder)
			return
		}
		t.s.State = domain.StateDeliveryTypeWait
		t.say(replyDeliveryType)
		return
	case "2", "adicionar":
		e.startBuilding(t, replyAskMore)
		return
	case "3", "limpar":
		t.s.PendingOrder = map[string]int{}
		t.s.Queue = nil
		e.startBuilding(t, "Pedido limpo. "+replyAskOrder)
		return
	}
	if e.takeOrder(t) {
		return
	}
	t.say(replyInvalidOption + "\n\n" + replyPostOrderOptions)
}

func (e *Engine) handleDeliveryType(_ context.Context, t *turn) {
	switch {
	case t.folded == "1" || strings.Contains(t.folded, "retir"):
		t.s.Delivery = domain.DeliveryInfo{Type: domain.DeliveryPickup}
		t.s.State = domain.StatePaymentMethodWait
		t.say(e.addressReply() + "\n\n" + replyPaymentMethod)
	case t.folded == "2" || strings.Contains(t.folded, "entreg"):
		t.s.Delivery = domain.DeliveryInfo{Type: domain.DeliveryDelivery}
		t.s.State = domain.StateLocationWait
		t.say(replyAskLocation)
	default:
		t.say(replyInvalidOption + "\n\n" + replyDeliveryType)
	}
}

// handleLocation accepts a shared pin (then asks for the written details) or
// a typed address directly.
func (e *Engine) handleLocation(_ context.Context, t *turn) {
	if t.msg.Location != nil {
		loc := *t.msg.Location
		t.s.Delivery.Location = &loc
		t.s.State = domain.StateAddressWait
		t.say(replyAskAddress)
		return
	}
	if t.text == "" {
		t.say(replyAskLocation)
		return
	}
	t.s.Delivery.Address = t.text
	t.s.State = domain.StatePaymentMethodWait
	t.say(replyPaymentMethod)
}

func (e *Engine) handleAddress(_ context.Context, t *turn) {
	if t.msg.Location != nil {
		loc := *t.msg.Location
		t.s.Delivery.Location = &loc
	}
	if t.text == "" {
		t.say(replyAskAddress)
		return
	}
	t.s.Delivery.Address = t.text
	t.s.State = domain.StatePaymentMethodWait
	t.say(replyPaymentMethod)
}

func (e *Engine) handlePaymentMethod(_ context.Context, t *turn) {
	switch {
	case t.folded == "1" || strings.Contains(t.folded, "dinheiro"):
		t.s.Payment = domain.PaymentInfo{Method: domain.PaymentCash}
		t.s.State = domain.StateChangeAmountWait
		t.say(replyAskChange)
	case t.folded == "2" || strings.Contains(t.folded, "cartao"):
		t.s.Payment = domain.PaymentInfo{Method: domain.PaymentCard}
		e.askConfirmation(t)
	case t.folded == "3" || strings.Contains(t.folded, "pix"):
		t.s.Payment = domain.PaymentInfo{Method: domain.PaymentPix}
		t.s.State = domain.StatePixConfirmWait
		t.say(e.pixReply(orderTotal(t.menu, t.s.PendingOrder)))
	default:
		t.say(replyInvalidOption + "\n\n" + replyPaymentMethod)
	}
}

// handleChangeAmount takes "não" for exact cash or the note the customer will
// hand over, which must cover the total.
func (e *Engine) handleChangeAmount(_ context.Context, t *turn) {
	if t.folded == "n" || strings.HasPrefix(t.folded, "nao") || strings.HasPrefix(t.folded, "sem troco") {
		t.s.Payment.ChangeFor = 0
		e.askConfirmation(t)
		return
	}
	amount, ok := parseAmount(t.folded)
	if !ok {
		t.say(replyAskChange)
		return
	}
	total := orderTotal(t.menu, t.s.PendingOrder)
	if amount < total {
		t.say(fmt.Sprintf("O valor informado (%s) é menor que o total do pedido (%s). %s", money(amount), money(total), replyAskChange))
		return
	}
	t.s.Payment.ChangeFor = amount
	e.askConfirmation(t)
}

func (e *Engine) handlePixConfirm(_ context.Context, t *turn) {
	if strings.Contains(t.folded, "paguei") || strings.Contains(t.folded, "pago") {
		t.s.Payment.PixPaid = true
		e.askConfirmation(t)
		return
	}
	t.say(replyPixWaiting)
}

func (e *Engine) handleFinalConfirm(ctx context.Context, t *turn) {
	switch t.folded {
	case "1", "sim", "confirmar", "confirmo":
		e.checkout(ctx, t)
	case "2", "alterar", "nao":
		e.review(t)
	default:
		t.say(replyInvalidOption + "\n\n" + replyConfirmOptions)
	}
}

// checkout commits the order through the stock gateway. The order is first
// claimed with a version-checked save, so a duplicate confirmation racing in
// from another instance loses the claim instead of committing twice. A
// shortage caps the offending line to what is left and sends the customer
// back to review; any other failure keeps the confirmation open for a retry.
func (e *Engine) checkout(ctx context.Context, t *turn) {
	if t.s.CheckoutID != "" {
		// A claim that never resolved: the commit may have gone through.
		t.keep = true
		t.say(fmt.Sprintf(replyCheckoutPending, t.s.CheckoutID))
		e.logger.Warn("confirmation for an order already claimed",
			zap.String("chat_id", t.s.ChatID),
			zap.String("order_id", t.s.CheckoutID))
		return
	}
	lines := domain.OrderLines(t.s.PendingOrder)
	if len(lines) == 0 {
		e.startBuilding(t, replyAskOrder)
		return
	}
	orderID := strings.ToUpper(uuid.NewString()[:8])
	t.s.CheckoutID = orderID
	t.s.LastActivity = e.now()
	if err := e.sessions.Save(ctx, t.s); err != nil {
		t.err = err
		return
	}

	persisted, err := e.commit(ctx, lines)
	var short *domain.InsufficientStockError
	switch {
	case errors.As(err, &short):
		t.s.CheckoutID = ""
		name := itemName(t.menu, short.Slug)
		if short.Available <= 0 {
			delete(t.s.PendingOrder, short.Slug)
			t.say(fmt.Sprintf("Infelizmente *%s* acabou e foi removido do seu pedido.", name))
		} else {
			t.s.PendingOrder[short.Slug] = short.Available
			t.say(fmt.Sprintf("Só temos %d unidade(s) de *%s* agora. Ajustei seu pedido.", short.Available, name))
		}
		e.logger.Info("checkout rejected for stock",
			zap.String("chat_id", t.s.ChatID),
			zap.String("slug", short.Slug),
			zap.Int("requested", short.Requested),
			zap.Int("available", short.Available))
		if len(t.s.PendingOrder) == 0 {
			e.startBuilding(t, replyAskOrder)
			return
		}
		e.review(t)
		return
	case err != nil:
		t.s.CheckoutID = ""
		e.logger.Error("checkout commit failed", zap.String("chat_id", t.s.ChatID), zap.Error(err))
		t.say(replyCheckoutFailed)
		return
	}

	e.logger.Debug("order committed", zap.String("chat_id", t.s.ChatID), zap.Any("persisted", persisted))
	t.say(fmt.Sprintf("✅ Pedido *#%s* confirmado!\n\n%s\n\nObrigado pela preferência! 🌽", orderID, finalSummary(t.menu, t.s)))
	t.staff = append(t.staff, staffOrderMessage(t.menu, t.s, orderID))
	t.s.State = domain.StateCompleted
	t.destroy = true
	e.logger.Info("order completed", zap.String("chat_id", t.s.ChatID), zap.String("order_id", orderID), zap.Int("lines", len(lines)))
}

// commit routes through the ledger when one is wired so it learns about the
// sale.
func (e *Engine) commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error) {
	if e.stock != nil {
		return e.stock.CommitOrder(ctx, e.gateway, lines)
	}
	return e.gateway.Commit(ctx, lines)
}

// takeOrder parses free text into the pending order. It reports false when
// nothing in the text matched the menu.
func (e *Engine) takeOrder(t *turn) bool {
	if t.text == "" {
		return false
	}
	parsed := t.menu.Parser().Parse(t.text)
	if len(parsed) == 0 {
		return false
	}
	t.s.ParseFailures = 0
	ids := make([]string, 0, len(parsed))
	for id := range parsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		qty := parsed[id]
		switch {
		case t.menu.IsAmbiguous(id):
			t.res.Enqueue(t.s, id, qty)
		default:
			if _, ok := t.menu.Item(id); ok {
				e.addConcrete(t, id, qty)
			}
		}
	}
	e.advance(t)
	return true
}

// addConcrete adds qty of slug unless the ledger shows fewer units than the
// order would then hold.
func (e *Engine) addConcrete(t *turn, slug string, qty int) {
	want := t.s.PendingOrder[slug] + qty
	if e.stock != nil {
		if avail, tracked := e.stock.Available(slug); tracked && avail < want {
			t.say(fmt.Sprintf("Temos apenas %d unidade(s) de *%s* disponível(is) no momento.", avail, itemName(t.menu, slug)))
			return
		}
	}
	t.s.PendingOrder[slug] = want
}

// advance opens the next ambiguity prompt, or moves on to review once the
// queue is empty.
func (e *Engine) advance(t *turn) {
	if prompt, ok := t.res.Next(t.s); ok {
		t.s.State = domain.StateAmbiguityWait
		t.say(prompt)
		return
	}
	if len(t.s.PendingOrder) == 0 {
		e.startBuilding(t, replyAskOrder)
		return
	}
	e.review(t)
}

func (e *Engine) review(t *turn) {
	t.s.State = domain.StatePostOrderActionWait
	t.say(orderSummary(t.menu, t.s.PendingOrder) + "\n\n" + replyPostOrderOptions)
}

func (e *Engine) askConfirmation(t *turn) {
	t.s.State = domain.StateFinalConfirmWait
	t.say(finalSummary(t.menu, t.s) + "\n\n" + replyConfirmOptions)
}

func (e *Engine) startBuilding(t *turn, prompt string) {
	t.s.State = domain.StateBuildingOrder
	t.s.ParseFailures = 0
	t.say(prompt)
}

// escalate hands the chat to staff. The staff is notified once per
// escalation; a reset clears the flag.
func (e *Engine) escalate(t *turn, reason string) {
	t.s.State = domain.StateHumanHandoff
	t.say(replyHandoff)
	if t.s.HandoffNotified {
		return
	}
	t.s.HandoffNotified = true
	t.staff = append(t.staff, fmt.Sprintf("🔔 O cliente %s %s.", t.s.ChatID, reason))
	e.logger.Info("chat handed to staff", zap.String("chat_id", t.s.ChatID), zap.String("reason", reason))
}

// parseAmount reads "50", "50,00" or "r$ 1.250,50".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "r$"))
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
