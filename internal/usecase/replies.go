package usecase

import (
	"fmt"
	"strings"

	"order-concierge/internal/domain"
	"order-concierge/internal/menu"
)

const (
	replyMenuOptions = "Digite o número de uma das opções:\n*1.* Fazer um pedido\n*2.* Saber nosso endereço\n*3.* Saber nosso horário\n*4.* Falar com um atendente"

	replyAskOrder      = "Me diga o que você gostaria de pedir. Por exemplo: *2 pamonhas de doce e 1 curau com canela*."
	replyAskMore       = "Ok! O que mais você gostaria de adicionar?"
	replyNotUnderstood = "Não consegui identificar nenhum item do cardápio na sua mensagem. Tente de novo, por exemplo: *1 pamonha de sal*."
	replyInvalidOption = "Opção inválida."

	replyHandoff   = "Ok, estou transferindo seu atendimento. Em instantes um de nossos atendentes irá te responder por aqui.\nPara voltar ao atendimento automático, digite *menu*."
	replyBotBack   = "Ok, o atendimento automático foi reativado! 👋"
	replyCancelled = "Pedido cancelado. Quando quiser, é só mandar uma mensagem! 👋"

	replyPostOrderOptions = "*1.* Finalizar pedido\n*2.* Adicionar mais itens\n*3.* Limpar pedido"
	replyDeliveryType     = "Como você prefere receber?\n*1.* Retirar no local\n*2.* Entrega"
	replyAskLocation      = "Envie sua localização pelo WhatsApp ou digite o endereço de entrega."
	replyAskAddress       = "Recebi sua localização! Agora me diga o número, o complemento e um ponto de referência."
	replyPaymentMethod    = "Qual a forma de pagamento?\n*1.* Dinheiro\n*2.* Cartão\n*3.* Pix"
	replyAskChange        = "Vai precisar de troco? Informe o valor que vai entregar (ex: *50*) ou responda *não*."
	replyPixWaiting       = "Assim que fizer o pagamento, responda *paguei*."
	replyConfirmOptions   = "*1.* Confirmar pedido\n*2.* Alterar pedido"
	replyCheckoutFailed   = "Tivemos um problema para registrar seu pedido. Responda *1* para tentar novamente."
	replyCheckoutPending  = "Seu pedido *#%s* já está sendo registrado. Se precisar de ajuda, fale com a nossa equipe ou digite *menu* para recomeçar."
)

func (e *Engine) greeting(status domain.StoreStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá! Bem-vindo(a) à *%s*! 🌽\n\n", e.cfg.StoreName)
	if status.Open {
		b.WriteString("Estamos abertos!")
	} else {
		b.WriteString("No momento estamos fechados.")
		if status.Message != "" {
			b.WriteString(" " + status.Message)
		}
	}
	if e.cfg.MenuURL != "" {
		fmt.Fprintf(&b, " Confira nosso cardápio completo:\n\n*%s*", e.cfg.MenuURL)
	}
	b.WriteString("\n\n--------------------\n")
	b.WriteString(replyMenuOptions)
	return b.String()
}

func (e *Engine) closedReply(status domain.StoreStatus) string {
	msg := "No momento estamos fechados."
	if status.Message != "" {
		msg += " " + status.Message
	}
	if e.cfg.MenuURL != "" {
		msg += fmt.Sprintf("\n\nMas você já pode conferir nosso cardápio para quando voltarmos:\n\n*%s*", e.cfg.MenuURL)
	}
	return msg
}

func (e *Engine) addressReply() string {
	if e.cfg.Address == "" {
		return "Fale com um atendente para saber nosso endereço."
	}
	return "Nosso endereço para retirada é:\n*" + e.cfg.Address + "*"
}

func (e *Engine) hoursReply() string {
	if e.cfg.HoursText == "" {
		return "Nossos horários de funcionamento estão sempre atualizados em nosso cardápio online."
	}
	return e.cfg.HoursText
}

func (e *Engine) pixReply(total float64) string {
	return fmt.Sprintf("Total a pagar: *%s*\nChave Pix: *%s*\n\n%s", money(total), e.cfg.PixKey, replyPixWaiting)
}

func money(v float64) string {
	return "R$ " + strings.Replace(fmt.Sprintf("%.2f", v), ".", ",", 1)
}

func itemName(m *menu.Menu, slug string) string {
	if it, ok := m.Item(slug); ok && it.Name != "" {
		return it.Name
	}
	return slug
}

// orderTotal sums the priced lines of an order.
func orderTotal(m *menu.Menu, order map[string]int) float64 {
	var total float64
	for _, l := range domain.OrderLines(order) {
		if it, ok := m.Item(l.Slug); ok {
			total += it.Price * float64(l.Qty)
		}
	}
	return total
}

func orderSummary(m *menu.Menu, order map[string]int) string {
	var b strings.Builder
	b.WriteString("*Seu pedido:*")
	for _, l := range domain.OrderLines(order) {
		price := 0.0
		if it, ok := m.Item(l.Slug); ok {
			price = it.Price
		}
		fmt.Fprintf(&b, "\n%dx %s - %s", l.Qty, itemName(m, l.Slug), money(price*float64(l.Qty)))
	}
	fmt.Fprintf(&b, "\n*Total: %s*", money(orderTotal(m, order)))
	return b.String()
}

func deliverySummary(d domain.DeliveryInfo) string {
	if d.Type == domain.DeliveryPickup {
		return "Retirada no local"
	}
	var parts []string
	if d.Location != nil {
		parts = append(parts, fmt.Sprintf("localização %.5f, %.5f", d.Location.Latitude, d.Location.Longitude))
	}
	if d.Address != "" {
		parts = append(parts, d.Address)
	}
	return "Entrega: " + strings.Join(parts, " - ")
}

func paymentSummary(p domain.PaymentInfo) string {
	switch p.Method {
	case domain.PaymentCash:
		if p.ChangeFor > 0 {
			return "Dinheiro (troco para " + money(p.ChangeFor) + ")"
		}
		return "Dinheiro (sem troco)"
	case domain.PaymentCard:
		return "Cartão"
	case domain.PaymentPix:
		if p.PixPaid {
			return "Pix (pagamento informado)"
		}
		return "Pix"
	}
	return string(p.Method)
}

func finalSummary(m *menu.Menu, s *domain.Session) string {
	return orderSummary(m, s.PendingOrder) +
		"\n\n" + deliverySummary(s.Delivery) +
		"\nPagamento: " + paymentSummary(s.Payment)
}

func staffOrderMessage(m *menu.Menu, s *domain.Session, orderID string) string {
	return fmt.Sprintf("🛎️ Novo pedido *#%s* de %s\n\n%s", orderID, s.ChatID, finalSummary(m, s))
}
