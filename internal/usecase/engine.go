// Package usecase runs the per-chat ordering conversation.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"order-concierge/internal/ambiguity"
	"order-concierge/internal/domain"
	"order-concierge/internal/inventory"
	"order-concierge/internal/menu"
	"order-concierge/internal/parser"
)

const (
	defaultIdleTimeout      = 30 * time.Minute
	defaultMaxParseFailures = 2
)

// Catalog serves the current menu and store status.
type Catalog interface {
	Menu() *menu.Menu
	Status() domain.StoreStatus
}

// StockView is the ledger as seen by the chat: stock hints before an item is
// added, and commits that keep the ledger in step with the store.
// *inventory.Manager satisfies it.
type StockView interface {
	Available(slug string) (int, bool)
	CommitOrder(ctx context.Context, gw inventory.Gateway, lines []domain.OrderLine) (map[string]int, error)
}

// StockGateway performs the authoritative decrement at checkout.
type StockGateway interface {
	Commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error)
}

type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendTyping(ctx context.Context, chatID string) error
}

type StaffNotifier interface {
	NotifyStaff(ctx context.Context, text string) error
}

// Deps are the engine's collaborators. Stock may be nil, in which case no
// stock hints are given and orders commit straight through the gateway.
type Deps struct {
	Sessions  SessionStore
	Catalog   Catalog
	Stock     StockView
	Gateway   StockGateway
	Messenger Messenger
	Staff     StaffNotifier
}

type Config struct {
	StoreName        string
	MenuURL          string
	Address          string
	HoursText        string
	PixKey           string
	IdleTimeout      time.Duration
	MaxParseFailures int
}

// Result describes what one inbound message did.
type Result struct {
	ChatID  string
	State   domain.State
	Replies []string
	// Ended is set when no session remains for the chat.
	Ended bool
}

type stateHandler func(ctx context.Context, t *turn)

type Engine struct {
	sessions  SessionStore
	catalog   Catalog
	stock     StockView
	gateway   StockGateway
	messenger Messenger
	staff     StaffNotifier

	cfg      Config
	handlers map[domain.State]stateHandler
	locks    *chatLocks
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(d Deps, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if d.Sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if d.Catalog == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if d.Gateway == nil {
		return nil, errors.New("usecase: stock gateway must not be nil")
	}
	if d.Messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if d.Staff == nil {
		return nil, errors.New("usecase: staff notifier must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxParseFailures <= 0 {
		cfg.MaxParseFailures = defaultMaxParseFailures
	}
	if strings.TrimSpace(cfg.StoreName) == "" {
		cfg.StoreName = "Pamonharia"
	}
	e := &Engine{
		sessions:  d.Sessions,
		catalog:   d.Catalog,
		stock:     d.Stock,
		gateway:   d.Gateway,
		messenger: d.Messenger,
		staff:     d.Staff,
		cfg:       cfg,
		locks:     newChatLocks(),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[domain.State]stateHandler{
		domain.StateStart:               e.handleStart,
		domain.StateMenuWait:            e.handleMenuWait,
		domain.StateBuildingOrder:       e.handleBuildingOrder,
		domain.StatePostOrderActionWait: e.handlePostOrderAction,
		domain.StateAmbiguityWait:       e.handleAmbiguity,
		domain.StateDeliveryTypeWait:    e.handleDeliveryType,
		domain.StateLocationWait:        e.handleLocation,
		domain.StateAddressWait:         e.handleAddress,
		domain.StatePaymentMethodWait:   e.handlePaymentMethod,
		domain.StateChangeAmountWait:    e.handleChangeAmount,
		domain.StatePixConfirmWait:      e.handlePixConfirm,
		domain.StateFinalConfirmWait:    e.handleFinalConfirm,
		domain.StateCompleted:           e.handleStart,
	}
	return e, nil
}

// turn is the working state of one inbound message.
type turn struct {
	s       *domain.Session
	menu    *menu.Menu
	res     *ambiguity.Resolver
	msg     domain.InboundMessage
	text    string
	folded  string
	replies []string
	staff   []string
	destroy bool
	// keep leaves the stored session untouched.
	keep bool
	err  error
}

func (t *turn) say(msg string) {
	t.replies = append(t.replies, msg)
}

// HandleMessage processes one inbound event for a chat. Events of the same
// chat are handled one at a time. The session is persisted before any reply
// is sent; delivery failures are logged and leave the session as saved.
func (e *Engine) HandleMessage(ctx context.Context, msg domain.InboundMessage) (Result, error) {
	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		return Result{}, newError(ErrorInvalidInput, "missing_chat_id", nil)
	}
	if strings.TrimSpace(msg.Text) == "" && msg.Location == nil {
		return Result{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	m := e.catalog.Menu()
	if m == nil {
		return Result{}, newError(ErrorInternal, "menu_unavailable", nil)
	}
	res, err := ambiguity.New(m)
	if err != nil {
		return Result{}, newError(ErrorInternal, "resolver_init_error", err)
	}

	unlock := e.locks.Lock(chatID)
	defer unlock()

	now := e.now()
	s, err := e.sessions.Load(ctx, chatID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s = nil
	case err != nil:
		return Result{}, newError(ErrorInternal, "session_load_error", err)
	}
	if s != nil && s.Idle(now, e.cfg.IdleTimeout) {
		if err := e.sessions.Delete(ctx, chatID, s.Version); err != nil {
			return Result{}, storeError("session_delete_error", err)
		}
		e.logger.Info("session expired on arrival", zap.String("chat_id", chatID), zap.Stringer("state", s.State))
		s = nil
	}
	if s == nil {
		status := e.catalog.Status()
		if !status.Open {
			reply := e.closedReply(status)
			e.deliver(ctx, chatID, []string{reply})
			return Result{ChatID: chatID, State: domain.StateStart, Replies: []string{reply}, Ended: true}, nil
		}
		s = domain.NewSession(chatID, now)
	}

	if err := e.messenger.SendTyping(ctx, chatID); err != nil {
		e.logger.Debug("typing indicator failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	text := strings.TrimSpace(msg.Text)
	t := &turn{s: s, menu: m, res: res, msg: msg, text: text, folded: parser.Fold(text)}
	from := s.State
	e.dispatch(ctx, t)
	if t.err != nil {
		return Result{}, storeError("session_save_error", t.err)
	}
	s.LastActivity = now

	switch {
	case t.keep:
	case t.destroy:
		if err := e.sessions.Delete(ctx, chatID, s.Version); err != nil {
			if s.State != domain.StateCompleted {
				return Result{}, storeError("session_delete_error", err)
			}
			// The order went through; its claim keeps a retry from
			// committing again until the session expires or is reset.
			e.logger.Error("completed session cleanup failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	default:
		if err := e.sessions.Save(ctx, s); err != nil {
			return Result{}, storeError("session_save_error", err)
		}
	}
	if from != s.State {
		e.logger.Info("conversation transition",
			zap.String("chat_id", chatID),
			zap.Stringer("from", from),
			zap.Stringer("to", s.State))
	}

	e.deliver(ctx, chatID, t.replies)
	for _, note := range t.staff {
		if err := e.staff.NotifyStaff(ctx, note); err != nil {
			e.logger.Error("staff notification failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return Result{ChatID: chatID, State: s.State, Replies: t.replies, Ended: t.destroy}, nil
}

// storeError maps a session store failure; a lost version race is a conflict.
func storeError(reason string, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return newError(ErrorConflict, "session_version_conflict", err)
	}
	return newError(ErrorInternal, reason, err)
}

func (e *Engine) deliver(ctx context.Context, chatID string, replies []string) {
	for _, r := range replies {
		if err := e.messenger.SendText(ctx, chatID, r); err != nil {
			e.logger.Error("reply delivery failed", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
	}
}

var (
	resetWords  = map[string]bool{"reset": true, "menu": true, "voltar": true, "recomecar": true}
	cancelWords = map[string]bool{"cancelar": true, "cancel": true, "sair": true}
)

// dispatch applies the global commands and then the current state's handler.
// A chat handed over to staff only listens for the reset command.
func (e *Engine) dispatch(ctx context.Context, t *turn) {
	switch {
	case resetWords[t.folded]:
		e.reset(t)
		return
	case t.s.State == domain.StateHumanHandoff:
		return
	case cancelWords[t.folded]:
		t.destroy = true
		t.say(replyCancelled)
		return
	}
	h, ok := e.handlers[t.s.State]
	if !ok {
		e.logger.Error("no handler for state", zap.String("chat_id", t.s.ChatID), zap.Stringer("state", t.s.State))
		e.reset(t)
		return
	}
	h(ctx, t)
}

// reset discards the order in progress and greets again.
func (e *Engine) reset(t *turn) {
	if t.s.State == domain.StateHumanHandoff {
		t.say(replyBotBack)
	}
	fresh := domain.NewSession(t.s.ChatID, t.s.LastActivity)
	fresh.Version = t.s.Version
	*t.s = *fresh
	e.greet(t)
}

func (e *Engine) greet(t *turn) {
	t.s.State = domain.StateMenuWait
	t.say(e.greeting(e.catalog.Status()))
}

// ExpireIdle destroys sessions idle for longer than the configured timeout.
// Chats busy with a message are skipped and picked up by a later sweep.
func (e *Engine) ExpireIdle(ctx context.Context) (int, error) {
	sessions, err := e.sessions.All(ctx)
	if err != nil {
		return 0, newError(ErrorInternal, "session_list_error", err)
	}
	now := e.now()
	expired := 0
	for _, s := range sessions {
		if !s.Idle(now, e.cfg.IdleTimeout) {
			continue
		}
		unlock, ok := e.locks.TryLock(s.ChatID)
		if !ok {
			continue
		}
		cur, err := e.sessions.Load(ctx, s.ChatID)
		if err == nil && cur.Idle(now, e.cfg.IdleTimeout) {
			if err := e.sessions.Delete(ctx, s.ChatID, cur.Version); err != nil {
				e.logger.Warn("idle session delete failed", zap.String("chat_id", s.ChatID), zap.Error(err))
			} else {
				expired++
			}
		}
		unlock()
	}
	if expired > 0 {
		e.logger.Info("expired idle sessions", zap.Int("count", expired))
	}
	return expired, nil
}

// RunExpiry calls ExpireIdle every interval until ctx is cancelled.
func (e *Engine) RunExpiry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if _, err := e.ExpireIdle(ctx); err != nil {
				e.logger.Warn("session expiry sweep failed", zap.Error(err))
			}
		}
	}
}
