// Package handler turns inbound chat webhook events into engine calls, both as
// an API Gateway Lambda handler and as a plain net/http handler.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-concierge/internal/domain"
	"order-concierge/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

// MessageHandler is the conversation engine as seen by the webhook.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) (usecase.Result, error)
}

type Handler struct {
	uc     MessageHandler
	logger *zap.Logger
	now    func() time.Time
}

// webhookRequest is the event posted by the chat transport for every message
// it sees, including the bot's own and group traffic.
type webhookRequest struct {
	ChatID    string           `json:"chatId"`
	Text      string           `json:"text"`
	FromMe    bool             `json:"fromMe"`
	IsGroup   bool             `json:"isGroup"`
	Location  *domain.Location `json:"location,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
}

type webhookResponse struct {
	ChatID  string   `json:"chatId,omitempty"`
	State   string   `json:"state,omitempty"`
	Replies []string `json:"replies,omitempty"`
	Ended   bool     `json:"ended,omitempty"`
	Ignored bool     `json:"ignored,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(uc MessageHandler, logger *zap.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: message handler must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{uc: uc, logger: logger, now: time.Now}, nil
}

// Handle serves one API Gateway proxy event. Failures are reported in the
// response; the returned error is always nil so Lambda never retries.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return h.fail(corrID, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput), nil
	}
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.fail(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput), nil
		}
		body = decoded
	}
	return h.handleBody(ctx, corrID, body), nil
}

// ServeHTTP adapts the same flow to net/http for the long-running server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	corrID := correlationID(headers)

	var resp events.APIGatewayProxyResponse
	if r.Method != http.MethodPost {
		resp = h.fail(corrID, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput)
	} else if body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		resp = h.fail(corrID, http.StatusRequestEntityTooLarge, usecase.ErrorInvalidInput)
	} else {
		resp = h.handleBody(r.Context(), corrID, body)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func (h *Handler) handleBody(ctx context.Context, corrID string, body []byte) events.APIGatewayProxyResponse {
	var in webhookRequest
	if err := json.Unmarshal(body, &in); err != nil {
		h.logger.Info("rejected webhook body", zap.String("correlation_id", corrID), zap.Error(err))
		return h.fail(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput)
	}
	if in.FromMe || in.IsGroup {
		return h.respond(corrID, http.StatusOK, webhookResponse{Ignored: true})
	}

	msg := domain.InboundMessage{
		ChatID:     in.ChatID,
		Text:       in.Text,
		Location:   in.Location,
		ReceivedAt: h.now(),
	}
	if in.Timestamp > 0 {
		msg.ReceivedAt = time.Unix(in.Timestamp, 0)
	}
	res, err := h.uc.HandleMessage(ctx, msg)
	if err != nil {
		status, code := classify(err)
		log := h.logger.Warn
		if status >= http.StatusInternalServerError {
			log = h.logger.Error
		}
		log("webhook message failed",
			zap.String("correlation_id", corrID),
			zap.String("chat_id", in.ChatID),
			zap.String("code", string(code)),
			zap.Error(err))
		return h.fail(corrID, status, code)
	}
	return h.respond(corrID, http.StatusOK, webhookResponse{
		ChatID:  res.ChatID,
		State:   res.State.String(),
		Replies: res.Replies,
		Ended:   res.Ended,
	})
}

func classify(err error) (int, usecase.ErrorCode) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ue.Code
	case usecase.ErrorConflict:
		return http.StatusConflict, ue.Code
	}
	return http.StatusInternalServerError, usecase.ErrorInternal
}

func (h *Handler) fail(corrID string, status int, code usecase.ErrorCode) events.APIGatewayProxyResponse {
	return h.respond(corrID, status, errorResponse{Error: string(code), CorrelationID: corrID})
}

func (h *Handler) respond(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

// correlationID reuses the caller's id (header names are case-insensitive) or
// makes a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
