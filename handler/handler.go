package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"farm-assistant/internal/domain"
	"farm-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxRequestBody    = 64 << 10

	routeChat       = "/chat"
	routeRegenerate = "/chat/regenerate"
	routeHistory    = "/chat/history"
)

// ChatUseCase is the application surface the handler exposes.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Regenerate(ctx context.Context, in usecase.RegenerateInput) (usecase.ChatOutput, error)
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type Handler struct {
	uc     ChatUseCase
	logger *zap.Logger
}

type chatRequest struct {
	Message        string         `json:"message"`
	UserID         string         `json:"userId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

type regenerateRequest struct {
	ConversationID string         `json:"conversationId"`
	UserID         string         `json:"userId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

type chatResponse struct {
	domain.ChatResponse
	ConversationID string `json:"conversationId"`
}

type historyMessage struct {
	Text      string `json:"text"`
	Answer    string `json:"answer"`
	Outcome   string `json:"outcome,omitempty"`
	UserID    string `json:"userId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type historyResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []historyMessage `json:"messages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc ChatUseCase, logger *zap.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With(
		zap.String("correlationId", correlationID),
		zap.String("method", event.HTTPMethod),
		zap.String("path", event.Path),
	)

	status, body := h.route(ctx, log, event)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status))
	} else {
		log.Debug("request served", zap.Int("status", status))
	}
	return response(status, body, correlationID), nil
}

// ServeHTTP adapts net/http requests onto Handle.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil || len(body) > maxRequestBody {
		writeHTTP(w, response(http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		}, r.Header.Get(correlationHeader)))
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	writeHTTP(w, resp)
}

func (h *Handler) route(ctx context.Context, log *zap.Logger, event events.APIGatewayProxyRequest) (int, any) {
	path := strings.TrimSuffix(event.Path, "/")
	switch {
	case path == routeChat && event.HTTPMethod == http.MethodPost:
		return h.chat(ctx, log, event.Body)
	case path == routeRegenerate && event.HTTPMethod == http.MethodPost:
		return h.regenerate(ctx, log, event.Body)
	case path == routeHistory && event.HTTPMethod == http.MethodGet:
		return h.history(ctx, log, event.QueryStringParameters["conversationId"])
	case path == routeChat || path == routeRegenerate || path == routeHistory:
		return http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}
	default:
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"}
	}
}

func (h *Handler) chat(ctx context.Context, log *zap.Logger, body string) (int, any) {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return invalidBody()
	}
	out, err := h.uc.Chat(ctx, usecase.ChatInput{
		Message:        req.Message,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})
	if err != nil {
		return errorStatus(log, err)
	}
	return http.StatusOK, chatResponse{ChatResponse: out.Response, ConversationID: out.ConversationID}
}

func (h *Handler) regenerate(ctx context.Context, log *zap.Logger, body string) (int, any) {
	var req regenerateRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return invalidBody()
	}
	out, err := h.uc.Regenerate(ctx, usecase.RegenerateInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Context:        req.Context,
	})
	if err != nil {
		return errorStatus(log, err)
	}
	return http.StatusOK, chatResponse{ChatResponse: out.Response, ConversationID: out.ConversationID}
}

func (h *Handler) history(ctx context.Context, log *zap.Logger, conversationID string) (int, any) {
	msgs, err := h.uc.History(ctx, conversationID)
	if err != nil {
		return errorStatus(log, err)
	}
	out := historyResponse{
		ConversationID: strings.TrimSpace(conversationID),
		Messages:       make([]historyMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, historyMessage{
			Text:      m.Text,
			Answer:    m.Answer,
			Outcome:   m.Outcome,
			UserID:    m.UserID,
			CreatedAt: m.CreatedAt,
		})
	}
	return http.StatusOK, out
}

func invalidBody() (int, any) {
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
}

func errorStatus(log *zap.Logger, err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected use case error", zap.Error(err))
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "unexpected_error"}
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	case usecase.ErrorNotImplemented:
		status = http.StatusNotImplemented
	}
	if status >= http.StatusInternalServerError {
		log.Error("chat request failed", zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason), zap.Error(ucErr.Err))
	}
	return status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
}

func response(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	encoded, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		encoded = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response"}`)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if correlationID != "" {
		headers[correlationHeader] = correlationID
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(encoded),
	}
}

func writeHTTP(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
