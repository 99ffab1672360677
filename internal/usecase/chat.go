package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"farm-assistant/internal/domain"
	"farm-assistant/internal/repository"
	"farm-assistant/internal/webhook"
)

const (
	defaultMaxMessage   = 2000
	defaultHistoryLimit = 20
	anonymousUser       = "anonymous"
	sessionContextKey   = "sessionId"
	timestampLayout     = "2006-01-02T15:04:05.000Z07:00"
)

// WebhookSender performs one webhook round trip. *webhook.Client satisfies it.
type WebhookSender interface {
	Send(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// ConversationStore is the conversation log. *repository.Client satisfies it.
type ConversationStore interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	GetLatestMessage(ctx context.Context, conversationID string) (domain.Message, bool, error)
	SaveExchange(ctx context.Context, ex repository.Exchange) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService validates chat input, calls the webhook once per message and
// records the exchange.
type ChatService struct {
	sender        WebhookSender
	store         ConversationStore
	maxMessageLen int
	historyLimit  int
	logger        *zap.Logger
}

type ChatInput struct {
	Message        string
	UserID         string
	ConversationID string
	Context        map[string]any
}

type ChatOutput struct {
	Response       domain.ChatResponse
	ConversationID string
}

type RegenerateInput struct {
	ConversationID string
	UserID         string
	Context        map[string]any
}

// NewChatService wires the service. store may be nil, which disables the
// conversation log along with History and Regenerate.
func NewChatService(sender WebhookSender, store ConversationStore, maxMessageLen, historyLimit int, logger *zap.Logger) (*ChatService, error) {
	if sender == nil {
		return nil, errors.New("usecase: webhook sender must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sender:        sender,
		store:         store,
		maxMessageLen: maxMessageLen,
		historyLimit:  historyLimit,
		logger:        logger,
	}, nil
}

// Chat sends one message. Degraded replies (aborted, fallback, malformed)
// come back as output; only webhook HTTP errors and unreachable-without-
// fallback failures are returned as errors.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = anonymousUser
	}

	req := domain.ChatRequest{
		Message:   message,
		Timestamp: now().UTC().Format(timestampLayout),
		UserID:    userID,
		Context:   requestContext(in.Context, convID),
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return ChatOutput{}, classifySendError(err)
	}

	log := s.logger.With(zap.String("conversationId", convID), zap.String("outcome", resp.Outcome()))
	if resp.Error == domain.ErrorAborted {
		log.Info("chat request cancelled")
	} else {
		s.record(ctx, log, repository.Exchange{
			ConversationID: convID,
			UserID:         userID,
			Question:       message,
			Answer:         resp.Text,
			Outcome:        resp.Outcome(),
		})
	}

	return ChatOutput{Response: resp, ConversationID: convID}, nil
}

// Regenerate resends the latest user message of a conversation as a fresh,
// independent call.
func (s *ChatService) Regenerate(ctx context.Context, in RegenerateInput) (ChatOutput, error) {
	if s.store == nil {
		return ChatOutput{}, newError(ErrorNotImplemented, "conversation_log_disabled", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	last, ok, err := s.store.GetLatestMessage(ctx, convID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if !ok || strings.TrimSpace(last.Text) == "" {
		return ChatOutput{}, newError(ErrorNotFound, "no_previous_message", nil)
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = last.UserID
	}
	return s.Chat(ctx, ChatInput{
		Message:        last.Text,
		UserID:         userID,
		ConversationID: convID,
		Context:        in.Context,
	})
}

// History returns the recorded exchanges of a conversation, oldest first.
func (s *ChatService) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if s.store == nil {
		return nil, newError(ErrorNotImplemented, "conversation_log_disabled", nil)
	}
	convID := strings.TrimSpace(conversationID)
	if convID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	msgs, err := s.store.GetHistory(ctx, convID, s.historyLimit)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	return msgs, nil
}

// record persists an exchange. Failures are logged and never change the
// reply already produced.
func (s *ChatService) record(ctx context.Context, log *zap.Logger, ex repository.Exchange) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveExchange(ctx, ex); err != nil {
		log.Warn("save conversation exchange", zap.Error(err))
	}
}

func classifySendError(err error) *Error {
	var netErr *webhook.NetworkError
	if errors.As(err, &netErr) {
		return newError(ErrorUpstream, "webhook_unreachable", err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == 429 {
			return newError(ErrorRateLimited, "webhook_rate_limited", err)
		}
		return newError(ErrorUpstream, "webhook_http_error", err)
	}
	return newError(ErrorInternal, "webhook_request_error", err)
}

// requestContext copies the caller's context and tags it with the
// conversation ID so the workflow can keep per-session memory.
func requestContext(in map[string]any, convID string) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	if _, ok := out[sessionContextKey]; !ok {
		out[sessionContextKey] = convID
	}
	return out
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
