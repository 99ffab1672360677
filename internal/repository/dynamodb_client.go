package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"farm-assistant/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// Fixed-width fraction so sort keys order lexically by time.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	StatusComplete = "complete"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Exchange is one user message and the reply shown for it.
type Exchange struct {
	ConversationID string
	UserID         string
	Question       string
	Answer         string
	Outcome        string
}

// Client wraps a DynamoDB table holding the chat conversation log.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(skTimeLayout)
}

func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetHistory returns up to limit of the most recent exchanges, oldest first.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	out, err := c.queryMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetLatestMessage returns the newest exchange of a conversation. The boolean
// is false when the conversation has none.
func (c *Client) GetLatestMessage(ctx context.Context, conversationID string) (domain.Message, bool, error) {
	out, err := c.queryMessages(ctx, conversationID, 1)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("repository: GetLatestMessage query: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.Message{}, false, nil
	}
	msg, err := itemToMessage(out.Items[0])
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("repository: GetLatestMessage unmarshal: %w", err)
	}
	return msg, true, nil
}

// queryMessages reads MSG# items newest first so LIMIT keeps the most recent.
func (c *Client) queryMessages(ctx context.Context, conversationID string, limit int) (*dynamodb.QueryOutput, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return out, nil
}

// SaveTurn writes the message and bumps the conversation metadata in one
// transaction. turns is incremented server-side with ADD.
func (c *Client) SaveTurn(ctx context.Context, msg domain.Message, meta domain.ConversationMeta) error {
	if msg.PK == "" || msg.SK == "" {
		return errors.New("repository: SaveTurn: message PK and SK are required")
	}
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveTurn: meta PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: metaUpdate(c.tableName, meta),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveExchange records a completed exchange as the next turn of its
// conversation.
func (c *Client) SaveExchange(ctx context.Context, ex Exchange) error {
	if strings.TrimSpace(ex.ConversationID) == "" {
		return errors.New("repository: SaveExchange: conversation ID is required")
	}
	msg := NewMessage(ex.ConversationID, ex.UserID, ex.Question, StatusComplete)
	msg.Answer = ex.Answer
	msg.Outcome = ex.Outcome
	meta := NewConversationMeta(ex.ConversationID, ex.UserID)
	if err := c.SaveTurn(ctx, msg, meta); err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

// NewMessage constructs a Message keyed by conversation and current time.
func NewMessage(conversationID, userID, text, status string) domain.Message {
	now := time.Now().UTC()
	return domain.Message{
		PK:             convPK(conversationID),
		SK:             msgSK(now),
		ConversationID: conversationID,
		UserID:         userID,
		Text:           text,
		Status:         status,
		CreatedAt:      now.Format(time.RFC3339),
		TTL:            ttlValue(),
	}
}

// NewConversationMeta constructs a ConversationMeta record.
func NewConversationMeta(conversationID, userID string) domain.ConversationMeta {
	return domain.ConversationMeta{
		PK:             convPK(conversationID),
		SK:             skMeta,
		ConversationID: conversationID,
		UserID:         userID,
		LastActivity:   time.Now().UTC().Format(time.RFC3339),
		TTL:            ttlValue(),
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	// Optional attributes.
	conversationID, _ := strAttr(item, "conversationId")
	userID, _ := strAttr(item, "userId")
	answer, _ := strAttr(item, "answer")
	outcome, _ := strAttr(item, "outcome")
	status, _ := strAttr(item, "status")
	createdAt, _ := strAttr(item, "createdAt")

	return domain.Message{
		PK:             pk,
		SK:             sk,
		ConversationID: conversationID,
		UserID:         userID,
		Text:           text,
		Answer:         answer,
		Outcome:        outcome,
		Status:         status,
		CreatedAt:      createdAt,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msg.PK},
		"SK":             &types.AttributeValueMemberS{Value: msg.SK},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"userId":         &types.AttributeValueMemberS{Value: msg.UserID},
		"text":           &types.AttributeValueMemberS{Value: msg.Text},
		"answer":         &types.AttributeValueMemberS{Value: msg.Answer},
		"outcome":        &types.AttributeValueMemberS{Value: msg.Outcome},
		"status":         &types.AttributeValueMemberS{Value: msg.Status},
		"createdAt":      &types.AttributeValueMemberS{Value: msg.CreatedAt},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
}

func metaUpdate(tableName string, meta domain.ConversationMeta) *types.Update {
	return &types.Update{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: meta.PK},
			"SK": &types.AttributeValueMemberS{Value: meta.SK},
		},
		UpdateExpression: aws.String("SET conversationId = :cid, userId = :uid, lastActivity = :ts, #ttl = :ttl ADD turns :one"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: meta.ConversationID},
			":uid": &types.AttributeValueMemberS{Value: meta.UserID},
			":ts":  &types.AttributeValueMemberS{Value: meta.LastActivity},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
