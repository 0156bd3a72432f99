package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-turn/internal/domain"
)

const (
	attrUserID             = "UserID"
	attrMessages           = "Messages"
	attrVersion            = "Version"
	attrUpdatedAt          = "UpdatedAt"
	attrSystemPrompt       = "SystemPrompt"
	attrActiveMessageLimit = "ActiveMessageLimit"
	attrDailyRateLimit     = "DailyRateLimit"
	attrWhitelist          = "Whitelist"

	msgRole      = "role"
	msgContent   = "content"
	msgTimestamp = "timestamp"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client stores conversation history and per-user settings in two tables,
// both keyed by UserID.
type Client struct {
	api           dynamodbAPI
	messagesTable string
	promptsTable  string
}

// New creates a new repository Client.
func New(api dynamodbAPI, messagesTable, promptsTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(messagesTable) == "" {
		return nil, errors.New("repository: messages table name must not be empty")
	}
	if strings.TrimSpace(promptsTable) == "" {
		return nil, errors.New("repository: prompts table name must not be empty")
	}
	return &Client{api: api, messagesTable: messagesTable, promptsTable: promptsTable}, nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID: &types.AttributeValueMemberS{Value: userID},
	}
}

// GetHistory returns the user's full history, oldest first, and the version
// it was stored at. A user with nothing stored gets an empty history.
func (c *Client) GetHistory(ctx context.Context, userID string) (domain.History, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.messagesTable),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.History{}, fmt.Errorf("repository: GetHistory get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.History{}, nil
	}

	var h domain.History
	if _, ok := out.Item[attrVersion]; ok {
		v, err := intAttr(out.Item, attrVersion)
		if err != nil {
			return domain.History{}, fmt.Errorf("repository: GetHistory decode version: %w", err)
		}
		h.Version = int64(v)
	}

	raw, ok := out.Item[attrMessages]
	if !ok {
		return h, nil
	}
	list, ok := raw.(*types.AttributeValueMemberL)
	if !ok {
		return domain.History{}, fmt.Errorf("repository: attribute %q is not a list", attrMessages)
	}
	h.Messages = make([]domain.Message, 0, len(list.Value))
	for i, av := range list.Value {
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return domain.History{}, fmt.Errorf("repository: GetHistory message %d is not a map", i)
		}
		msg, err := itemToMessage(m.Value)
		if err != nil {
			return domain.History{}, fmt.Errorf("repository: GetHistory message %d: %w", i, err)
		}
		h.Messages = append(h.Messages, msg)
	}
	return h, nil
}

// PutHistory replaces the stored history in one write. The write only
// succeeds if the stored version still equals h.Version.
func (c *Client) PutHistory(ctx context.Context, userID string, h domain.History) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: PutHistory: user id is required")
	}

	msgs := make([]types.AttributeValue, 0, len(h.Messages))
	for _, m := range h.Messages {
		msgs = append(msgs, &types.AttributeValueMemberM{Value: messageItem(m)})
	}
	item := userKey(userID)
	item[attrMessages] = &types.AttributeValueMemberL{Value: msgs}
	item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(h.Version+1, 10)}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	in := &dynamodb.PutItemInput{
		TableName:                aws.String(c.messagesTable),
		Item:                     item,
		ExpressionAttributeNames: map[string]string{"#v": attrVersion},
	}
	if h.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(#v)")
	} else {
		in.ConditionExpression = aws.String("#v = :expected")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(h.Version, 10)},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %v", domain.ErrHistoryConflict, err)
		}
		return fmt.Errorf("repository: PutHistory: %w", err)
	}
	return nil
}

// GetUserConfig returns the user's overrides. Missing users and missing
// attributes leave the corresponding fields nil.
func (c *Client) GetUserConfig(ctx context.Context, userID string) (domain.UserConfig, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.promptsTable),
		Key:       userKey(userID),
	})
	if err != nil {
		return domain.UserConfig{}, fmt.Errorf("repository: GetUserConfig get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserConfig{}, nil
	}

	var cfg domain.UserConfig
	if s, err := strAttr(out.Item, attrSystemPrompt); err == nil && strings.TrimSpace(s) != "" {
		cfg.SystemPrompt = &s
	}
	if cfg.ActiveMessageLimit, err = optionalInt(out.Item, attrActiveMessageLimit); err != nil {
		return domain.UserConfig{}, fmt.Errorf("repository: GetUserConfig: %w", err)
	}
	if cfg.DailyRateLimit, err = optionalInt(out.Item, attrDailyRateLimit); err != nil {
		return domain.UserConfig{}, fmt.Errorf("repository: GetUserConfig: %w", err)
	}
	if v, ok := out.Item[attrWhitelist].(*types.AttributeValueMemberBOOL); ok {
		b := v.Value
		cfg.Whitelist = &b
	}
	return cfg, nil
}

// itemToMessage converts a stored message map to a Message. Timestamps that
// cannot be read are left zero rather than failing the whole history.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, msgRole)
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, msgContent) // allow empty

	return domain.Message{
		Role:      role,
		Content:   content,
		Timestamp: parseTimestamp(item[msgTimestamp]),
	}, nil
}

func messageItem(m domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		msgRole:    &types.AttributeValueMemberS{Value: m.Role},
		msgContent: &types.AttributeValueMemberS{Value: m.Content},
	}
	if !m.Timestamp.IsZero() {
		item[msgTimestamp] = &types.AttributeValueMemberS{Value: m.Timestamp.UTC().Format(time.RFC3339Nano)}
	}
	return item
}

// parseTimestamp accepts the canonical RFC 3339 form and the legacy Unix
// epoch seconds form, stored either as a string or a number.
func parseTimestamp(av types.AttributeValue) time.Time {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberN:
		raw = v.Value
	default:
		return time.Time{}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func optionalInt(item map[string]types.AttributeValue, key string) (*int, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	n, err := intAttr(item, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
