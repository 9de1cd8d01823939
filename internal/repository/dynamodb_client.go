package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"order-concierge/internal/domain"
)

const (
	pkPrefixChat = "CHAT#"
	skSession    = "SESSION#"
	ttlDuration  = 7 * 24 * time.Hour
	batchLimit   = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the DynamoDB tables holding conversation sessions and stock.
type Client struct {
	api          dynamodbAPI
	sessionTable string
	stockTable   string
}

// New creates a new repository Client. stockTable may be empty when only
// session persistence is needed.
func New(api dynamodbAPI, sessionTable, stockTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(sessionTable) == "" {
		return nil, errors.New("repository: session table name must not be empty")
	}
	return &Client{api: api, sessionTable: sessionTable, stockTable: stockTable}, nil
}

// chatPK returns the DynamoDB partition key for a chat.
func chatPK(chatID string) string {
	return pkPrefixChat + chatID
}

func sessionKey(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: chatPK(chatID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

// Load returns the stored session for chatID, or domain.ErrNotFound.
func (c *Client) Load(ctx context.Context, chatID string) (*domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.sessionTable),
		Key:            sessionKey(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, domain.ErrNotFound
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Load decode: %w", err)
	}
	return s, nil
}

// Save writes s guarded by its version: a new session must not exist yet and
// an existing one must still carry the version it was read with. On success
// s.Version is advanced. A lost race returns domain.ErrConflict.
func (c *Client) Save(ctx context.Context, s *domain.Session) error {
	if s == nil || s.ChatID == "" {
		return errors.New("repository: Save: chat id is required")
	}
	next := s.Clone()
	next.Version = s.Version + 1
	item, err := sessionItem(next)
	if err != nil {
		return fmt.Errorf("repository: Save encode: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.sessionTable),
		Item:      item,
	}
	if s.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Version, 10)},
		}
	}
	if _, err := c.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrConflict
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	s.Version = next.Version
	return nil
}

// Delete removes the session for chatID if it still carries version.
// Deleting a missing session is not an error; a session written since it was
// read returns domain.ErrConflict.
func (c *Client) Delete(ctx context.Context, chatID string, version int64) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.sessionTable),
		Key:                 sessionKey(chatID),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrConflict
		}
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// All scans every stored session, used to resume conversations on restart.
func (c *Client) All(ctx context.Context) ([]*domain.Session, error) {
	var (
		sessions []*domain.Session
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.sessionTable),
			FilterExpression: aws.String("SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sk": &types.AttributeValueMemberS{Value: skSession},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: All scan: %w", err)
		}
		for _, item := range out.Items {
			s, err := itemToSession(item)
			if err != nil {
				return nil, fmt.Errorf("repository: All decode: %w", err)
			}
			sessions = append(sessions, s)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return sessions, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Snapshot writes sessions and deletes gone chat ids without version checks.
// The in-memory store is authoritative in server mode; this only has to be
// recent enough to resume after a restart.
func (c *Client) Snapshot(ctx context.Context, sessions []*domain.Session, gone []string) error {
	reqs := make([]types.WriteRequest, 0, len(sessions)+len(gone))
	for _, s := range sessions {
		item, err := sessionItem(s)
		if err != nil {
			return fmt.Errorf("repository: Snapshot encode %q: %w", s.ChatID, err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	for _, id := range gone {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: sessionKey(id)}})
	}
	for start := 0; start < len(reqs); start += batchLimit {
		end := min(start+batchLimit, len(reqs))
		pending := map[string][]types.WriteRequest{c.sessionTable: reqs[start:end]}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == 3 {
				return fmt.Errorf("repository: Snapshot: %d writes left unprocessed", len(pending[c.sessionTable]))
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("repository: Snapshot: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// ttlValue returns a Unix timestamp a week after the last activity, so
// abandoned conversations age out of the table.
func ttlValue(last time.Time) int64 {
	return last.Add(ttlDuration).Unix()
}

func sessionItem(s *domain.Session) (map[string]types.AttributeValue, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: chatPK(s.ChatID)},
		"SK":           &types.AttributeValueMemberS{Value: skSession},
		"chatId":       &types.AttributeValueMemberS{Value: s.ChatID},
		"state":        &types.AttributeValueMemberS{Value: s.State.String()},
		"session":      &types.AttributeValueMemberS{Value: string(blob)},
		"version":      &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Version, 10)},
		"lastActivity": &types.AttributeValueMemberS{Value: s.LastActivity.UTC().Format(time.RFC3339)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(s.LastActivity))},
	}, nil
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	blob, err := strAttr(item, "session")
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("repository: unmarshal session: %w", err)
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return nil, err
	}
	s.Version = int64(version)
	if s.PendingOrder == nil {
		s.PendingOrder = map[string]int{}
	}
	return &s, nil
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

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && v.Value
}
