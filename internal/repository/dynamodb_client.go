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

	"multichat/internal/domain"
)

const (
	pkPrefixChat = "CHAT#"
	pkPrefixUser = "USER#"
	skAggregate  = "AGGREGATE#"
	skProfile    = "PROFILE#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client stores conversation aggregates and user profiles in one table.
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

func chatKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefixChat + conversationID},
		"SK": &types.AttributeValueMemberS{Value: skAggregate},
	}
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefixUser + userID},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// GetConversation returns the stored aggregate, or nil when there is none.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*domain.Aggregate, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("repository: GetConversation: conversation id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            chatKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	agg, err := itemToAggregate(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return &agg, nil
}

// PutConversation replaces the aggregate only while the stored version equals
// expected. domain.NoStoredVersion requires that no aggregate exists yet. Any
// other stored state yields domain.ErrVersionConflict.
func (c *Client) PutConversation(ctx context.Context, agg domain.Aggregate, expected int64) error {
	if strings.TrimSpace(agg.ConversationID) == "" {
		return errors.New("repository: PutConversation: conversation id is required")
	}
	in := &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                aggregateItem(agg),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
	if expected != domain.NoStoredVersion {
		in.ConditionExpression = aws.String("version = :base")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":base": numAttr(expected),
		}
	}
	_, err := c.api.PutItem(ctx, in)
	if isConditionFailed(err) {
		return fmt.Errorf("repository: PutConversation expected version %d: %w", expected, domain.ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("repository: PutConversation: %w", err)
	}
	return nil
}

// GetProfile returns the user's profile, or nil for unknown users.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetProfile get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	p, err := itemToProfile(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetProfile decode: %w", err)
	}
	return &p, nil
}

// CreateProfile writes a new profile. An existing profile is left untouched.
func (c *Client) CreateProfile(ctx context.Context, p domain.UserProfile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("repository: CreateProfile: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                profileItem(p),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if isConditionFailed(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repository: CreateProfile: %w", err)
	}
	return nil
}

// UpdateSelection merges the selection preference into the user's profile,
// creating the item when it does not exist.
func (c *Client) UpdateSelection(ctx context.Context, userID string, selection domain.Selection) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: UpdateSelection: user id is required")
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              userKey(userID),
		UpdateExpression: aws.String("SET selectModelpref = :sel, userId = if_not_exists(userId, :uid)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sel": selectionAttr(selection),
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateSelection: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// encoding
// ---------------------------------------------------------------------------

func aggregateItem(agg domain.Aggregate) map[string]types.AttributeValue {
	item := chatKey(agg.ConversationID)
	item["chatId"] = &types.AttributeValueMemberS{Value: agg.ConversationID}
	item["userEmail"] = &types.AttributeValueMemberS{Value: agg.OwnerID}
	item["selection"] = selectionAttr(agg.Selection)
	item["messages"] = threadsAttr(agg.Threads)
	item["lastUpdated"] = &types.AttributeValueMemberS{Value: agg.LastUpdated.UTC().Format(time.RFC3339Nano)}
	item["version"] = numAttr(agg.Version)
	return item
}

func profileItem(p domain.UserProfile) map[string]types.AttributeValue {
	item := userKey(p.UserID)
	item["userId"] = &types.AttributeValueMemberS{Value: p.UserID}
	item["name"] = &types.AttributeValueMemberS{Value: p.Name}
	item["email"] = &types.AttributeValueMemberS{Value: p.Email}
	item["plan"] = &types.AttributeValueMemberS{Value: p.Plan}
	item["credits"] = numAttr(int64(p.Credits))
	item["remainingMsg"] = numAttr(int64(p.RemainingMsg))
	item["selectModelpref"] = selectionAttr(p.SelectModelPref)
	item["createdAt"] = &types.AttributeValueMemberS{Value: p.CreatedAt.UTC().Format(time.RFC3339)}
	return item
}

func selectionAttr(sel domain.Selection) types.AttributeValue {
	m := make(map[string]types.AttributeValue, len(sel))
	for family, e := range sel {
		m[family] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"familyId": &types.AttributeValueMemberS{Value: e.FamilyID},
			"enable":   &types.AttributeValueMemberBOOL{Value: e.Enabled},
			"modelId":  &types.AttributeValueMemberS{Value: e.SubModelID},
		}}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func threadsAttr(threads map[string]domain.Thread) types.AttributeValue {
	m := make(map[string]types.AttributeValue, len(threads))
	for family, thread := range threads {
		turns := make([]types.AttributeValue, 0, len(thread))
		for _, t := range thread {
			turns = append(turns, turnAttr(t))
		}
		m[family] = &types.AttributeValueMemberL{Value: turns}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func turnAttr(t domain.Turn) types.AttributeValue {
	m := map[string]types.AttributeValue{
		"role":    &types.AttributeValueMemberS{Value: t.Role},
		"content": &types.AttributeValueMemberS{Value: t.Content},
	}
	if t.SourceFamily != "" {
		m["model"] = &types.AttributeValueMemberS{Value: t.SourceFamily}
	}
	if t.Pending {
		m["loading"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	if t.ErrorCode != "" {
		m["errorCode"] = &types.AttributeValueMemberS{Value: t.ErrorCode}
	}
	if t.CreatedAt != 0 {
		m["createdAt"] = numAttr(t.CreatedAt)
	}
	return &types.AttributeValueMemberM{Value: m}
}

func numAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// ---------------------------------------------------------------------------
// decoding
// ---------------------------------------------------------------------------

func itemToAggregate(item map[string]types.AttributeValue) (domain.Aggregate, error) {
	id, err := strAttr(item, "chatId")
	if err != nil {
		return domain.Aggregate{}, err
	}
	owner, _ := strAttr(item, "userEmail") // allow empty
	version, err := int64Attr(item, "version")
	if err != nil {
		return domain.Aggregate{}, err
	}
	agg := domain.Aggregate{
		ConversationID: id,
		OwnerID:        owner,
		Version:        version,
		Selection:      domain.Selection{},
		Threads:        map[string]domain.Thread{},
	}
	if raw, _ := strAttr(item, "lastUpdated"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Aggregate{}, fmt.Errorf("repository: parse attribute %q: %w", "lastUpdated", err)
		}
		agg.LastUpdated = ts
	}
	if m, ok := item["selection"].(*types.AttributeValueMemberM); ok {
		if agg.Selection, err = decodeSelection(m.Value); err != nil {
			return domain.Aggregate{}, err
		}
	}
	if m, ok := item["messages"].(*types.AttributeValueMemberM); ok {
		for family, v := range m.Value {
			l, ok := v.(*types.AttributeValueMemberL)
			if !ok {
				return domain.Aggregate{}, fmt.Errorf("repository: thread %q is not a list", family)
			}
			thread := make(domain.Thread, 0, len(l.Value))
			for i, tv := range l.Value {
				tm, ok := tv.(*types.AttributeValueMemberM)
				if !ok {
					return domain.Aggregate{}, fmt.Errorf("repository: turn %d of %q is not a map", i, family)
				}
				turn, err := decodeTurn(tm.Value)
				if err != nil {
					return domain.Aggregate{}, fmt.Errorf("repository: turn %d of %q: %w", i, family, err)
				}
				thread = append(thread, turn)
			}
			agg.Threads[family] = thread
		}
	}
	return agg, nil
}

func itemToProfile(item map[string]types.AttributeValue) (domain.UserProfile, error) {
	id, err := strAttr(item, "userId")
	if err != nil {
		return domain.UserProfile{}, err
	}
	p := domain.UserProfile{UserID: id}
	p.Name, _ = strAttr(item, "name")
	p.Email, _ = strAttr(item, "email")
	p.Plan, _ = strAttr(item, "plan")
	if p.Plan == "" {
		p.Plan = domain.PlanFree
	}
	if _, ok := item["credits"]; ok {
		if p.Credits, err = intAttr(item, "credits"); err != nil {
			return domain.UserProfile{}, err
		}
	}
	if _, ok := item["remainingMsg"]; ok {
		if p.RemainingMsg, err = intAttr(item, "remainingMsg"); err != nil {
			return domain.UserProfile{}, err
		}
	}
	if m, ok := item["selectModelpref"].(*types.AttributeValueMemberM); ok {
		if p.SelectModelPref, err = decodeSelection(m.Value); err != nil {
			return domain.UserProfile{}, err
		}
	}
	if raw, _ := strAttr(item, "createdAt"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			p.CreatedAt = ts
		}
	}
	return p, nil
}

func decodeSelection(m map[string]types.AttributeValue) (domain.Selection, error) {
	sel := make(domain.Selection, len(m))
	for family, v := range m {
		em, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: selection %q is not a map", family)
		}
		entry := domain.SelectionEntry{FamilyID: family}
		if id, _ := strAttr(em.Value, "familyId"); id != "" {
			entry.FamilyID = id
		}
		entry.SubModelID, _ = strAttr(em.Value, "modelId")
		entry.Enabled = boolAttr(em.Value, "enable")
		sel[family] = entry
	}
	return sel, nil
}

func decodeTurn(m map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(m, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, _ := strAttr(m, "content") // allow empty
	t := domain.Turn{Role: role, Content: content}
	t.SourceFamily, _ = strAttr(m, "model")
	t.ErrorCode, _ = strAttr(m, "errorCode")
	t.Pending = boolAttr(m, "loading")
	if _, ok := m["createdAt"]; ok {
		if t.CreatedAt, err = int64Attr(m, "createdAt"); err != nil {
			return domain.Turn{}, err
		}
	}
	return t, nil
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

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	n, err := int64Attr(item, key)
	return int(n), err
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
