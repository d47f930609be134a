package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoRevocationStore keeps revocation markers as single-table items with a
// TTL attribute. DynamoDB evicts expired items lazily, so reads compare the
// TTL against the clock themselves.
type DynamoRevocationStore struct {
	client    DynamoDBAPI
	tableName string
	timeout   time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

func NewDynamoRevocationStore(client DynamoDBAPI, tableName string, timeout time.Duration, logger *logrus.Logger) *DynamoRevocationStore {
	return &DynamoRevocationStore{
		client:    client,
		tableName: tableName,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *DynamoRevocationStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.item(key, ttl),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store revocation marker in DynamoDB")
		return fmt.Errorf("failed to mark token as revoked: %w", err)
	}

	return nil
}

func (s *DynamoRevocationStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// An item that outlived its TTL but was not evicted yet does not count.
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                s.item(key, ttl),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim revocation marker: %w", err)
	}

	return true, nil
}

func (s *DynamoRevocationStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            revokedKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check revocation marker: %w", err)
	}

	if result.Item == nil {
		return false, nil
	}

	ttlAttr, ok := result.Item["TTL"].(*types.AttributeValueMemberN)
	if !ok {
		return true, nil
	}
	expiresAt, err := strconv.ParseInt(ttlAttr.Value, 10, 64)
	if err != nil {
		return true, nil
	}

	return expiresAt >= s.now().Unix(), nil
}

func (s *DynamoRevocationStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       revokedKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete revocation marker: %w", err)
	}

	return nil
}

func (s *DynamoRevocationStore) item(key string, ttl time.Duration) map[string]types.AttributeValue {
	now := s.now()
	item := revokedKey(key)
	item["RevokedAt"] = &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)}
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)}
	return item
}

func (s *DynamoRevocationStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func revokedKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("REVOKED#%s", key)},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}
