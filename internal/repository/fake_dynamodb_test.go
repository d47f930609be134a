package repository

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo understands only the item shapes and expressions the repositories use.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error

	// deadline of the last GetItem context, zero if it had none.
	deadline time.Time
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline, _ = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	key := itemKey(in.Item)
	if existing, ok := f.items[key]; ok && in.ConditionExpression != nil {
		if !expiredBefore(existing, in.ExpressionAttributeValues[":now"]) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		item = map[string]types.AttributeValue{}
		for k, v := range in.Key {
			item[k] = v
		}
		f.items[itemKey(in.Key)] = item
	}

	assignments := strings.TrimPrefix(aws.ToString(in.UpdateExpression), "SET ")
	for _, assignment := range strings.Split(assignments, ",") {
		name, placeholder, _ := strings.Cut(strings.TrimSpace(assignment), " = ")
		item[name] = in.ExpressionAttributeValues[placeholder]
	}

	return &dynamodb.UpdateItemOutput{}, nil
}

func expiredBefore(item map[string]types.AttributeValue, now types.AttributeValue) bool {
	nowAttr, ok := now.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttlAttr, ok := item["TTL"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, _ := strconv.ParseInt(ttlAttr.Value, 10, 64)
	nowUnix, _ := strconv.ParseInt(nowAttr.Value, 10, 64)
	return ttl < nowUnix
}
