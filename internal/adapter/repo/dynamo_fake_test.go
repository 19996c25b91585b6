package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo understands the handful of expressions DynamoJobStore sends.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrString(item map[string]types.AttributeValue, name string) string {
	switch v := item[name].(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[attrString(in.Key, "job_id")]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := attrString(in.Item, "job_id")
	existing, exists := f.items[id]
	switch aws.ToString(in.ConditionExpression) {
	case dynamoCreateCondition:
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case dynamoUpdateCondition:
		if !exists || attrString(existing, "version") != attrString(in.ExpressionAttributeValues, ":expected") {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	case "":
	default:
		return nil, fmt.Errorf("fake dynamo: unsupported condition %q", aws.ToString(in.ConditionExpression))
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if aws.ToString(in.FilterExpression) != dynamoStaleFilter {
		return nil, fmt.Errorf("fake dynamo: unsupported filter %q", aws.ToString(in.FilterExpression))
	}
	status := attrString(in.ExpressionAttributeValues, ":status")
	cutoff := attrString(in.ExpressionAttributeValues, ":cutoff")

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if attrString(item, "status") == status && attrString(item, "lease_at") < cutoff {
			out = append(out, item)
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}
