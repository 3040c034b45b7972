package journal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamoClient keeps items in memory keyed by pk and evaluates the
// two condition expressions the journal uses.
type mockDynamoClient struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	scanCalls int
	scanErr   error
}

func newMockDynamoClient() *mockDynamoClient {
	return &mockDynamoClient{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(item map[string]types.AttributeValue) string {
	return item["pk"].(*types.AttributeValueMemberS).Value
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (m *mockDynamoClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := pkOf(params.Item)
	if _, exists := m.items[pk]; exists && aws.ToString(params.ConditionExpression) == "attribute_not_exists(pk)" {
		return nil, conditionFailed()
	}
	item := make(map[string]types.AttributeValue, len(params.Item))
	for k, v := range params.Item {
		item[k] = v
	}
	m.items[pk] = item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, exists := m.items[pkOf(params.Key)]
	if !exists {
		return nil, conditionFailed()
	}
	// Every "#name = :name" assignment sets attribute name to value :name.
	for alias, attr := range params.ExpressionAttributeNames {
		item[attr] = params.ExpressionAttributeValues[":"+strings.TrimPrefix(alias, "#")]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: m.items[pkOf(params.Key)]}, nil
}

func (m *mockDynamoClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &dynamodb.ScanOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, m.items[k])
	}
	return out, nil
}

func newTestDynamoDB(t *testing.T) Journal {
	t.Helper()
	return NewDynamoDBWithClient(newMockDynamoClient(), "transfers")
}

func TestDynamoDBItemLayout(t *testing.T) {
	client := newMockDynamoClient()
	j := NewDynamoDBWithClient(client, "transfers")
	ctx := context.Background()

	if err := j.Begin(ctx, activeRecord("abc", baseTime)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	item, ok := client.items["TRANSFER#abc"]
	if !ok {
		t.Fatalf("item not stored under TRANSFER#abc: %v", client.items)
	}
	if sk := item["sk"].(*types.AttributeValueMemberS).Value; sk != "#METADATA" {
		t.Errorf("sk = %q", sk)
	}
	if started := item["started_at"].(*types.AttributeValueMemberS).Value; started != "2026-03-14T09:26:53.589Z" {
		t.Errorf("started_at = %q", started)
	}
	if _, ok := item["bytes"].(*types.AttributeValueMemberN); !ok {
		t.Errorf("bytes is %T, want a number attribute", item["bytes"])
	}
}

func TestDynamoDBBeginDuplicate(t *testing.T) {
	j := newTestDynamoDB(t)
	ctx := context.Background()
	if err := j.Begin(ctx, activeRecord("dup", baseTime)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err := j.Begin(ctx, activeRecord("dup", baseTime))
	if err == nil || !strings.Contains(err.Error(), "already recorded") {
		t.Errorf("second Begin = %v", err)
	}
}

func TestDynamoDBScanError(t *testing.T) {
	client := newMockDynamoClient()
	client.scanErr = errors.New("ProvisionedThroughputExceededException")
	j := NewDynamoDBWithClient(client, "transfers")

	if _, err := j.List(context.Background(), 10); err == nil {
		t.Fatal("List succeeded despite a scan failure")
	}
}
