package journal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bleepstore/s3pipe/internal/config"
)

// dynamoAPI is the subset of the DynamoDB client the journal uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB is a Journal stored in a DynamoDB table keyed by the string
// attributes pk and sk.
type DynamoDB struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoDB creates a journal using the default AWS credential chain.
func NewDynamoDB(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoDB, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return NewDynamoDBWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewDynamoDBWithClient creates a journal with a pre-configured client.
// This is primarily useful for testing with mock clients.
func NewDynamoDBWithClient(client dynamoAPI, table string) *DynamoDB {
	return &DynamoDB{client: client, tableName: table}
}

func pkTransfer(id string) string {
	return "TRANSFER#" + id
}

func skMetadata() string {
	return "#METADATA"
}

func (j *DynamoDB) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pkTransfer(id)},
		"sk": &types.AttributeValueMemberS{Value: skMetadata()},
	}
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// Begin implements Journal.
func (j *DynamoDB) Begin(ctx context.Context, rec *Record) error {
	item := j.key(rec.ID)
	item["type"] = &types.AttributeValueMemberS{Value: "transfer"}
	item["id"] = &types.AttributeValueMemberS{Value: rec.ID}
	item["destination"] = &types.AttributeValueMemberS{Value: rec.Destination}
	item["provider"] = &types.AttributeValueMemberS{Value: rec.Provider}
	item["variant"] = &types.AttributeValueMemberS{Value: rec.Variant}
	item["state"] = &types.AttributeValueMemberS{Value: string(rec.State)}
	item["bytes"] = numberAttr(rec.Bytes)
	item["parts"] = numberAttr(rec.Parts)
	item["error"] = &types.AttributeValueMemberS{Value: rec.Error}
	item["started_at"] = &types.AttributeValueMemberS{Value: rec.StartedAt.UTC().Format(timeFormat)}

	_, err := j.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("transfer already recorded: %s", rec.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Finish implements Journal.
func (j *DynamoDB) Finish(ctx context.Context, rec *Record) error {
	_, err := j.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(j.tableName),
		Key:                 j.key(rec.ID),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		UpdateExpression:    aws.String("SET #state = :state, #bytes = :bytes, #parts = :parts, #error = :error, #finished = :finished"),
		ExpressionAttributeNames: map[string]string{
			"#state":    "state",
			"#bytes":    "bytes",
			"#parts":    "parts",
			"#error":    "error",
			"#finished": "finished_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state":    &types.AttributeValueMemberS{Value: string(rec.State)},
			":bytes":    numberAttr(rec.Bytes),
			":parts":    numberAttr(rec.Parts),
			":error":    &types.AttributeValueMemberS{Value: rec.Error},
			":finished": &types.AttributeValueMemberS{Value: rec.FinishedAt.UTC().Format(timeFormat)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Journal.
func (j *DynamoDB) Get(ctx context.Context, id string) (*Record, error) {
	resp, err := j.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(j.tableName),
		Key:            j.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("reading transfer %s: %w", id, err)
	}
	if len(resp.Item) == 0 {
		return nil, ErrNotFound
	}
	return itemToRecord(resp.Item)
}

// List implements Journal. The table has no index on started_at, so every
// transfer item is scanned and sorted in memory.
func (j *DynamoDB) List(ctx context.Context, limit int) ([]Record, error) {
	paginator := dynamodb.NewScanPaginator(j.client, &dynamodb.ScanInput{
		TableName:        aws.String(j.tableName),
		FilterExpression: aws.String("#type = :type"),
		ExpressionAttributeNames: map[string]string{
			"#type": "type",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":type": &types.AttributeValueMemberS{Value: "transfer"},
		},
	})

	var records []Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing transfers: %w", err)
		}
		for _, item := range page.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close implements Journal.
func (j *DynamoDB) Close() error {
	return nil
}

func itemToRecord(item map[string]types.AttributeValue) (*Record, error) {
	str := func(name string) string {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	num := func(name string) (int64, error) {
		v, ok := item[name].(*types.AttributeValueMemberN)
		if !ok {
			return 0, nil
		}
		return strconv.ParseInt(v.Value, 10, 64)
	}

	rec := &Record{
		ID:          str("id"),
		Destination: str("destination"),
		Provider:    str("provider"),
		Variant:     str("variant"),
		State:       State(str("state")),
		Error:       str("error"),
	}
	var err error
	if rec.Bytes, err = num("bytes"); err != nil {
		return nil, fmt.Errorf("parsing bytes of transfer %s: %w", rec.ID, err)
	}
	if rec.Parts, err = num("parts"); err != nil {
		return nil, fmt.Errorf("parsing parts of transfer %s: %w", rec.ID, err)
	}
	if rec.StartedAt, err = parseTime(str("started_at")); err != nil {
		return nil, err
	}
	if rec.FinishedAt, err = parseTime(str("finished_at")); err != nil {
		return nil, err
	}
	return rec, nil
}

// parseTime parses a timeFormat timestamp. An empty string is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
