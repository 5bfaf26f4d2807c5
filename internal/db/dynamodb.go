package db

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	ERRORS_TABLE_NAME  = "AIServiceErrors"
	ERRORS_SORT_KEY    = "sk"
	ERRORS_PARTITION   = "service"
	DYNAMO_SCAN_PAGES  = 20
	DYNAMO_PUT_RETRIES = 3

	// fixed width so keys sort lexically in time order
	SORT_KEY_TIME_LAYOUT = "2006-01-02T15:04:05.000000000Z"
)

// DynamoAPI is the part of *dynamodb.Client the error log uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoErrorLog keeps error records in a DynamoDB table partitioned by
// service and sorted by timestamp.
type DynamoErrorLog struct {
	client DynamoAPI
	table  string
}

func NewDynamoErrorLog(client DynamoAPI, table string) *DynamoErrorLog {
	if table == "" {
		table = ERRORS_TABLE_NAME
	}
	return &DynamoErrorLog{client: client, table: table}
}

// sortKey orders records by time and keeps records with equal timestamps apart.
func sortKey(rec *models.ErrorRecord) string {
	return rec.Timestamp.UTC().Format(SORT_KEY_TIME_LAYOUT) + "#" + rec.ID
}

func (d *DynamoErrorLog) InsertError(ctx context.Context, rec *models.ErrorRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("[DynamoDB] failed to marshal error record: %w", err)
	}
	item[ERRORS_SORT_KEY] = &types.AttributeValueMemberS{Value: sortKey(rec)}

	backoff := 100 * time.Millisecond
	for i := 0; ; i++ {
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.table),
			Item:      item,
		})
		if err == nil || i == DYNAMO_PUT_RETRIES-1 || ctx.Err() != nil {
			break
		}
		slog.Warn("[DynamoDB] Retrying error record write...",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		return fmt.Errorf("[DynamoDB] failed to put error record: %w", err)
	}
	return nil
}

func (d *DynamoErrorLog) ListErrors(ctx context.Context, service models.ClassifierService, limit int) ([]models.ErrorRecord, error) {
	services := []models.ClassifierService{service}
	if service == "" {
		services = []models.ClassifierService{models.ServiceModeration, models.ServiceSpamDetection}
	}

	records := []models.ErrorRecord{}
	for _, svc := range services {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			KeyConditionExpression: aws.String("#svc = :svc"),
			ExpressionAttributeNames: map[string]string{
				"#svc": ERRORS_PARTITION,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":svc": &types.AttributeValueMemberS{Value: string(svc)},
			},
			ScanIndexForward: aws.Bool(false),
			Limit:            aws.Int32(int32(limit)),
		})
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] failed to query error records: %w", err)
		}

		var page []models.ErrorRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("[DynamoDB] failed to unmarshal error records: %w", err)
		}
		records = append(records, page...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetError scans for the id. The table is keyed for listing, not lookup.
func (d *DynamoErrorLog) GetError(ctx context.Context, id string) (*models.ErrorRecord, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.table),
		FilterExpression: aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
	}

	for page := 0; page < DYNAMO_SCAN_PAGES; page++ {
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] failed to scan error records: %w", err)
		}
		if len(out.Items) > 0 {
			var rec models.ErrorRecord
			if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
				return nil, fmt.Errorf("[DynamoDB] failed to unmarshal error record: %w", err)
			}
			return &rec, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return nil, errorlog.ErrRecordNotFound
}
