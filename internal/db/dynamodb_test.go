package db

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in insertion order and ignores expressions other than
// the partition value and id filter used by DynamoErrorLog.
type fakeDynamo struct {
	items   []map[string]types.AttributeValue
	queries []*dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	want := in.ExpressionAttributeValues[":svc"].(*types.AttributeValueMemberS).Value

	var out []map[string]types.AttributeValue
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i][ERRORS_PARTITION].(*types.AttributeValueMemberS).Value == want {
			out = append(out, f.items[i])
		}
		if in.Limit != nil && len(out) == int(*in.Limit) {
			break
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	want := in.ExpressionAttributeValues[":id"].(*types.AttributeValueMemberS).Value
	for _, item := range f.items {
		if item["id"].(*types.AttributeValueMemberS).Value == want {
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{item}}, nil
		}
	}
	return &dynamodb.ScanOutput{}, nil
}

func TestDynamoErrorLogRoundTrip(t *testing.T) {
	fake := &fakeDynamo{}
	log := NewDynamoErrorLog(fake, "")
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status := 429

	records := []*models.ErrorRecord{
		{ID: "m1", Service: models.ServiceModeration, InputText: "a", ErrorMessage: "timeout", Timestamp: base},
		{ID: "s1", Service: models.ServiceSpamDetection, InputText: "b", ErrorMessage: "rate limited", StatusCode: &status, Timestamp: base.Add(time.Second)},
		{ID: "m2", Service: models.ServiceModeration, InputText: "c", ErrorMessage: "boom", Timestamp: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		require.NoError(t, log.InsertError(context.Background(), rec))
	}

	var stored struct {
		SK string `dynamodbav:"sk"`
	}
	require.NoError(t, attributevalue.UnmarshalMap(fake.items[0], &stored))
	assert.Equal(t, "2026-01-02T03:04:05.000000000Z#m1", stored.SK)

	all, err := log.ListErrors(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m2", all[0].ID)
	assert.Equal(t, "s1", all[1].ID)
	assert.Len(t, fake.queries, 2)
	assert.False(t, *fake.queries[0].ScanIndexForward)

	spam, err := log.ListErrors(context.Background(), models.ServiceSpamDetection, 50)
	require.NoError(t, err)
	require.Len(t, spam, 1)
	require.NotNil(t, spam[0].StatusCode)
	assert.Equal(t, 429, *spam[0].StatusCode)
	assert.True(t, spam[0].Timestamp.Equal(base.Add(time.Second)))

	got, err := log.GetError(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "timeout", got.ErrorMessage)
	assert.Nil(t, got.StatusCode)

	_, err = log.GetError(context.Background(), "missing")
	assert.ErrorIs(t, err, errorlog.ErrRecordNotFound)
}

func TestSortKeyOrdersWithinASecond(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	key := func(offset time.Duration) string {
		return sortKey(&models.ErrorRecord{ID: "x", Timestamp: base.Add(offset)})
	}

	ordered := []string{
		key(0),
		key(time.Millisecond),
		key(100 * time.Millisecond),
		key(120 * time.Millisecond),
		key(999999999 * time.Nanosecond),
		key(time.Second),
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
	}
	assert.Len(t, key(0), len(key(120*time.Millisecond)))

	local := time.Date(2026, 1, 2, 5, 4, 5, 0, time.FixedZone("EET", 2*60*60))
	assert.Equal(t, key(0), sortKey(&models.ErrorRecord{ID: "x", Timestamp: local}))
}
