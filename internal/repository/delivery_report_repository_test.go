package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	put      *dynamodb.PutItemInput
	query    *dynamodb.QueryInput
	items    []map[string]types.AttributeValue
	putErr   error
	queryErr error
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = params
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items = append(f.items, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.query = params
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

func newTestRepo(client DynamoDBAPI) *DeliveryReportRepository {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewDeliveryReportRepository(client, "OTPTable", logger)
}

func sampleReport() models.DeliveryReport {
	enqueued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return models.DeliveryReport{
		JobID:             "job-1",
		PhoneNumber:       "9876543210",
		Status:            models.DeliveryStatusSent,
		Provider:          "simulated",
		ProviderMessageID: "sim-1",
		EnqueuedAt:        enqueued,
		CompletedAt:       enqueued.Add(2 * time.Second),
		DurationMs:        2000,
	}
}

func TestRecord_WritesKeysAndTTL(t *testing.T) {
	client := &fakeDynamo{}
	repo := newTestRepo(client)
	report := sampleReport()

	require.NoError(t, repo.Record(context.Background(), report))

	require.NotNil(t, client.put)
	assert.Equal(t, "OTPTable", aws.ToString(client.put.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "DELIVERY#9876543210"}, client.put.Item["PK"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "JOB#2026-01-01T12:00:00Z#job-1"}, client.put.Item["SK"])

	ttl, ok := client.put.Item["TTL"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1767355202", ttl.Value)

	var stored models.DeliveryReport
	require.NoError(t, attributevalue.UnmarshalMap(client.put.Item, &stored))
	assert.Equal(t, report.ProviderMessageID, stored.ProviderMessageID)
	assert.Equal(t, report.Status, stored.Status)
}

func TestRecord_PutError(t *testing.T) {
	repo := newTestRepo(&fakeDynamo{putErr: errors.New("throttled")})

	err := repo.Record(context.Background(), sampleReport())
	assert.ErrorContains(t, err, "failed to store delivery report")
}

func TestListByPhone(t *testing.T) {
	client := &fakeDynamo{}
	repo := newTestRepo(client)
	require.NoError(t, repo.Record(context.Background(), sampleReport()))

	reports, err := repo.ListByPhone(context.Background(), "9876543210", 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "job-1", reports[0].JobID)

	require.NotNil(t, client.query)
	assert.Equal(t, int32(10), aws.ToInt32(client.query.Limit))
	assert.False(t, aws.ToBool(client.query.ScanIndexForward))
}
