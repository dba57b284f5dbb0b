package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the repository.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

const reportRetention = 24 * time.Hour

type DeliveryReportRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDeliveryReportRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DeliveryReportRepository {
	return &DeliveryReportRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func reportPK(phoneNumber string) string {
	return fmt.Sprintf("DELIVERY#%s", phoneNumber)
}

func reportSK(report models.DeliveryReport) string {
	return fmt.Sprintf("JOB#%s#%s", report.EnqueuedAt.UTC().Format(time.RFC3339Nano), report.JobID)
}

// Record stores a delivery outcome with a TTL so DynamoDB expires it after a day.
func (r *DeliveryReportRepository) Record(ctx context.Context, report models.DeliveryReport) error {
	item, err := attributevalue.MarshalMap(report)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery report: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: reportPK(report.PhoneNumber)}
	item["SK"] = &types.AttributeValueMemberS{Value: reportSK(report)}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", report.CompletedAt.Add(reportRetention).Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store delivery report in DynamoDB")
		return fmt.Errorf("failed to store delivery report: %w", err)
	}

	return nil
}

// ListByPhone returns the newest delivery reports for phoneNumber.
func (r *DeliveryReportRepository) ListByPhone(ctx context.Context, phoneNumber string, limit int32) ([]models.DeliveryReport, error) {
	if limit <= 0 {
		limit = 10
	}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: reportPK(phoneNumber)},
			":prefix": &types.AttributeValueMemberS{Value: "JOB#"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery reports: %w", err)
	}

	reports := make([]models.DeliveryReport, 0, len(result.Items))
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &reports); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery reports: %w", err)
	}

	return reports, nil
}
