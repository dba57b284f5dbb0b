package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"
)

// SNSPublisher is the subset of the SNS client used for SMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport sends transactional SMS through Amazon SNS.
type SNSTransport struct {
	client   SNSPublisher
	senderID string
	logger   *logrus.Logger
}

func NewSNSTransport(client SNSPublisher, senderID string, logger *logrus.Logger) *SNSTransport {
	return &SNSTransport{
		client:   client,
		senderID: senderID,
		logger:   logger,
	}
}

func (t *SNSTransport) Name() string {
	return "sns"
}

func (t *SNSTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if t.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(t.senderID),
		}
	}

	out, err := t.client.Publish(ctx, &sns.PublishInput{
		Message:           aws.String(msg.Body),
		PhoneNumber:       aws.String(msg.Recipient),
		MessageAttributes: attrs,
	})
	if err != nil {
		t.logger.WithError(err).WithField("job_id", msg.JobID).Error("SNS publish failed")
		return nil, fmt.Errorf("%w: sns publish: %w", ErrDeliveryFailed, err)
	}

	return &Receipt{
		Provider:          t.Name(),
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}
