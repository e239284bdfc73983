package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	appconfig "github.com/rubickcz/smsgate/internal/config"
	"github.com/rubickcz/smsgate/internal/domain"
)

// snsAPI is the subset of the SNS client the backend calls, kept narrow
// so tests can substitute a fake.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSBackend publishes messages through AWS SNS. SNS accepts a message
// and never exposes a delivery status query, so the backend reports
// SENT on success and does not implement CheckDelivery.
type SNSBackend struct {
	client   snsAPI
	senderID string
}

func NewSNSBackend(ctx context.Context, cfg appconfig.SNSConfig) (*SNSBackend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: sns region is required", domain.ErrConfiguration)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", domain.ErrConfiguration, err)
	}

	var opts []func(*sns.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewSNSBackendWithClient(sns.NewFromConfig(awsCfg, opts...), cfg.SenderID), nil
}

func NewSNSBackendWithClient(client snsAPI, senderID string) *SNSBackend {
	return &SNSBackend{client: client, senderID: senderID}
}

func (b *SNSBackend) Name() string { return "sns" }

func (b *SNSBackend) Publish(ctx context.Context, msg domain.Message) (*SendResult, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}

	senderID := b.senderID
	if msg.Sender != nil && *msg.Sender != "" {
		senderID = *msg.Sender
	}
	if senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(senderID),
		}
	}

	out, err := b.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.Recipient),
		Message:           aws.String(msg.Content),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, &SendError{
			Message: "sns publish failed",
			Cause:   err,
		}
	}

	result := &SendResult{
		State:  domain.StateSent,
		Sender: senderID,
	}
	if out != nil && out.MessageId != nil {
		result.ExternalID = *out.MessageId
	}
	return result, nil
}
