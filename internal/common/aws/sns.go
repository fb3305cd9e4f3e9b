// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cleaner-dispatch/internal/common/logger"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher is the part of the SNS API the notifier needs.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client *sns.Client
}

func NewSNSClient(ctx context.Context, region string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{client: sns.NewFromConfig(cfg)}, nil
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return s.client.Publish(ctx, input, optFns...)
}

// OfferEvent is the machine-readable payload of a "job.offered" notification.
type OfferEvent struct {
	Event        string    `json:"event"`
	AssignmentID string    `json:"assignmentId"`
	JobID        string    `json:"jobId"`
	ContractorID string    `json:"contractorId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

const EventJobOffered = "job.offered"

// OfferNotifier publishes offer events to a topic. Delivery is best effort.
type OfferNotifier struct {
	publisher SNSPublisher
	topicARN  string
	logger    logger.Logger
}

func NewOfferNotifier(publisher SNSPublisher, topicARN string, log logger.Logger) *OfferNotifier {
	return &OfferNotifier{publisher: publisher, topicARN: topicARN, logger: log}
}

// NotifyOffered publishes one event per offer and logs failures instead of returning them.
func (n *OfferNotifier) NotifyOffered(ctx context.Context, events []OfferEvent) {
	for _, ev := range events {
		ev.Event = EventJobOffered
		if err := n.publish(ctx, ev); err != nil {
			n.logger.Warn("offer notification failed", map[string]interface{}{
				"jobId":        ev.JobID,
				"contractorId": ev.ContractorID,
				"error":        err,
			})
		}
	}
}

func (n *OfferNotifier) publish(ctx context.Context, ev OfferEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal offer event: %w", err)
	}

	_, err = n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.topicARN),
		Message:  awssdk.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: awssdk.String("String"), StringValue: awssdk.String(ev.Event)},
			"contractorId": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(ev.ContractorID),
			},
		},
	})
	return err
}
