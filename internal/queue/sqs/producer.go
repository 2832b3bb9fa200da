package sqsqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// DispatchJob is the unit of queued work for one broadcast. Delivery is
// at-least-once; the worker is an idempotent consumer.
type DispatchJob struct {
	MessageID    string   `json:"messageId"`
	BusinessID   string   `json:"businessId"`
	RecipientIDs []string `json:"recipientIds"`
}

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

func (p *Producer) EnqueueDispatch(ctx context.Context, job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
