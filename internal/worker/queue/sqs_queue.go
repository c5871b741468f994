package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSClient is the part of *sqs.Client the queue uses.
type SQSClient interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue long-polls one message at a time. Messages stay invisible while
// a job runs and are deleted on Ack, so a crashed worker's job reappears.
type SQSQueue struct {
	client            SQSClient
	queueURL          string
	resultURL         string
	waitSeconds       int32
	visibilityTimeout int32
}

func NewSQSQueue(client SQSClient, queueURL, resultURL string) *SQSQueue {
	return &SQSQueue{
		client:            client,
		queueURL:          queueURL,
		resultURL:         resultURL,
		waitSeconds:       20,
		visibilityTimeout: 300,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	return err
}

func (q *SQSQueue) Receive(ctx context.Context) (*Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.waitSeconds,
		VisibilityTimeout:   q.visibilityTimeout,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	d := decode(aws.ToString(m.Body))
	receipt := aws.ToString(m.ReceiptHandle)
	d.ack = func(ctx context.Context) error {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: aws.String(receipt),
		})
		return err
	}
	return d, nil
}

func (q *SQSQueue) Publish(ctx context.Context, res Result) error {
	if q.resultURL == "" {
		return nil
	}
	body, err := encode(res)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.resultURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to result queue: %w", err)
	}
	return nil
}

func (q *SQSQueue) Ping(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
	})
	return err
}
