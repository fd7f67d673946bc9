package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

const (
	sqsWaitSeconds  int32 = 20
	sqsReceiveRetry       = time.Second
)

// SQSAPI is the subset of the SQS client used by SQSDriver.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSDriver maps named queues onto SQS queues. Messages are received one at a time;
// a failed handler resets visibility so the message is redelivered.
type SQSDriver struct {
	api    SQSAPI
	logger *zap.Logger
	wait   int32

	mu   sync.RWMutex
	urls map[string]string
}

var _ Driver = (*SQSDriver)(nil)

// NewSQSDriver wraps an SQS client.
func NewSQSDriver(api SQSAPI, logger *zap.Logger) *SQSDriver {
	if logger == nil {
		logger = zap.L()
	}
	return &SQSDriver{api: api, logger: logger, wait: sqsWaitSeconds, urls: make(map[string]string)}
}

// DialSQS loads the default AWS configuration for region. A non-empty endpoint
// overrides the service endpoint (LocalStack, ElasticMQ).
func DialSQS(region, endpoint string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Driver, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		return NewSQSDriver(client, logger), nil
	}
}

func (d *SQSDriver) Declare(ctx context.Context, queue string) error {
	out, err := d.api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queue)})
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	if out.QueueUrl == nil {
		return errors.New("create queue: empty queue url")
	}
	d.mu.Lock()
	d.urls[queue] = *out.QueueUrl
	d.mu.Unlock()
	return nil
}

func (d *SQSDriver) queueURL(ctx context.Context, queue string) (string, error) {
	d.mu.RLock()
	url, ok := d.urls[queue]
	d.mu.RUnlock()
	if ok {
		return url, nil
	}
	if err := d.Declare(ctx, queue); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.urls[queue], nil
}

func (d *SQSDriver) Publish(ctx context.Context, queue string, body []byte) error {
	url, err := d.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	if _, err := d.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (d *SQSDriver) Consume(ctx context.Context, queue string, h Handler) error {
	url, err := d.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := d.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     d.wait,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("sqs receive failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sqsReceiveRetry):
			}
			continue
		}
		for _, msg := range out.Messages {
			body := aws.ToString(msg.Body)
			if err := h(ctx, []byte(body)); err != nil {
				d.logger.Warn("handler failed, releasing message", zap.String("queue", queue), zap.Error(err))
				if _, visErr := d.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(url),
					ReceiptHandle:     msg.ReceiptHandle,
					VisibilityTimeout: 0,
				}); visErr != nil {
					d.logger.Warn("sqs release failed", zap.String("queue", queue), zap.Error(visErr))
				}
				continue
			}
			if _, delErr := d.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(url),
				ReceiptHandle: msg.ReceiptHandle,
			}); delErr != nil {
				d.logger.Warn("sqs delete failed", zap.String("queue", queue), zap.Error(delErr))
			}
		}
	}
}

// Close is a no-op; the SQS client holds no persistent connection.
func (d *SQSDriver) Close() error {
	return nil
}
