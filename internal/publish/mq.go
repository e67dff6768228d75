package publish

import (
	"afl-sancov/internal/types"
	"afl-sancov/pkg/mq"
	"context"
	"encoding/json"
)

const (
	ReportQueueName  = "delta_diff_queue"
	SummaryQueueName = "delta_diff_summary_queue"
)

// MQPublisher notifies consumers of every persisted report. The message
// carries the report path and headline metrics, not the full document.
type MQPublisher struct {
	rabbitMQ mq.RabbitMQ
}

func NewMQPublisher(rabbitMQ mq.RabbitMQ) *MQPublisher {
	if rabbitMQ == nil {
		return nil
	}
	return &MQPublisher{rabbitMQ: rabbitMQ}
}

func (p *MQPublisher) Name() string { return "rabbitmq" }

func (p *MQPublisher) PublishReport(ctx context.Context, msg *types.ReportMessage, _ []byte) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rabbitMQ.Publish(ctx, ReportQueueName, body)
}

func (p *MQPublisher) PublishSummary(ctx context.Context, summary *types.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return p.rabbitMQ.Publish(ctx, SummaryQueueName, body)
}
