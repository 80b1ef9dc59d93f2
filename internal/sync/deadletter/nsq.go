package deadletter

import (
	"context"
	"encoding/json"

	"github.com/nsqio/go-nsq"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
)

// Publisher is the subset of *nsq.Producer the sink needs.
type Publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQSink publishes dropped items as JSON to an NSQ topic.
type NSQSink struct {
	pub   Publisher
	topic string
}

// NewNSQSink connects a producer to nsqd at addr.
func NewNSQSink(addr, topic string) (*NSQSink, error) {
	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDeadLetter, "create nsq producer", err)
	}
	return NewNSQSinkWithPublisher(p, topic), nil
}

// NewNSQSinkWithPublisher wraps an existing publisher.
func NewNSQSinkWithPublisher(pub Publisher, topic string) *NSQSink {
	return &NSQSink{pub: pub, topic: topic}
}

// Drop implements Sink. Publish does not take a context.
func (n *NSQSink) Drop(_ context.Context, letter models.DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode dead letter", err)
	}
	if err := n.pub.Publish(n.topic, body); err != nil {
		return apperrors.Wrap(apperrors.ErrDeadLetter, "publish dead letter", err)
	}
	return nil
}

// Close stops the producer.
func (n *NSQSink) Close() {
	if n.pub != nil {
		n.pub.Stop()
	}
}
