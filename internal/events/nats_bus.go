// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build nats

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/couchkit/internal/logging"
)

// NATSBusConfig configures the optional cross-process event bus.
type NATSBusConfig struct {
	URL           string
	SubjectPrefix string
	QueueGroup    string
}

// natsBus carries events across process boundaries over NATS JetStream.
// Unlike gochannelBus, events here must actually be encoded since the
// subscriber may be a different process; encoding is JSON over a small
// envelope that records the concrete event's type name for decoding.
type natsBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *logging.EventLogger
	prefix     string
}

// NewNATSBus returns a Bus backed by JetStream subjects derived from each
// event's Topic(). Callers should prefer NewBus unless cross-process
// fan-out is actually required; most deployments of this engine run the
// bus in-process.
func NewNATSBus(cfg NATSBusConfig) (Bus, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
	}
	marshaler := &wmnats.NATSMarshaler{}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   marshaler,
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
		},
	}, watermill.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      marshaler,
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
		},
	}, watermill.NopLogger{})
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &natsBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logging.NewEventLogger(),
		prefix:     cfg.SubjectPrefix,
	}, nil
}

func (b *natsBus) subject(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

func (b *natsBus) Publish(ctx context.Context, ev Event) error {
	env := eventEnvelope{Type: eventTypeName(ev), Payload: ev}
	msg := message.NewMessage(watermill.NewUUID(), mustEncode(env))
	msg.SetContext(ctx)

	b.logger.LogEventPublished(ctx, env.Type, ev.Topic())
	return b.publisher.Publish(b.subject(ev.Topic()), msg)
}

func (b *natsBus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	messages, err := b.subscriber.Subscribe(ctx, b.subject(topic))
	if err != nil {
		return nil, err
	}
	b.logger.LogSubscriptionStarted(topic, "")

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if ev, decErr := decodeEnvelope(msg.Payload); decErr == nil {
					handler(ev)
				} else {
					b.logger.LogEventFailed(ctx, "decode", decErr)
				}
				msg.Ack()
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		b.logger.LogSubscriptionStopped(topic)
	}
	return unsubscribe, nil
}

func (b *natsBus) Close() error {
	_ = b.subscriber.Close()
	_ = b.publisher.Close()
	return nil
}
