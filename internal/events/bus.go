// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/couchkit/internal/logging"
)

// Handler receives events published on a topic it subscribed to.
type Handler func(Event)

// Bus decouples event producers (the Core, the reconciler, the config
// provider) from consumers (loggers, metrics recorders, operator tooling).
// Publish never blocks on subscriber processing: publishing hands the event
// to the underlying pubsub and returns.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, topic string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// gochannelBus is the default in-process Bus, backed by watermill's
// gochannel pubsub. Because publisher and subscriber live in the same
// address space, the event value itself is passed through a side table
// keyed by the carrying message's UUID rather than serialized — there is
// no wire boundary to cross.
type gochannelBus struct {
	pubsub *gochannel.GoChannel
	logger *logging.EventLogger

	mu      sync.Mutex
	payload map[string]Event
}

// NewBus constructs the default in-process event bus.
func NewBus() Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NopLogger{},
	)
	return &gochannelBus{
		pubsub:  pubsub,
		logger:  logging.NewEventLogger(),
		payload: make(map[string]Event),
	}
}

func (b *gochannelBus) Publish(ctx context.Context, ev Event) error {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.SetContext(ctx)

	b.mu.Lock()
	b.payload[msg.UUID] = ev
	b.mu.Unlock()

	b.logger.LogEventPublished(ctx, eventTypeName(ev), ev.Topic())

	if err := b.pubsub.Publish(ev.Topic(), msg); err != nil {
		b.mu.Lock()
		delete(b.payload, msg.UUID)
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *gochannelBus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
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
				b.mu.Lock()
				ev, found := b.payload[msg.UUID]
				delete(b.payload, msg.UUID)
				b.mu.Unlock()
				if found {
					handler(ev)
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

func (b *gochannelBus) Close() error {
	return b.pubsub.Close()
}

// eventTypeName returns a short, stable name for logging without reflection
// over the whole type, since Go lacks a cheap "type name" primitive that
// doesn't import reflect.
func eventTypeName(ev Event) string {
	switch ev.(type) {
	case CoreCreated:
		return "CoreCreated"
	case BucketOpenInitiated:
		return "BucketOpenInitiated"
	case BucketOpened:
		return "BucketOpened"
	case BucketOpenFailed:
		return "BucketOpenFailed"
	case BucketClosed:
		return "BucketClosed"
	case InitGlobalConfigFailed:
		return "InitGlobalConfigFailed"
	case ShutdownInitiated:
		return "ShutdownInitiated"
	case ShutdownCompleted:
		return "ShutdownCompleted"
	case ReconfigurationIgnored:
		return "ReconfigurationIgnored"
	case ReconfigurationCompleted:
		return "ReconfigurationCompleted"
	case ReconfigurationErrorDetected:
		return "ReconfigurationErrorDetected"
	case ServiceReconfigurationFailed:
		return "ServiceReconfigurationFailed"
	default:
		return "unknown"
	}
}
