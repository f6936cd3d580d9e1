package store

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

const busBufferSize = 256

// Bus fans document change events out to live subscribers. One topic per
// collection; every successful write publishes exactly one event.
type Bus struct {
	channel *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: busBufferSize,
		}, watermill.NopLogger{}),
	}
}

// Publish emits one change event on the collection's topic.
func (b *Bus) Publish(ev DocEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.channel.Publish(ev.Collection, message.NewMessage(watermill.NewUUID(), payload))
}

// Events returns a typed stream of change events for one collection. The
// stream closes when ctx is cancelled.
func (b *Bus) Events(ctx context.Context, collection string) (<-chan DocEvent, error) {
	messages, err := b.channel.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := make(chan DocEvent, busBufferSize)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev DocEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				Logger.LogV2.Errorf("dropping undecodable change event on topic %s: %v", collection, err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.channel.Close()
}
