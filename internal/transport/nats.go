package transport

import (
	"context"
	"fmt"
)

// Publisher provides the ability to publish messages to subjects.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ChannelTopic names the subject carrying ordinary messages for a channel.
func ChannelTopic(id string) string {
	return fmt.Sprintf("channel.%s", id)
}

// SystemTopic names the subject carrying control events for a channel, kept
// separate so edge services can route them without parsing message bodies.
func SystemTopic(id string) string {
	return fmt.Sprintf("channel.%s.sys", id)
}

// NatsTransport delivers channel traffic over per-channel broker subjects.
type NatsTransport struct {
	publisher Publisher
}

func NewNatsTransport(pub Publisher) *NatsTransport {
	return &NatsTransport{publisher: pub}
}

func (t *NatsTransport) SendMessage(ctx context.Context, channelID string, payload []byte) error {
	if err := t.publisher.Publish(ChannelTopic(channelID), payload); err != nil {
		return fmt.Errorf("publishing message to channel %s: %w", channelID, err)
	}
	return nil
}

func (t *NatsTransport) SendSystemEvent(ctx context.Context, channelID string, payload []byte) error {
	if err := t.publisher.Publish(SystemTopic(channelID), payload); err != nil {
		return fmt.Errorf("publishing system event to channel %s: %w", channelID, err)
	}
	return nil
}
