package transport

import "context"

// Transport delivers payloads to the client behind a channel id. The core
// never opens client sockets; an edge service subscribed to the channel's
// subjects forwards traffic to the connection it owns.
type Transport interface {
	SendMessage(ctx context.Context, channelID string, payload []byte) error
	SendSystemEvent(ctx context.Context, channelID string, payload []byte) error
}
