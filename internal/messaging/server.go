package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// ErrInvalidSubject is returned for subjects the broker would silently
// misroute: empty tokens, embedded whitespace, or wildcards on publish.
var ErrInvalidSubject = errors.New("invalid subject")

// subjectValid checks a dot-separated subject. Room and channel subjects are
// assembled from coordinates and hashed ids, so a malformed one indicates a
// bug upstream; wildcards are legal only when subscribing.
func subjectValid(subject string, subscribing bool) bool {
	if subject == "" {
		return false
	}
	for _, token := range strings.Split(subject, ".") {
		switch token {
		case "":
			return false
		case "*", ">":
			if !subscribing {
				return false
			}
		default:
			if strings.ContainsAny(token, " \t*>") {
				return false
			}
		}
	}
	return true
}

// Broker runs the embedded NATS server carrying the world's pub/sub traffic:
// one subject per room coordinate for event propagation and one subject per
// live channel for transport delivery. It satisfies the Publisher and
// Subscriber interfaces declared by the packages that use it.
type Broker struct {
	ns   *server.Server
	conn *nats.Conn

	startupTimeout time.Duration
	host           string
	port           int
}

func NewBroker(opts ...BrokerOpt) (*Broker, error) {
	b := &Broker{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
	}

	for _, opt := range opts {
		opt(b)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   b.host,
		Port:   b.port,
		NoSigs: true, // Let the application handle signals
	})
	if err != nil {
		return nil, err
	}
	b.ns = ns

	return b, nil
}

func (b *Broker) Start(ctx context.Context) error {
	b.ns.Start()

	if !b.ns.ReadyForConnections(b.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}

	// Create internal client connection
	conn, err := nats.Connect(b.clientURL())
	if err != nil {
		return fmt.Errorf("creating nats client connection: %w", err)
	}
	b.conn = conn

	slog.InfoContext(ctx, "nats server listening", "addr", b.ns.Addr())

	<-ctx.Done()
	b.conn.Close()
	b.ns.Shutdown()
	b.ns.WaitForShutdown()

	return nil
}

// Subscribe creates a subscription on the given subject.
// The handler is called for each message received.
// Returns an unsubscribe function to remove the subscription.
func (b *Broker) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	if !subjectValid(subject, true) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	if b.conn == nil {
		return nil, fmt.Errorf("nats server not started")
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}

// Publish sends a message to the given subject
func (b *Broker) Publish(subject string, data []byte) error {
	if !subjectValid(subject, false) {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	if b.conn == nil {
		return fmt.Errorf("nats server not started")
	}
	return b.conn.Publish(subject, data)
}

func (b *Broker) clientURL() string {
	return fmt.Sprintf("nats://%s:%d", b.host, b.port)
}
