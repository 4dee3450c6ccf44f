package messaging

import "time"

type BrokerOpt func(*Broker)

// WithStartTimeout sets how long Start waits for the embedded server to
// accept connections.
func WithStartTimeout(d time.Duration) BrokerOpt {
	return func(b *Broker) {
		b.startupTimeout = d
	}
}

// WithHost sets the bind host for the embedded server.
func WithHost(host string) BrokerOpt {
	return func(b *Broker) {
		b.host = host
	}
}

// WithPort sets the bind port for the embedded server. Port 0 picks a free
// one, which is what the tests use.
func WithPort(port int) BrokerOpt {
	return func(b *Broker) {
		b.port = port
	}
}
