package channel

import (
	"fmt"
	"time"

	"github.com/pixil98/go-realm/internal/store"
)

// Disconnect reasons delivered to the client in the closing system event.
const (
	ReasonTimeout     = "timeout"
	ReasonConcurrency = "concurrency"
	ReasonFlood       = "flood"
	ReasonShutdown    = "shutdown"
)

// Channel is the live session identity bound 1:1 to a connected entity. All
// timestamps are managed by the Manager and Monitor; callers see copies.
type Channel struct {
	ID               string
	Entity           store.EntityID
	CreatedAt        time.Time
	LastPingSent     time.Time
	LastPingReceived time.Time
	LastPongReceived time.Time
	Connected        bool

	floodStrikes int
}

var (
	pingPayload = []byte(`{"event":"ping"}`)
	pongPayload = []byte(`{"event":"pong"}`)
)

func disconnectPayload(reason string) []byte {
	return fmt.Appendf(nil, `{"event":"disconnect","reason":%q}`, reason)
}
