package channel

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/pixil98/go-realm/internal/store"
)

// newChannelID derives a session id from the entity id and a nanosecond
// nonce with a keyed BLAKE2b-128 hash. Keying keeps ids unguessable by other
// clients, which matters because the id doubles as the transport subject.
func newChannelID(key []byte, e store.EntityID) (string, error) {
	h, err := blake2b.New(16, key)
	if err != nil {
		return "", fmt.Errorf("creating channel id hash: %w", err)
	}

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(e))
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}
