package chat

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID for chats, messages and jobs. ULIDs sort
// by creation time, which keeps primary-key order aligned with append
// order.
func NewID() string {
	return ulid.Make().String()
}
