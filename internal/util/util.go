package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID ids are sortable, which keeps recipient listings in creation order
// without a separate sequence.

func NewMessageID() string   { return "msg_" + newULID() }
func NewRecipientID() string { return "rcp_" + newULID() }

func newULID() string {
	t := time.Now().UTC()
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
