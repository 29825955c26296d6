package dispatch

import (
	"context"
)

// Sender defines the contract for a component that can deliver one InnerBatch
// of notifications to a push provider (e.g. Expo, FCM, APNs).
type Sender interface {
	// Send delivers the batch and reports how many payloads the provider accepted.
	// A non-nil error means the whole batch must be treated as failed.
	Send(ctx context.Context, batch []Payload) (int, error)

	// MaxBatchSize is the provider's documented per-call ceiling.
	MaxBatchSize() int
}

// PageReader defines the contract for a profile store that can be read in
// fixed-size, offset-addressed pages.
type PageReader interface {
	// ReadPage returns at most limit recipients born inside the range, starting
	// at offset. A short page signals the end of the result set. Stores that
	// cannot filter on the token may include recipients with an empty PushToken.
	ReadPage(ctx context.Context, born BirthRange, offset, limit int) ([]Recipient, error)
}
