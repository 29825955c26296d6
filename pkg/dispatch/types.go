// Package dispatch holds the domain types shared by the broadcast client,
// the dispatch endpoint and the provider senders.
package dispatch

import "time"

// Payload is one notification addressed to one push token.
// The JSON shape matches the Expo push API so a batch can be forwarded as-is.
type Payload struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Result aggregates outcomes across one or more batches.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Add folds another result into r.
func (r *Result) Add(other Result) {
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Total += other.Total
}

// Recipient is a push-capable profile. DateOfBirth is only used for filtering.
type Recipient struct {
	ID          string
	PushToken   string
	DateOfBirth time.Time
}

// AgeFilter selects recipients by age in whole years, both bounds inclusive.
// MinAge <= MaxAge is not enforced; an inverted filter simply matches nobody.
type AgeFilter struct {
	MinAge int
	MaxAge int
}

// BirthRange is the inclusive date-of-birth window derived from an AgeFilter.
type BirthRange struct {
	From time.Time
	To   time.Time
}

// BirthRange converts the filter into a date-of-birth window relative to now.
func (f AgeFilter) BirthRange(now time.Time) BirthRange {
	return BirthRange{
		From: now.AddDate(-f.MaxAge, 0, 0),
		To:   now.AddDate(-f.MinAge, 0, 0),
	}
}

// Chunk splits items into consecutive slices of at most size elements.
// The last chunk may be shorter. A non-positive size yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end:end])
	}
	return chunks
}

// BroadcastJob is the queued form of one outer batch, published to the
// broadcast topic instead of being POSTed to the dispatch endpoint.
type BroadcastJob struct {
	SessionID     string    `json:"session_id"`
	DryRun        bool      `json:"dry_run"`
	Notifications []Payload `json:"notifications"`
}
