package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultCollection holds one document per profile.
const DefaultCollection = "profiles"

// RecipientStore implements dispatch.PageReader over a Firestore collection.
type RecipientStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewRecipientStore(client *firestore.Client, collection string, logger *slog.Logger) *RecipientStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RecipientStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreRecipientStore"),
	}
}

// profileRecord is the stored profile shape; other fields are ignored.
type profileRecord struct {
	PushToken string    `firestore:"push_token"`
	DOB       time.Time `firestore:"dob"`
}

// ReadPage queries the dob window ordered by dob then document id.
// Firestore cannot pair the dob range with a second inequality on push_token,
// so tokenless profiles are returned and left for the selector to drop.
// A profile that cannot be decoded fails the whole page.
func (s *RecipientStore) ReadPage(ctx context.Context, born dispatch.BirthRange, offset, limit int) ([]dispatch.Recipient, error) {
	iter := s.client.Collection(s.collection).
		Where("dob", ">=", born.From).
		Where("dob", "<=", born.To).
		OrderBy("dob", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Offset(offset).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	page := make([]dispatch.Recipient, 0, limit)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		// A skipped document would shorten the page and end the scan early.
		var record profileRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Error("Unreadable profile", "doc_id", doc.Ref.ID, "err", err)
			return nil, fmt.Errorf("failed to decode profile %s: %w", doc.Ref.ID, err)
		}
		page = append(page, dispatch.Recipient{
			ID:          doc.Ref.ID,
			PushToken:   record.PushToken,
			DateOfBirth: record.DOB,
		})
	}
	return page, nil
}
