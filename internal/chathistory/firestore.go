package chathistory

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// FirestoreStore writes one document per record, named by its message ts.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func OpenFirestore(ctx context.Context, cfg Config) (*FirestoreStore, error) {
	collection, err := collectionName(cfg)
	if err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) Save(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	_, err = s.client.Collection(s.collection).Doc(rec.MessageTS).Set(ctx, map[string]any{
		"message":    rec.Message,
		"timestamp":  rec.MessageTS,
		"thread_ts":  rec.ThreadTS,
		"channel_id": rec.ChannelID,
		"user_id":    rec.UserID,
		"created_at": rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
