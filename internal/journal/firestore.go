package journal

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bleepstore/s3pipe/internal/config"
)

// Firestore is a Journal stored as one document per transfer in a
// Firestore collection. Timestamps are stored as timeFormat strings, which
// order lexically.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore creates a journal in cfg.ProjectID.
func NewFirestore(ctx context.Context, cfg config.FirestoreConfig) (*Firestore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "s3pipe_transfers"
	}
	return &Firestore{client: client, collection: collection}, nil
}

func (j *Firestore) collectionRef() *firestore.CollectionRef {
	return j.client.Collection(j.collection)
}

// Begin implements Journal.
func (j *Firestore) Begin(ctx context.Context, rec *Record) error {
	_, err := j.collectionRef().Doc(rec.ID).Create(ctx, recordToDoc(rec))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("transfer already recorded: %s", rec.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Finish implements Journal.
func (j *Firestore) Finish(ctx context.Context, rec *Record) error {
	_, err := j.collectionRef().Doc(rec.ID).Update(ctx, []firestore.Update{
		{Path: "state", Value: string(rec.State)},
		{Path: "bytes", Value: rec.Bytes},
		{Path: "parts", Value: rec.Parts},
		{Path: "error", Value: rec.Error},
		{Path: "finished_at", Value: rec.FinishedAt.UTC().Format(timeFormat)},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Journal.
func (j *Firestore) Get(ctx context.Context, id string) (*Record, error) {
	snap, err := j.collectionRef().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading transfer %s: %w", id, err)
	}
	return docToRecord(snap.Data())
}

// List implements Journal.
func (j *Firestore) List(ctx context.Context, limit int) ([]Record, error) {
	query := j.collectionRef().OrderBy("started_at", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var records []Record
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing transfers: %w", err)
		}
		rec, err := docToRecord(snap.Data())
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Close implements Journal.
func (j *Firestore) Close() error {
	if j.client != nil {
		return j.client.Close()
	}
	return nil
}

func recordToDoc(rec *Record) map[string]any {
	doc := map[string]any{
		"id":          rec.ID,
		"destination": rec.Destination,
		"provider":    rec.Provider,
		"variant":     rec.Variant,
		"state":       string(rec.State),
		"bytes":       rec.Bytes,
		"parts":       rec.Parts,
		"error":       rec.Error,
		"started_at":  rec.StartedAt.UTC().Format(timeFormat),
	}
	if !rec.FinishedAt.IsZero() {
		doc["finished_at"] = rec.FinishedAt.UTC().Format(timeFormat)
	}
	return doc
}

func docToRecord(doc map[string]any) (*Record, error) {
	str := func(name string) string {
		s, _ := doc[name].(string)
		return s
	}
	num := func(name string) int64 {
		switch v := doc[name].(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
		return 0
	}

	rec := &Record{
		ID:          str("id"),
		Destination: str("destination"),
		Provider:    str("provider"),
		Variant:     str("variant"),
		State:       State(str("state")),
		Bytes:       num("bytes"),
		Parts:       num("parts"),
		Error:       str("error"),
	}
	var err error
	if rec.StartedAt, err = parseTime(str("started_at")); err != nil {
		return nil, err
	}
	if rec.FinishedAt, err = parseTime(str("finished_at")); err != nil {
		return nil, err
	}
	return rec, nil
}
