// Package journal records the outcome of every transfer s3pipe runs. A
// record is written when a transfer starts and updated when it stops, so a
// crashed process leaves its transfers visible as active.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bleepstore/s3pipe/internal/config"
)

// State is the journal state of a transfer.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrNotFound is returned by Get for an unknown transfer id.
var ErrNotFound = errors.New("transfer not found")

// Record describes one transfer.
type Record struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Provider    string    `json:"provider"`
	Variant     string    `json:"variant"`
	State       State     `json:"state"`
	Bytes       int64     `json:"bytes"`
	Parts       int64     `json:"parts"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Journal stores transfer records. Implementations are safe for concurrent
// use.
type Journal interface {
	// Begin inserts rec. Its State should be StateActive.
	Begin(ctx context.Context, rec *Record) error

	// Finish updates the state, counters, error text and finish time of the
	// record with rec.ID.
	Finish(ctx context.Context, rec *Record) error

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns up to limit records, most recently started first. A
	// limit of zero or less returns every record.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases the journal.
	Close() error
}

// Open builds the journal selected by cfg.Engine.
func Open(ctx context.Context, cfg config.JournalConfig) (Journal, error) {
	switch cfg.Engine {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		return NewSQLite(cfg.SQLite.Path)
	case "dynamodb":
		return NewDynamoDB(ctx, cfg.DynamoDB)
	case "firestore":
		return NewFirestore(ctx, cfg.Firestore)
	case "cosmos":
		return NewCosmos(cfg.Cosmos)
	case "memory":
		return NewMemory(), nil
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown journal engine %q", cfg.Engine)
	}
}

// Nop is a Journal that records nothing.
type Nop struct{}

func (Nop) Begin(ctx context.Context, rec *Record) error { return nil }

func (Nop) Finish(ctx context.Context, rec *Record) error { return nil }

func (Nop) Get(ctx context.Context, id string) (*Record, error) { return nil, ErrNotFound }

func (Nop) List(ctx context.Context, limit int) ([]Record, error) { return nil, nil }

func (Nop) Close() error { return nil }

var (
	_ Journal = Nop{}
	_ Journal = (*SQLite)(nil)
	_ Journal = (*Memory)(nil)
	_ Journal = (*DynamoDB)(nil)
	_ Journal = (*Firestore)(nil)
	_ Journal = (*Cosmos)(nil)
)
