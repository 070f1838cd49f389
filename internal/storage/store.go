package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the persistence API used by the pipeline and the command layer.
type Store interface {
	// InsertIfAbsent stores p unless its fingerprint exists. It reports whether
	// a row was created and sets p.ID and p.CreatedAt when it was.
	InsertIfAbsent(ctx context.Context, p *posting.Posting) (bool, error)
	// ListUndelivered returns undelivered postings, newest first.
	ListUndelivered(ctx context.Context, limit int) ([]posting.Posting, error)
	// ListLatest returns postings newest first regardless of delivery.
	ListLatest(ctx context.Context, limit int) ([]posting.Posting, error)
	Get(ctx context.Context, id int64) (posting.Posting, error)
	// MarkDelivered is idempotent.
	MarkDelivered(ctx context.Context, id int64) error
	// Search matches keyword case-insensitively against titles, newest first.
	// On SQLite only ASCII letters fold case.
	Search(ctx context.Context, keyword string, limit int) ([]posting.Posting, error)

	UpsertDestination(ctx context.Context, d posting.Destination) error
	DeactivateDestination(ctx context.Context, id int64) error
	ListActiveDestinations(ctx context.Context) ([]posting.Destination, error)
	// RecordDelivery tracks consecutive failures per destination and
	// deactivates it once deactivateAfter failures accumulate (<=0 never).
	RecordDelivery(ctx context.Context, destID int64, ok bool, deactivateAfter int) (deactivated bool, err error)

	UpsertUser(ctx context.Context, u posting.User) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a point-in-time row count summary.
type Stats struct {
	Postings           int `db:"postings"`
	Undelivered        int `db:"undelivered"`
	ActiveDestinations int `db:"active_destinations"`
	Users              int `db:"users"`
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Open initializes the configured store and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

const maxListLimit = 50

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
