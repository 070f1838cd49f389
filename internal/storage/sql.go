package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

// sqlStore implements Store on any sqlx database. Queries are written with
// '?' placeholders and rebound for the driver.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time
}

const postingColumns = `id, source, title, organization, qualification, last_date,
	apply_link, notification_link, post_date, location, summary, fingerprint, delivered, created_at`

func (s *sqlStore) q(query string) string { return s.db.Rebind(query) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) InsertIfAbsent(ctx context.Context, p *posting.Posting) (bool, error) {
	if p == nil {
		return false, errors.New("storage: nil posting")
	}
	if strings.TrimSpace(p.Title) == "" {
		return false, errors.New("storage: posting title is empty")
	}
	if p.Fingerprint == "" {
		return false, errors.New("storage: posting fingerprint is empty")
	}
	createdAt := s.now().UTC()

	var id int64
	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO postings (source, title, organization, qualification, last_date,
			apply_link, notification_link, post_date, location, summary, fingerprint, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`),
		p.Source, p.Title, p.Organization, p.Qualification, p.LastDate,
		p.ApplyLink, p.NotificationLink, p.PostDate, p.Location, p.Summary, p.Fingerprint, false, createdAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert posting: %w", err)
	}
	p.ID = id
	p.CreatedAt = createdAt
	p.Delivered = false
	return true, nil
}

func (s *sqlStore) ListUndelivered(ctx context.Context, limit int) ([]posting.Posting, error) {
	var out []posting.Posting
	err := s.db.SelectContext(ctx, &out, s.q(`
		SELECT `+postingColumns+` FROM postings
		WHERE delivered = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), false, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list undelivered: %w", err)
	}
	return out, nil
}

func (s *sqlStore) ListLatest(ctx context.Context, limit int) ([]posting.Posting, error) {
	var out []posting.Posting
	err := s.db.SelectContext(ctx, &out, s.q(`
		SELECT `+postingColumns+` FROM postings
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list latest: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Get(ctx context.Context, id int64) (posting.Posting, error) {
	var p posting.Posting
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+postingColumns+` FROM postings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return posting.Posting{}, ErrNotFound
	}
	if err != nil {
		return posting.Posting{}, fmt.Errorf("get posting %d: %w", id, err)
	}
	return p, nil
}

func (s *sqlStore) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE postings SET delivered = ? WHERE id = ?`), true, id)
	if err != nil {
		return fmt.Errorf("mark delivered %d: %w", id, err)
	}
	return nil
}

func (s *sqlStore) Search(ctx context.Context, keyword string, limit int) ([]posting.Posting, error) {
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(s.upper(kw)) + "%"

	var out []posting.Posting
	err := s.db.SelectContext(ctx, &out, s.q(`
		SELECT `+postingColumns+` FROM postings
		WHERE UPPER(title) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), pattern, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", kw, err)
	}
	return out, nil
}

// upper folds the keyword the way the database's UPPER() folds titles.
// SQLite only folds ASCII letters.
func (s *sqlStore) upper(kw string) string {
	if s.db.DriverName() != "sqlite" {
		return strings.ToUpper(kw)
	}
	return strings.Map(func(r rune) rune {
		if 'a' <= r && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, kw)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *sqlStore) UpsertDestination(ctx context.Context, d posting.Destination) error {
	if d.ID == 0 {
		return errors.New("storage: destination id is zero")
	}
	if d.AddedAt.IsZero() {
		d.AddedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO destinations (id, name, kind, added_by, added_at, active, fail_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			added_by = excluded.added_by,
			active = excluded.active,
			fail_count = 0`),
		d.ID, d.Name, d.Kind, d.AddedBy, d.AddedAt.UTC(), true,
	)
	if err != nil {
		return fmt.Errorf("upsert destination %d: %w", d.ID, err)
	}
	return nil
}

func (s *sqlStore) DeactivateDestination(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE destinations SET active = ? WHERE id = ?`), false, id)
	if err != nil {
		return fmt.Errorf("deactivate destination %d: %w", id, err)
	}
	return nil
}

func (s *sqlStore) ListActiveDestinations(ctx context.Context) ([]posting.Destination, error) {
	var out []posting.Destination
	err := s.db.SelectContext(ctx, &out, s.q(`
		SELECT id, name, kind, added_by, added_at, active, fail_count
		FROM destinations WHERE active = ?
		ORDER BY added_at, id`), true)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	return out, nil
}

func (s *sqlStore) RecordDelivery(ctx context.Context, destID int64, ok bool, deactivateAfter int) (bool, error) {
	if ok {
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE destinations SET fail_count = 0 WHERE id = ? AND fail_count <> 0`), destID)
		if err != nil {
			return false, fmt.Errorf("record delivery %d: %w", destID, err)
		}
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE destinations SET fail_count = fail_count + 1 WHERE id = ?`), destID); err != nil {
		return false, fmt.Errorf("record failure %d: %w", destID, err)
	}
	deactivated := false
	if deactivateAfter > 0 {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE destinations SET active = ?
			WHERE id = ? AND active = ? AND fail_count >= ?`), false, destID, true, deactivateAfter)
		if err != nil {
			return false, fmt.Errorf("deactivate %d: %w", destID, err)
		}
		n, _ := res.RowsAffected()
		deactivated = n > 0
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return deactivated, nil
}

func (s *sqlStore) UpsertUser(ctx context.Context, u posting.User) error {
	if u.ID == 0 {
		return errors.New("storage: user id is zero")
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, username, name, joined_at, verified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			verified = excluded.verified`),
		u.ID, u.Username, u.Name, u.JoinedAt.UTC(), u.Verified,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, s.q(`
		SELECT
			(SELECT COUNT(*) FROM postings) AS postings,
			(SELECT COUNT(*) FROM postings WHERE delivered = ?) AS undelivered,
			(SELECT COUNT(*) FROM destinations WHERE active = ?) AS active_destinations,
			(SELECT COUNT(*) FROM users) AS users`), false, true)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
