// Package sqlite is the single-file store used for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path, creating the directory and the schema
// when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time; sqlite serialises them anyway
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ready(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

const tenantColumns = `
  bi.id, bi.uid, bi.namespace, bi.provider, bi.state, bi.instance_attributes, bi.bot_id, bi.created_at,
  b.id, b.uid, b.name, b.webhook_url`

func (s *Store) TenantByNamespace(ctx context.Context, namespace string) (*domain.BotInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+tenantColumns+`
FROM bot_instances bi JOIN bots b ON b.id = bi.bot_id
WHERE bi.namespace = ?`, namespace)
	return scanTenant(row, namespace)
}

func scanTenant(row *sql.Row, namespace string) (*domain.BotInstance, error) {
	var (
		bi      domain.BotInstance
		bot     domain.Bot
		attrs   string
		created int64
		webhook sql.NullString
	)
	err := row.Scan(&bi.ID, &bi.UID, &bi.Namespace, &bi.Provider, &bi.State, &attrs, &bi.BotID, &created,
		&bot.ID, &bot.UID, &bot.Name, &webhook)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "tenant", Key: namespace}
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &bi.InstanceAttributes); err != nil {
		return nil, fmt.Errorf("decode instance attributes: %w", err)
	}
	if webhook.Valid {
		bot.WebhookURL = &webhook.String
	}
	bi.CreatedAt = fromMicros(created)
	bi.Bot = &bot
	return &bi, nil
}

func (s *Store) IdentityByUID(ctx context.Context, tenantID int64, uid, provider string) (*domain.BotUser, error) {
	var (
		u       domain.BotUser
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, uid, provider, bot_instance_id, membership_type, created_at
FROM bot_users WHERE bot_instance_id = ? AND uid = ? AND provider = ?`,
		tenantID, uid, provider,
	).Scan(&u.ID, &u.UID, &u.Provider, &u.BotInstanceID, &u.MembershipType, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "identity", Key: uid}
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

// CreateIdentity inserts u unless it exists and reloads the stored row, so a
// concurrent insert of the same participant yields the same id.
func (s *Store) CreateIdentity(ctx context.Context, u *domain.BotUser) error {
	if u.MembershipType == "" {
		u.MembershipType = domain.MembershipMember
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bot_users (uid, provider, bot_instance_id, membership_type, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (bot_instance_id, uid, provider) DO NOTHING`,
		u.UID, u.Provider, u.BotInstanceID, u.MembershipType, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	stored, err := s.IdentityByUID(ctx, u.BotInstanceID, u.UID, u.Provider)
	if err != nil {
		return err
	}
	*u = *stored
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	return insertEvent(ctx, s.db, ev)
}

// AppendEvents persists evs in one transaction. Either every event gets an
// ID or nothing is written.
func (s *Store) AppendEvents(ctx context.Context, evs []*domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range evs {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, ev *domain.Event) error {
	attrs := ev.EventAttributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode event attributes: %w", err)
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO events (bot_instance_id, bot_user_id, event_type, provider, is_for_bot, is_from_bot, is_im, text, event_attributes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.BotInstanceID, ev.UserID, ev.EventType, ev.Provider,
		ev.IsForBot, ev.IsFromBot, ev.IsIM, ev.Text, string(b), ev.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	return nil
}

func (s *Store) DisableTenant(ctx context.Context, tenantID int64, ev *domain.Event) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE bot_instances SET state = 'disabled' WHERE id = ? AND state = 'enabled'`, tenantID)
	if err != nil {
		return false, fmt.Errorf("update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Events returns a tenant's events oldest first.
func (s *Store) Events(ctx context.Context, tenantID int64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, bot_instance_id, bot_user_id, event_type, provider, is_for_bot, is_from_bot, is_im, text, event_attributes, created_at
FROM events WHERE bot_instance_id = ? ORDER BY id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			userID  sql.NullInt64
			attrs   string
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.BotInstanceID, &userID, &ev.EventType, &ev.Provider,
			&ev.IsForBot, &ev.IsFromBot, &ev.IsIM, &ev.Text, &attrs, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if userID.Valid {
			ev.UserID = &userID.Int64
		}
		if err := json.Unmarshal([]byte(attrs), &ev.EventAttributes); err != nil {
			return nil, fmt.Errorf("decode event attributes: %w", err)
		}
		ev.CreatedAt = fromMicros(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
