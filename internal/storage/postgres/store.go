package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) TenantByNamespace(ctx context.Context, namespace string) (*domain.BotInstance, error) {
	var (
		bi  domain.BotInstance
		bot domain.Bot
	)
	err := db.Pool.QueryRow(ctx, `
SELECT bi.id, bi.uid, bi.namespace, bi.provider, bi.state, bi.instance_attributes, bi.bot_id, bi.created_at,
       b.id, b.uid, b.name, b.webhook_url
FROM bot_instances bi JOIN bots b ON b.id = bi.bot_id
WHERE bi.namespace = $1`, namespace).Scan(
		&bi.ID, &bi.UID, &bi.Namespace, &bi.Provider, &bi.State, &bi.InstanceAttributes, &bi.BotID, &bi.CreatedAt,
		&bot.ID, &bot.UID, &bot.Name, &bot.WebhookURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "tenant", Key: namespace}
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	bi.Bot = &bot
	return &bi, nil
}

func (db *DB) IdentityByUID(ctx context.Context, tenantID int64, uid, provider string) (*domain.BotUser, error) {
	var u domain.BotUser
	err := db.Pool.QueryRow(ctx, `
SELECT id, uid, provider, bot_instance_id, membership_type, created_at
FROM bot_users WHERE bot_instance_id = $1 AND uid = $2 AND provider = $3`,
		tenantID, uid, provider,
	).Scan(&u.ID, &u.UID, &u.Provider, &u.BotInstanceID, &u.MembershipType, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "identity", Key: uid}
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return &u, nil
}

// CreateIdentity inserts with ON CONFLICT DO NOTHING and re-reads the row, so
// concurrent first sightings of a participant converge on one id.
func (db *DB) CreateIdentity(ctx context.Context, u *domain.BotUser) error {
	if u.MembershipType == "" {
		u.MembershipType = domain.MembershipMember
	}
	_, err := db.Pool.Exec(ctx, `
INSERT INTO bot_users (uid, provider, bot_instance_id, membership_type)
VALUES ($1, $2, $3, $4)
ON CONFLICT (bot_instance_id, uid, provider) DO NOTHING`,
		u.UID, u.Provider, u.BotInstanceID, string(u.MembershipType))
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	stored, err := db.IdentityByUID(ctx, u.BotInstanceID, u.UID, u.Provider)
	if err != nil {
		return err
	}
	*u = *stored
	return nil
}

func (db *DB) AppendEvent(ctx context.Context, ev *domain.Event) error {
	return insertEvent(ctx, db.Pool, ev)
}

// AppendEvents persists evs in one transaction.
func (db *DB) AppendEvents(ctx context.Context, evs []*domain.Event) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		for _, ev := range evs {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, q querier, ev *domain.Event) error {
	attrs := ev.EventAttributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	err := q.QueryRow(ctx, `
INSERT INTO events (bot_instance_id, bot_user_id, event_type, provider, is_for_bot, is_from_bot, is_im, text, event_attributes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		ev.BotInstanceID, ev.UserID, ev.EventType, ev.Provider,
		ev.IsForBot, ev.IsFromBot, ev.IsIM, ev.Text, attrs, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// DisableTenant flips state and appends ev in one transaction. The update is
// guarded by state = 'enabled', so only one of two concurrent disables wins.
func (db *DB) DisableTenant(ctx context.Context, tenantID int64, ev *domain.Event) (bool, error) {
	changed := false
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE bot_instances SET state = 'disabled' WHERE id = $1 AND state = 'enabled'`, tenantID)
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (db *DB) CreateBot(ctx context.Context, b *domain.Bot) error {
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO bots (uid, name, webhook_url) VALUES ($1, $2, $3) RETURNING id`,
		b.UID, b.Name, b.WebhookURL,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

func (db *DB) SetWebhookURL(ctx context.Context, botID int64, url *string) error {
	ct, err := db.Pool.Exec(ctx, `UPDATE bots SET webhook_url = $1 WHERE id = $2`, url, botID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "bot", Key: strconv.FormatInt(botID, 10)}
	}
	return nil
}

// CreateBotInstance installs a bot into a team. Provider and state default
// to slack and enabled.
func (db *DB) CreateBotInstance(ctx context.Context, bi *domain.BotInstance) error {
	if bi.Provider == "" {
		bi.Provider = domain.DefaultProvider
	}
	if bi.State == "" {
		bi.State = domain.StateEnabled
	}
	err := db.Pool.QueryRow(ctx, `
INSERT INTO bot_instances (uid, namespace, provider, state, instance_attributes, bot_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`,
		bi.UID, bi.Namespace, bi.Provider, string(bi.State), bi.InstanceAttributes, bi.BotID,
	).Scan(&bi.ID, &bi.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bot instance: %w", err)
	}
	return nil
}
