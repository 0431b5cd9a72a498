package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage"
)

func (s *Store) CreateBot(ctx context.Context, b *domain.Bot) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (uid, name, webhook_url, created_at) VALUES (?, ?, ?, ?)`,
		b.UID, b.Name, b.WebhookURL, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (s *Store) SetWebhookURL(ctx context.Context, botID int64, url *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bots SET webhook_url = ? WHERE id = ?`, url, botID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "bot", Key: fmt.Sprint(botID)}
	}
	return nil
}

// CreateBotInstance installs a bot into a team. Provider and state default
// to slack and enabled.
func (s *Store) CreateBotInstance(ctx context.Context, bi *domain.BotInstance) error {
	if bi.Provider == "" {
		bi.Provider = domain.DefaultProvider
	}
	if bi.State == "" {
		bi.State = domain.StateEnabled
	}
	attrs, err := json.Marshal(bi.InstanceAttributes)
	if err != nil {
		return fmt.Errorf("encode instance attributes: %w", err)
	}
	if bi.CreatedAt.IsZero() {
		bi.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO bot_instances (uid, namespace, provider, state, instance_attributes, bot_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bi.UID, bi.Namespace, bi.Provider, bi.State, string(attrs), bi.BotID, bi.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert bot instance: %w", err)
	}
	bi.ID, err = res.LastInsertId()
	return err
}

func statsWhere(f storage.StatsFilter) (string, []any) {
	cond := "WHERE e.created_at >= ? AND e.created_at < ?"
	args := []any{f.From * 1_000_000, (f.To + 1) * 1_000_000}
	if f.Namespace != "" {
		cond += " AND bi.namespace = ?"
		args = append(args, f.Namespace)
	}
	if f.EventType != "" {
		cond += " AND e.event_type = ?"
		args = append(args, f.EventType)
	}
	return cond, args
}

func (s *Store) QueryTotals(ctx context.Context, f storage.StatsFilter) (storage.Totals, error) {
	var res storage.Totals
	cond, args := statsWhere(f)
	q := `SELECT COUNT(*), COUNT(DISTINCT e.bot_user_id)
FROM events e JOIN bot_instances bi ON bi.id = e.bot_instance_id ` + cond
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&res.Count, &res.UniqueUsers); err != nil {
		return res, fmt.Errorf("scan totals: %w", err)
	}
	return res, nil
}

func (s *Store) QueryBucketsDaily(ctx context.Context, f storage.StatsFilter) ([]storage.Bucket, error) {
	cond, args := statsWhere(f)
	q := fmt.Sprintf(`
SELECT
  (e.created_at / 86400000000) * 86400 AS bucket_start,
  COUNT(*) AS cnt,
  COUNT(DISTINCT e.bot_user_id) AS uniq
FROM events e JOIN bot_instances bi ON bi.id = e.bot_instance_id
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Bucket
	for rows.Next() {
		var b storage.Bucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
