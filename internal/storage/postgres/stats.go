package postgres

import (
	"context"
	"fmt"

	"github.com/MaheshSundaramurthy/botmetrics/internal/storage"
)

// statsWhere builds the filter; empty namespace and event type mean no filter.
func statsWhere(f storage.StatsFilter) (string, []any) {
	cond := "WHERE e.created_at >= to_timestamp($1) AND e.created_at < to_timestamp($2)"
	args := []any{f.From, f.To + 1}
	idx := 3

	if f.Namespace != "" {
		cond += fmt.Sprintf(" AND bi.namespace=$%d", idx)
		args = append(args, f.Namespace)
		idx++
	}
	if f.EventType != "" {
		cond += fmt.Sprintf(" AND e.event_type=$%d", idx)
		args = append(args, f.EventType)
	}
	return cond, args
}

func (db *DB) QueryTotals(ctx context.Context, f storage.StatsFilter) (storage.Totals, error) {
	var res storage.Totals
	cond, args := statsWhere(f)

	sql := `SELECT COUNT(*)::bigint, COUNT(DISTINCT e.bot_user_id)::bigint
FROM events e JOIN bot_instances bi ON bi.id = e.bot_instance_id ` + cond
	row := db.Pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&res.Count, &res.UniqueUsers); err != nil {
		return res, fmt.Errorf("scan totals: %w", err)
	}
	return res, nil
}

func (db *DB) QueryBucketsDaily(ctx context.Context, f storage.StatsFilter) ([]storage.Bucket, error) {
	cond, args := statsWhere(f)

	sql := fmt.Sprintf(`
SELECT
  EXTRACT(EPOCH FROM date_trunc('day', e.created_at AT TIME ZONE 'UTC'))::bigint AS bucket_start,
  COUNT(*)::bigint AS cnt,
  COUNT(DISTINCT e.bot_user_id)::bigint AS uniq
FROM events e JOIN bot_instances bi ON bi.id = e.bot_instance_id
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := db.Pool.Query(ctx, sql, args...)
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
