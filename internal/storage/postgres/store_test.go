package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage"
)

func TestStatsWhere(t *testing.T) {
	cond, args := statsWhere(storage.StatsFilter{From: 10, To: 20})
	assert.Equal(t, "WHERE e.created_at >= to_timestamp($1) AND e.created_at < to_timestamp($2)", cond)
	assert.Equal(t, []any{int64(10), int64(21)}, args)

	cond, args = statsWhere(storage.StatsFilter{Namespace: "ns", EventType: "message", From: 1, To: 2})
	assert.Contains(t, cond, "bi.namespace=$3")
	assert.Contains(t, cond, "e.event_type=$4")
	assert.Equal(t, []any{int64(1), int64(3), "ns", "message"}, args)

	cond, args = statsWhere(storage.StatsFilter{EventType: "message", From: 1, To: 2})
	assert.Contains(t, cond, "e.event_type=$3")
	assert.Len(t, args, 3)
}

// connectTest needs a disposable database in BOTMETRICS_TEST_POSTGRES_DSN.
func connectTest(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("BOTMETRICS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOTMETRICS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ready(ctx))

	n, err := db.RunMigrations(ctx, filepath.Join("..", "..", "..", "migrations"))
	require.NoError(t, err)
	require.Positive(t, n)
	return db
}

func TestStore_Lifecycle(t *testing.T) {
	db := connectTest(t)
	ctx := context.Background()
	ns := "ns-" + uuid.NewString()

	bot := &domain.Bot{UID: "bot-" + ns, Name: "Metrics"}
	require.NoError(t, db.CreateBot(ctx, bot))
	bi := &domain.BotInstance{UID: "UBOT", Namespace: ns, BotID: bot.ID}
	require.NoError(t, db.CreateBotInstance(ctx, bi))

	got, err := db.TenantByNamespace(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, domain.StateEnabled, got.State)
	assert.False(t, got.Bot.HasWebhook())

	url := "https://example.com/hook"
	require.NoError(t, db.SetWebhookURL(ctx, bot.ID, &url))

	u := &domain.BotUser{UID: "U1", Provider: "slack", BotInstanceID: bi.ID}
	require.NoError(t, db.CreateIdentity(ctx, u))
	again := &domain.BotUser{UID: "U1", Provider: "slack", BotInstanceID: bi.ID}
	require.NoError(t, db.CreateIdentity(ctx, again))
	assert.Equal(t, u.ID, again.ID)

	ev := &domain.Event{BotInstanceID: bi.ID, UserID: &u.ID, EventData: domain.EventData{
		EventType:       domain.EventTypeMessage,
		Provider:        "slack",
		CreatedAt:       time.Now().UTC(),
		EventAttributes: map[string]any{"channel": "C1"},
	}}
	require.NoError(t, db.AppendEvent(ctx, ev))
	assert.NotZero(t, ev.ID)

	orphan := &domain.Event{BotInstanceID: -1, EventData: domain.EventData{
		EventType: domain.EventTypeMessage, Provider: "slack", CreatedAt: time.Now().UTC(),
	}}
	kept := &domain.Event{BotInstanceID: bi.ID, EventData: domain.EventData{
		EventType: domain.EventTypeMessage, Provider: "slack", CreatedAt: time.Now().UTC(),
	}}
	require.Error(t, db.AppendEvents(ctx, []*domain.Event{kept, orphan}))

	disable := func() bool {
		changed, err := db.DisableTenant(ctx, bi.ID, &domain.Event{BotInstanceID: bi.ID, EventData: domain.EventData{
			EventType: domain.EventTypeBotDisabled, Provider: "slack", CreatedAt: time.Now().UTC(),
		}})
		require.NoError(t, err)
		return changed
	}
	assert.True(t, disable())
	assert.False(t, disable())

	now := time.Now().Unix()
	totals, err := db.QueryTotals(ctx, storage.StatsFilter{Namespace: ns, From: now - 3600, To: now + 3600})
	require.NoError(t, err)
	assert.Equal(t, storage.Totals{Count: 2, UniqueUsers: 1}, totals)
}
