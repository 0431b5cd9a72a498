package transporthttp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaheshSundaramurthy/botmetrics/internal/config"
	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/metrics"
	"github.com/MaheshSundaramurthy/botmetrics/internal/queue"
	"github.com/MaheshSundaramurthy/botmetrics/internal/relax"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage/sqlite"
)

type fakeIngest struct {
	mu     sync.Mutex
	events []domain.RawRoutedEvent
	full   bool
}

func (f *fakeIngest) Enqueue(raw domain.RawRoutedEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, raw)
	return true
}

type harness struct {
	handler http.Handler
	ingest  *fakeIngest
	store   *sqlite.Store
	queue   *queue.Recorder
	tenant  *domain.BotInstance
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	url := "https://example.com/hook"
	bot := &domain.Bot{UID: "metrics-bot", WebhookURL: &url}
	require.NoError(t, store.CreateBot(ctx, bot))
	tenant := &domain.BotInstance{UID: "UBOT", Namespace: "ns1", BotID: bot.ID, Provider: "kik"}
	require.NoError(t, store.CreateBotInstance(ctx, tenant))

	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	q := &queue.Recorder{}
	ing := &fakeIngest{}
	deps := &ServerDeps{
		Cfg:      cfg,
		Ingest:   ing,
		Recorder: relax.NewService(store, q),
		Store:    store,
		Registry: metrics.Registry(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
	return &harness{handler: deps.Router(), ingest: ing, store: store, queue: q, tenant: tenant}
}

func (h *harness) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	rec := h.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestPostRelaxEvent(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"team_uid":"T1","namespace":"ns1","user_uid":"U1","channel_uid":"C1","timestamp":"1.2","im":false,"text":"hi","type":"message_new"}`

	rec := h.do(http.MethodPost, "/relax/events", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Len(t, resp["correlation_id"], 64)

	require.Len(t, h.ingest.events, 1)
	assert.Equal(t, domain.KindMessageNew, h.ingest.events[0].Kind)
	assert.Equal(t, "1.2", h.ingest.events[0].Timestamp)
}

func TestPostRelaxEvent_Alias(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/relax/events", `{"team_uid":"T1","namespace":"ns1","type":"tenant_joined"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.KindTeamJoined, h.ingest.events[0].Kind)
}

func TestPostRelaxEvent_Errors(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/relax/events", `{"namespace":"ns1","type":"message_new"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Contains(t, p.Errors, "user_uid")
	assert.Contains(t, p.Errors, "channel_uid")

	rec = h.do(http.MethodPost, "/relax/events", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/relax/events", `{"namespace":"ns1","type":"team_joined","team_name":"Acme"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "team_name")
	assert.Empty(t, h.ingest.events)

	req := httptest.NewRequest(http.MethodPost, "/relax/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodGet, "/relax/events", "", nil).Code)

	h.ingest.full = true
	rec = h.do(http.MethodPost, "/relax/events", `{"namespace":"ns1","type":"team_joined"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.HTTP.APIKeys = []string{"k1"} })
	body := `{"namespace":"ns1","type":"team_joined"}`

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/relax/events", body, nil).Code)
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/relax/events", body, map[string]string{"X-API-Key": "k1"}).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/stats", "", nil).Code)
}

func TestBodyLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.HTTP.MaxBodyBytes = 16 })
	rec := h.do(http.MethodPost, "/relax/events", `{"namespace":"ns1","type":"team_joined"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.ingest.events)
}

func TestSlackEvents(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/webhooks/slack/ns1", `{"type":"url_verification","challenge":"abc"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc"}`, rec.Body.String())

	rec = h.do(http.MethodPost, "/webhooks/slack/ns1", `{"type":"event_callback","team_id":"T1",
	  "event":{"type":"message","user":"U1","text":"yo","ts":"1.5","channel":"C1","channel_type":"channel"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.ingest.events, 1)
	assert.Equal(t, "ns1", h.ingest.events[0].Namespace)
	assert.Equal(t, "slack", h.ingest.events[0].Provider)

	rec = h.do(http.MethodPost, "/webhooks/slack/ns1", `{"type":"app_rate_limited"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Len(t, h.ingest.events, 1)
}

func TestSlackEvents_Signature(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Slack.SigningSecret = "s3cret" })
	rec := h.do(http.MethodPost, "/webhooks/slack/ns1", `{"type":"url_verification","challenge":"abc"}`, map[string]string{
		"X-Slack-Request-Timestamp": "1",
		"X-Slack-Signature":         "v0=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProviderWebhook_Kik(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"messages":[{"chatId":"c1","type":"text","from":"alice","participants":["alice"],"id":"m1","timestamp":1439576628405,"body":"Hi!","mention":null}]}`

	rec := h.do(http.MethodPost, "/webhooks/kik/ns1", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		EventIDs []int64 `json:"event_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.EventIDs, 1)

	evs, err := h.store.Events(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, resp.EventIDs[0], evs[0].ID)
	assert.Len(t, h.queue.Jobs(queue.JobDeliverWebhook), 1)
}

func TestProviderWebhook_DispatchFailureStillAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.Err = errors.New("broker down")
	body := `{"messages":[{"chatId":"c1","type":"text","from":"alice","participants":["alice"],"id":"m1","timestamp":1439576628405,"body":"Hi!","mention":null}]}`

	rec := h.do(http.MethodPost, "/webhooks/kik/ns1", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		EventIDs       []int64 `json:"event_ids"`
		DispatchFailed int     `json:"dispatch_failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.EventIDs, 1)
	assert.Equal(t, 1, resp.DispatchFailed)

	evs, err := h.store.Events(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestProviderWebhook_Facebook(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"object":"page","entry":[{"id":"p1","time":1458692752478,"messaging":[
	  {"sender":{"id":"u1"},"recipient":{"id":"UBOT"},"timestamp":1458692752478,"message":{"mid":"mid.1","seq":73,"text":"hello"}},
	  {"sender":{"id":"u2"},"recipient":{"id":"UBOT"},"timestamp":1458692752479,"message":{"mid":"mid.2","seq":74,"text":"hey"}}
	]}]}`

	rec := h.do(http.MethodPost, "/webhooks/facebook/ns1", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "event_ids")

	evs, err := h.store.Events(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestProviderWebhook_Errors(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/webhooks/telegram/ns1", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "configuration error", decodeProblem(t, rec).Title)

	rec = h.do(http.MethodPost, "/webhooks/kik/ns1", `{"messages":{"chatId":"c1"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid Data Supplied", decodeProblem(t, rec).Detail)

	rec = h.do(http.MethodPost, "/webhooks/kik/ns1", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Supplied Option Is Nil", decodeProblem(t, rec).Detail)

	// unknown tenant records nothing
	rec = h.do(http.MethodPost, "/webhooks/kik/nope", `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event_ids":[]}`, rec.Body.String())
}

func hexMAC(h func() hash.Hash, secret, body string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestProviderWebhook_KikSignature(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Hooks.KikAPIKey = "kik-key" })
	body := `{"messages":[{"chatId":"c1","type":"text","from":"alice","participants":["alice"],"id":"m1","timestamp":1439576628405,"body":"Hi!","mention":null}]}`

	rec := h.do(http.MethodPost, "/webhooks/kik/ns1", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeProblem(t, rec).Title)

	rec = h.do(http.MethodPost, "/webhooks/kik/ns1", body, map[string]string{"X-Kik-Signature": hexMAC(sha1.New, "other-key", body)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	evs, err := h.store.Events(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, evs)

	sig := strings.ToUpper(hexMAC(sha1.New, "kik-key", body))
	rec = h.do(http.MethodPost, "/webhooks/kik/ns1", body, map[string]string{"X-Kik-Signature": sig})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, h.queue.Submissions(), 1)
}

func TestProviderWebhook_FacebookSignature(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Hooks.FacebookAppSecret = "fb-secret" })
	body := `{"object":"page","entry":[{"id":"p1","time":1458692752478,"messaging":[
	  {"sender":{"id":"u1"},"recipient":{"id":"UBOT"},"timestamp":1458692752478,"message":{"mid":"mid.1","seq":73,"text":"hello"}}
	]}]}`

	good := hexMAC(sha256.New, "fb-secret", body)
	for name, header := range map[string]string{
		"missing prefix": good,
		"wrong secret":   "sha256=" + hexMAC(sha256.New, "nope", body),
		"not hex":        "sha256=zz",
	} {
		rec := h.do(http.MethodPost, "/webhooks/facebook/ns1", body, map[string]string{"X-Hub-Signature-256": header})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}

	rec := h.do(http.MethodPost, "/webhooks/facebook/ns1", body, map[string]string{"X-Hub-Signature-256": "sha256=" + good})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestProviderWebhook_APIKeyFallback(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.HTTP.APIKeys = []string{"k1"} })
	body := `{"messages":[]}`

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/webhooks/kik/ns1", body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/webhooks/slack/ns1", `{"type":"url_verification","challenge":"abc"}`, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/webhooks/kik/ns1", body, map[string]string{"X-API-Key": "k1"}).Code)
}

func TestRouter_WarnsWhenWebhooksUnverified(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf, "info")
	t.Cleanup(func() { logger.SetOutput(io.Discard, "info") })

	newHarness(t, func(c *config.Config) { c.Hooks.KikAPIKey = "kik-key" })
	out := buf.String()
	assert.Contains(t, out, "webhook signature verification disabled")
	assert.Contains(t, out, "facebook")
	assert.NotContains(t, out, `"kik"`)

	buf.Reset()
	newHarness(t, func(c *config.Config) {
		c.Slack.SigningSecret = "s"
		c.Hooks.KikAPIKey = "k"
		c.Hooks.FacebookAppSecret = "f"
	})
	assert.NotContains(t, buf.String(), "verification disabled")
}

func TestGetStats(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"messages":[{"chatId":"c1","type":"text","from":"alice","participants":["alice"],"id":"m1","timestamp":` +
		jsonInt(time.Now().Add(-time.Hour).UnixMilli()) + `,"body":"Hi!","mention":null}]}`
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/webhooks/kik/ns1", body, nil).Code)

	rec := h.do(http.MethodGet, "/stats?namespace=ns1&group_by=day", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp statsResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Totals.Count)
	assert.Equal(t, int64(1), resp.Totals.UniqueUsers)
	assert.NotEmpty(t, resp.Buckets)

	rec = h.do(http.MethodGet, "/stats?namespace=other", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Totals.Count)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/stats?from=abc", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/stats?from=20&to=10", "", nil).Code)
}

func TestStatsRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.HTTP.StatsRatePerMin = 2 })
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/stats", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/stats", "", nil).Code)
	rec := h.do(http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestPrometheusMetrics(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	handler := Recovery(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "handler panicked")
}

func newTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
