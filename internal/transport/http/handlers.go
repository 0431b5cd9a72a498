package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MaheshSundaramurthy/botmetrics/internal/config"
	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/idempotency"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/relax"
	"github.com/MaheshSundaramurthy/botmetrics/internal/serializer"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage"
	slacktransport "github.com/MaheshSundaramurthy/botmetrics/internal/transport/slack"
)

// Enqueuer accepts routed events for asynchronous handling.
type Enqueuer interface {
	Enqueue(raw domain.RawRoutedEvent) bool
}

// Recorder stores serializer output synchronously.
type Recorder interface {
	Record(ctx context.Context, namespace string, provider serializer.Provider, records []serializer.Record) ([]int64, error)
}

// StatsStore is the read side used by /readyz and /stats.
type StatsStore interface {
	Ready(ctx context.Context) error
	QueryTotals(ctx context.Context, f storage.StatsFilter) (storage.Totals, error)
	QueryBucketsDaily(ctx context.Context, f storage.StatsFilter) ([]storage.Bucket, error)
}

type ServerDeps struct {
	Cfg      config.Config
	Ingest   Enqueuer
	Recorder Recorder
	Store    StatsStore
	Registry *prometheus.Registry
	Now      func() time.Time

	log zerolog.Logger
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Relax events ---

func (d *ServerDeps) HandlePostRelaxEvent(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var raw domain.RawRoutedEvent
	if err := decodeJSONStrict(r, &raw); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateRawEvent(&raw); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems(errs))
		return
	}
	d.enqueue(w, raw, http.StatusAccepted)
}

func (d *ServerDeps) enqueue(w http.ResponseWriter, raw domain.RawRoutedEvent, status int) {
	key, src := idempotency.DeriveKey(&raw)
	if ok := d.Ingest.Enqueue(raw); !ok {
		WriteProblem(w, http.StatusServiceUnavailable, "overloaded", "ingest queue is full, please retry", nil)
		return
	}
	d.log.Debug().
		Str("namespace", raw.Namespace).
		Str("kind", string(raw.Kind)).
		Str("correlation_id", key).
		Str("key_source", string(src)).
		Msg("event queued")
	writeJSON(w, status, map[string]string{"status": "queued", "correlation_id": key})
}

// --- Slack Events API ---

func (d *ServerDeps) HandleSlackEvents(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteProblem(w, http.StatusRequestEntityTooLarge, "body too large", err.Error(), nil)
		return
	}
	if secret := d.Cfg.Slack.SigningSecret; secret != "" {
		err = slacktransport.Verify(r.Header, body, secret)
	} else {
		err = d.requireAPIKey(r)
	}
	if err != nil {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
		return
	}

	cb, err := slacktransport.Translate(mux.Vars(r)["namespace"], body)
	if err != nil {
		d.writeError(w, err)
		return
	}
	switch {
	case cb.Challenge != "":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": cb.Challenge})
	case cb.Event != nil:
		if errs := domain.ValidateRawEvent(cb.Event); len(errs) > 0 {
			WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems(errs))
			return
		}
		d.enqueue(w, *cb.Event, http.StatusOK)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "type": cb.Ignored})
	}
}

// --- Provider webhooks ---

type kikBody struct {
	Messages json.RawMessage `json:"messages"`
}

type facebookBody struct {
	Entry []struct {
		Messaging []json.RawMessage `json:"messaging"`
	} `json:"entry"`
}

// providerItems extracts the item array each serializer expects from the
// provider's webhook body.
func providerItems(p serializer.Provider, body []byte) (json.RawMessage, error) {
	invalid := &domain.InvalidDataError{Msg: "Invalid Data Supplied"}
	switch p {
	case serializer.Kik:
		var kb kikBody
		if err := json.Unmarshal(body, &kb); err != nil {
			return nil, invalid
		}
		return kb.Messages, nil
	case serializer.Facebook:
		var fb facebookBody
		if err := json.Unmarshal(body, &fb); err != nil {
			return nil, invalid
		}
		items := []json.RawMessage{}
		for _, e := range fb.Entry {
			items = append(items, e.Messaging...)
		}
		return json.Marshal(items)
	}
	return nil, invalid
}

func (d *ServerDeps) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	vars := mux.Vars(r)
	provider, err := serializer.ParseProvider(vars["provider"])
	if err != nil {
		d.writeError(w, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteProblem(w, http.StatusRequestEntityTooLarge, "body too large", err.Error(), nil)
		return
	}
	if err := d.authenticateWebhook(provider, r, body); err != nil {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
		return
	}
	items, err := providerItems(provider, body)
	if err != nil {
		d.writeError(w, err)
		return
	}
	s, err := serializer.New(provider, items, vars["namespace"])
	if err != nil {
		d.writeError(w, err)
		return
	}
	ids, err := d.Recorder.Record(r.Context(), s.Tenant(), s.Provider(), s.Serialize())
	var dispatch *relax.DispatchError
	switch {
	case errors.As(err, &dispatch):
		// events are committed; a retry would duplicate them
		d.log.Warn().Err(err).Str("namespace", s.Tenant()).Int("events", len(ids)).Msg("events stored, webhook dispatch failed")
		writeJSON(w, http.StatusOK, map[string]any{"event_ids": ids, "dispatch_failed": dispatch.Failed})
		return
	case err != nil:
		d.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_ids": ids})
}

// --- Stats ---

type statsResp struct {
	Totals  storage.Totals   `json:"totals"`
	Buckets []storage.Bucket `json:"buckets,omitempty"`
}

const defaultWindowSeconds = int64(24 * 60 * 60)  // last 24h default
const maxWindowSeconds = int64(90 * 24 * 60 * 60) // cap at 90 days

func parseEpoch(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func (d *ServerDeps) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.StatsFilter{
		Namespace: strings.TrimSpace(q.Get("namespace")),
		EventType: strings.TrimSpace(q.Get("event_type")),
	}
	fromStr, toStr := q.Get("from"), q.Get("to")

	now := d.Now().Unix()
	var ok bool
	switch {
	case fromStr == "" && toStr == "":
		f.From, f.To = now-defaultWindowSeconds, now
	case toStr == "":
		if f.From, ok = parseEpoch(fromStr); !ok {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must be epoch seconds", nil)
			return
		}
		f.To = now
	case fromStr == "":
		if f.To, ok = parseEpoch(toStr); !ok {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "to must be epoch seconds", nil)
			return
		}
		f.From = f.To - defaultWindowSeconds
	default:
		if f.From, ok = parseEpoch(fromStr); !ok {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must be epoch seconds", nil)
			return
		}
		if f.To, ok = parseEpoch(toStr); !ok {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "to must be epoch seconds", nil)
			return
		}
	}
	if f.To < f.From {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "to must not be before from", nil)
		return
	}
	if f.To-f.From > maxWindowSeconds {
		f.From = f.To - maxWindowSeconds
	}

	ctx := r.Context()
	tot, err := d.Store.QueryTotals(ctx, f)
	if err != nil {
		d.writeError(w, err)
		return
	}
	resp := statsResp{Totals: tot}
	if q.Get("group_by") == "day" {
		resp.Buckets, err = d.Store.QueryBucketsDaily(ctx, f)
		if err != nil {
			d.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError answers with the domain problem for err, or a 500 that hides
// the cause.
func (d *ServerDeps) writeError(w http.ResponseWriter, err error) {
	if p, ok := problemFor(err); ok {
		writeProblem(w, p)
		return
	}
	d.log.Error().Err(err).Msg("request failed")
	WriteProblem(w, http.StatusInternalServerError, "internal error", "request could not be processed", nil)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	d.log = logger.Component("http")
	d.warnUnverified()
	keys := d.Cfg.APIKeySet()
	maxBody := d.Cfg.HTTP.MaxBodyBytes

	r := mux.NewRouter()
	r.Use(Recovery(d.log), Logging(d.log))

	r.HandleFunc("/healthz", d.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.HandleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	var postRelax http.Handler = http.HandlerFunc(d.HandlePostRelaxEvent)
	postRelax = BodyLimit(maxBody)(postRelax)
	postRelax = RequireJSON(postRelax)
	postRelax = APIKeyAuth(keys)(postRelax)
	r.Handle("/relax/events", postRelax).Methods(http.MethodPost)

	// provider callbacks are checked against their signing secrets in the handlers
	var slackEvents http.Handler = http.HandlerFunc(d.HandleSlackEvents)
	slackEvents = BodyLimit(maxBody)(slackEvents)
	slackEvents = RequireJSON(slackEvents)
	r.Handle("/webhooks/slack/{namespace}", slackEvents).Methods(http.MethodPost)

	var webhook http.Handler = http.HandlerFunc(d.HandleProviderWebhook)
	webhook = BodyLimit(maxBody)(webhook)
	webhook = RequireJSON(webhook)
	r.Handle("/webhooks/{provider}/{namespace}", webhook).Methods(http.MethodPost)

	var getStats http.Handler = http.HandlerFunc(d.HandleGetStats)
	getStats = RateLimitPerMinute(d.Cfg.HTTP.StatsRatePerMin, d.Now)(getStats)
	getStats = APIKeyAuth(keys)(getStats)
	r.Handle("/stats", getStats).Methods(http.MethodGet)

	return r
}
