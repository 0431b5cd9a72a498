// Package relax routes provider-agnostic events to tenants, records them as
// canonical events and dispatches the follow-up jobs.
package relax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/idempotency"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/metrics"
	"github.com/MaheshSundaramurthy/botmetrics/internal/queue"
)

// Service is the event router. It is safe for concurrent use.
type Service struct {
	store  Store
	queue  queue.Queue
	policy IdentityPolicy
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Service)

// WithClock overrides the clock used for created_at on routed events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIdentityPolicy(p IdentityPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(store Store, q queue.Queue, opts ...Option) *Service {
	s := &Service{
		store:  store,
		queue:  q,
		policy: ProvisionIdentity,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.Component("relax"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle routes one raw event. An unknown namespace is not an error: the
// event is dropped and nil returned. Jobs are submitted only after the
// event they refer to is persisted, and a failed submit is returned to the
// caller with the event left in place.
func (s *Service) Handle(ctx context.Context, raw domain.RawRoutedEvent) error {
	raw.Kind = domain.ParseEventKind(string(raw.Kind))
	kind := string(raw.Kind)
	if err := domain.CheckRawEvent(&raw); err != nil {
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeInvalid).Inc()
		return err
	}

	key, src := idempotency.DeriveKey(&raw)
	ctx = queue.WithCorrelationID(ctx, key)
	log := s.log.With().
		Str("namespace", raw.Namespace).
		Str("kind", kind).
		Str("correlation_id", key).
		Str("key_source", string(src)).
		Logger()

	tenant, err := s.resolveTenant(ctx, raw.Namespace)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Msg("no tenant for namespace, dropping event")
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeNoTenant).Inc()
		return nil
	}
	if err != nil {
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return fmt.Errorf("resolve tenant %s: %w", raw.Namespace, err)
	}

	var outcome string
	switch raw.Kind {
	case domain.KindTeamJoined:
		outcome, err = s.teamJoined(ctx, tenant)
	case domain.KindDisableBot:
		outcome, err = s.disableBot(ctx, tenant)
	case domain.KindReactionAdded, domain.KindMessageNew:
		outcome, err = s.conversational(ctx, tenant, &raw)
	default:
		err = &domain.InvalidDataError{Msg: fmt.Sprintf("unsupported event type %q", kind)}
		outcome = metrics.OutcomeInvalid
	}
	if err != nil {
		if outcome == "" {
			outcome = metrics.OutcomeError
		}
		metrics.EventsRouted.WithLabelValues(kind, outcome).Inc()
		log.Error().Err(err).Int64("tenant_id", tenant.ID).Msg("route failed")
		return err
	}
	metrics.EventsRouted.WithLabelValues(kind, outcome).Inc()
	log.Info().Int64("tenant_id", tenant.ID).Str("outcome", outcome).Msg("event routed")
	return nil
}

func (s *Service) teamJoined(ctx context.Context, tenant *domain.BotInstance) (string, error) {
	ev := s.lifecycleEvent(tenant, domain.EventTypeUserAdded)
	if err := s.append(ctx, ev); err != nil {
		return "", err
	}
	if err := s.submit(ctx, queue.JobImportUsersForTenant, tenant.ID); err != nil {
		return "", err
	}
	return metrics.OutcomeRouted, nil
}

func (s *Service) disableBot(ctx context.Context, tenant *domain.BotInstance) (string, error) {
	if !tenant.Enabled() {
		return metrics.OutcomeNoop, nil
	}
	ev := s.lifecycleEvent(tenant, domain.EventTypeBotDisabled)
	changed, err := s.store.DisableTenant(ctx, tenant.ID, ev)
	if err != nil {
		return "", fmt.Errorf("disable tenant %d: %w", tenant.ID, err)
	}
	if !changed {
		// lost a race with another disable
		return metrics.OutcomeNoop, nil
	}
	tenant.State = domain.StateDisabled
	metrics.EventsRecorded.WithLabelValues(ev.EventType, ev.Provider).Inc()

	if err := s.submit(ctx, queue.JobAlertTenantDisabled, tenant.ID); err != nil {
		return "", err
	}
	return metrics.OutcomeRouted, nil
}

func (s *Service) conversational(ctx context.Context, tenant *domain.BotInstance, raw *domain.RawRoutedEvent) (string, error) {
	provider := raw.Provider
	if provider == "" {
		provider = tenantProvider(tenant)
	}
	botID := botExternalID(raw, tenant)

	user, err := s.resolveIdentity(ctx, tenant, raw.ActorExternalID, provider, botID)
	if err != nil {
		return "", err
	}

	isReaction := raw.Kind == domain.KindReactionAdded
	flags := ComputeFlags(raw, provider, botID, !isReaction)

	ev := &domain.Event{
		BotInstanceID: tenant.ID,
		EventData: domain.EventData{
			EventType: domain.EventTypeMessage,
			Provider:  provider,
			IsForBot:  flags.IsForBot,
			IsFromBot: flags.IsFromBot,
			IsIM:      flags.IsIM,
			Text:      raw.Text,
			CreatedAt: s.now(),
			EventAttributes: map[string]any{
				"channel":   raw.ChannelExternalID,
				"timestamp": raw.Timestamp,
			},
		},
	}
	if isReaction {
		ev.EventType = domain.EventTypeMessageReaction
		ev.Text = ""
		ev.EventAttributes["reaction"] = raw.Text
	}
	if user != nil {
		ev.UserID = &user.ID
	}

	if err := s.append(ctx, ev); err != nil {
		return "", err
	}
	if err := s.forward(ctx, tenant, ev, flags.IsFromBot); err != nil {
		return "", err
	}
	return metrics.OutcomeRouted, nil
}

// forward submits a webhook delivery for ev when the bot has an endpoint.
// The bot's own events are never forwarded.
func (s *Service) forward(ctx context.Context, tenant *domain.BotInstance, ev *domain.Event, fromBot bool) error {
	if fromBot || !tenant.Bot.HasWebhook() {
		return nil
	}
	return s.submit(ctx, queue.JobDeliverWebhook, tenant.BotID, ev.ID)
}

func (s *Service) lifecycleEvent(tenant *domain.BotInstance, eventType string) *domain.Event {
	return &domain.Event{
		BotInstanceID: tenant.ID,
		EventData: domain.EventData{
			EventType:       eventType,
			Provider:        tenantProvider(tenant),
			CreatedAt:       s.now(),
			EventAttributes: map[string]any{},
		},
	}
}

func (s *Service) append(ctx context.Context, ev *domain.Event) error {
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.EventType, err)
	}
	metrics.EventsRecorded.WithLabelValues(ev.EventType, ev.Provider).Inc()
	return nil
}

func (s *Service) submit(ctx context.Context, job string, args ...any) error {
	if err := s.queue.Submit(ctx, job, args...); err != nil {
		metrics.JobsSubmitted.WithLabelValues(job, metrics.ResultFailed).Inc()
		return fmt.Errorf("submit %s: %w", job, err)
	}
	metrics.JobsSubmitted.WithLabelValues(job, metrics.ResultOK).Inc()
	return nil
}

func tenantProvider(tenant *domain.BotInstance) string {
	if tenant.Provider == "" {
		return domain.DefaultProvider
	}
	return tenant.Provider
}

// botExternalID is the id the bot posts under. Events may name it; otherwise
// the instance uid stands in.
func botExternalID(raw *domain.RawRoutedEvent, tenant *domain.BotInstance) string {
	if raw.BotExternalID != "" {
		return raw.BotExternalID
	}
	return tenant.UID
}
