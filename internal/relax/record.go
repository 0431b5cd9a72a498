package relax

import (
	"context"
	"errors"
	"fmt"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/metrics"
	"github.com/MaheshSundaramurthy/botmetrics/internal/serializer"
)

// DispatchError reports follow-up jobs that could not be submitted for
// events that are already stored. Retrying the request would store the
// events again.
type DispatchError struct {
	Failed int
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%d job submissions failed: %v", e.Failed, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Record persists serializer output for the tenant at namespace and returns
// the new event ids in input order. Flags, attributes and created_at are
// stored exactly as serialized. An unknown namespace records nothing and
// returns a nil error.
//
// Every sender is resolved before anything is stored and the events are
// appended in one transaction, so a failed batch writes no events. Webhook
// jobs go out after the commit; if any fail the ids are returned together
// with a *DispatchError.
func (s *Service) Record(ctx context.Context, namespace string, provider serializer.Provider, records []serializer.Record) ([]int64, error) {
	kind := "serialized_" + string(provider)
	log := s.log.With().Str("namespace", namespace).Str("provider", string(provider)).Logger()

	tenant, err := s.resolveTenant(ctx, namespace)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Int("records", len(records)).Msg("no tenant for namespace, dropping records")
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeNoTenant).Inc()
		return nil, nil
	}
	if err != nil {
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("resolve tenant %s: %w", namespace, err)
	}
	if len(records) == 0 {
		return []int64{}, nil
	}

	evs := make([]*domain.Event, 0, len(records))
	for _, rec := range records {
		user, err := s.resolveIdentity(ctx, tenant, rec.RecipInfo.From, rec.Data.Provider, tenant.UID)
		if err != nil {
			metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeError).Inc()
			return nil, err
		}
		ev := &domain.Event{BotInstanceID: tenant.ID, EventData: rec.Data}
		if user != nil {
			ev.UserID = &user.ID
		}
		evs = append(evs, ev)
	}

	if err := s.store.AppendEvents(ctx, evs); err != nil {
		metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("append %d events: %w", len(evs), err)
	}
	ids := make([]int64, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
		metrics.EventsRecorded.WithLabelValues(ev.EventType, ev.Provider).Inc()
	}
	metrics.EventsRouted.WithLabelValues(kind, metrics.OutcomeRouted).Inc()

	var failed []error
	for _, ev := range evs {
		if err := s.forward(ctx, tenant, ev, ev.IsFromBot); err != nil {
			log.Error().Err(err).Int64("event_id", ev.ID).Msg("webhook dispatch failed")
			failed = append(failed, err)
		}
	}
	log.Info().Int64("tenant_id", tenant.ID).Int("events", len(ids)).Int("dispatch_failed", len(failed)).Msg("records stored")
	if len(failed) > 0 {
		return ids, &DispatchError{Failed: len(failed), Err: errors.Join(failed...)}
	}
	return ids, nil
}
