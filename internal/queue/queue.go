// Package queue submits background jobs to the external task queue.
package queue

import (
	"context"
	"time"
)

// Job names understood by the workers.
const (
	JobImportUsersForTenant = "ImportUsersForTenant"
	JobAlertTenantDisabled  = "AlertTenantDisabled"
	JobDeliverWebhook       = "DeliverWebhook"
)

// Queue accepts named jobs with positional arguments. Submit returns once the
// queue has accepted the job; it never waits for the job to run.
type Queue interface {
	Submit(ctx context.Context, job string, args ...any) error
	Close() error
}

// Meta is the envelope header carried with every job.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Job is the envelope payload.
type Job struct {
	Name string `json:"job"`
	Args []any  `json:"args"`
}

// Envelope is the JSON document published for one job.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data Job  `json:"data"`
}

type correlationKey struct{}

// WithCorrelationID tags ctx so jobs submitted under it share one correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok && id != ""
}
