package relax

import (
	"context"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// Store is the persistence the router needs. Lookups return a
// *domain.NotFoundError when nothing matches.
type Store interface {
	// TenantByNamespace returns the instance with its owning Bot loaded.
	TenantByNamespace(ctx context.Context, namespace string) (*domain.BotInstance, error)
	IdentityByUID(ctx context.Context, tenantID int64, uid, provider string) (*domain.BotUser, error)
	// CreateIdentity inserts u unless (tenant, uid, provider) already exists,
	// then fills u from the stored row.
	CreateIdentity(ctx context.Context, u *domain.BotUser) error
	// AppendEvent persists ev and sets ev.ID.
	AppendEvent(ctx context.Context, ev *domain.Event) error
	// AppendEvents persists evs atomically, setting each ID.
	AppendEvents(ctx context.Context, evs []*domain.Event) error
	// DisableTenant moves an enabled tenant to disabled and appends ev in one
	// transaction. It reports false, writing nothing, when the tenant was not
	// enabled.
	DisableTenant(ctx context.Context, tenantID int64, ev *domain.Event) (bool, error)
}
