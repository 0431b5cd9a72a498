package relax

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// IdentityPolicy decides what happens when an actor is unknown to a tenant.
type IdentityPolicy string

const (
	// ProvisionIdentity creates the participant on first sight.
	ProvisionIdentity IdentityPolicy = "provision"
	// LeaveIdentityUnset records the event without a participant.
	LeaveIdentityUnset IdentityPolicy = "unset"
	// RejectUnknownIdentity fails the event with a NotFoundError.
	RejectUnknownIdentity IdentityPolicy = "reject"
)

// ParseIdentityPolicy accepts the config spelling of a policy.
func ParseIdentityPolicy(s string) (IdentityPolicy, error) {
	switch p := IdentityPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProvisionIdentity, nil
	case ProvisionIdentity, LeaveIdentityUnset, RejectUnknownIdentity:
		return p, nil
	}
	return "", &domain.ConfigurationError{Msg: fmt.Sprintf("unknown identity policy %q", s)}
}

func (s *Service) resolveTenant(ctx context.Context, namespace string) (*domain.BotInstance, error) {
	tenant, err := s.store.TenantByNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// resolveIdentity finds the participant uid within tenant, applying the
// configured policy when it is unknown. A nil user with a nil error means
// the event is recorded without a participant.
func (s *Service) resolveIdentity(ctx context.Context, tenant *domain.BotInstance, uid, provider, botID string) (*domain.BotUser, error) {
	if uid == "" {
		return nil, nil
	}
	u, err := s.store.IdentityByUID(ctx, tenant.ID, uid, provider)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup identity %s: %w", uid, err)
	}

	switch s.policy {
	case LeaveIdentityUnset:
		return nil, nil
	case RejectUnknownIdentity:
		return nil, &domain.NotFoundError{Kind: "identity", Key: uid}
	}

	u = &domain.BotUser{
		UID:            uid,
		Provider:       provider,
		BotInstanceID:  tenant.ID,
		MembershipType: domain.MembershipMember,
	}
	if botID != "" && uid == botID {
		u.MembershipType = domain.MembershipBot
	}
	if err := s.store.CreateIdentity(ctx, u); err != nil {
		return nil, fmt.Errorf("create identity %s: %w", uid, err)
	}
	s.log.Debug().Int64("tenant_id", tenant.ID).Str("uid", uid).Str("membership", string(u.MembershipType)).Msg("identity provisioned")
	return u, nil
}
