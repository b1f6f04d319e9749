// Package access implements the four guard predicates every canister
// operation is checked against before its body runs: is_admin, is_user,
// is_gateway and is_canister. A guard failure yields Unauthorized and never
// touches state.
package access

import (
	"github.com/vtscanister/vts/internal/vts"
)

// Source answers membership questions against the persisted admin/user sets.
// canister.State implements this; access stays a leaf package so it can be
// unit tested without pulling in the store.
type Source interface {
	HasAdmin(vts.Principal) (bool, error)
	HasUser(vts.Principal) (bool, error)
}

// Guard evaluates the four predicates for one canister instance.
type Guard struct {
	Source Source
	// GatewayAllow is the closed set of principals allowed to act as the
	// gateway. The upstream design left this open (any caller could claim to
	// be the gateway); the redesign requires a closed allow-list instead.
	GatewayAllow map[vts.Principal]struct{}
	// Self is the canister's own principal, the only caller that may pass
	// IsCanister (used for timer-triggered self-calls).
	Self vts.Principal
}

// NewGuard returns a Guard with an empty gateway allow-list; callers add
// principals with AllowGateway before serving traffic.
func NewGuard(source Source, self vts.Principal) *Guard {
	return &Guard{Source: source, GatewayAllow: make(map[vts.Principal]struct{}), Self: self}
}

// AllowGateway adds p to the closed gateway allow-list.
func (g *Guard) AllowGateway(p vts.Principal) { g.GatewayAllow[p] = struct{}{} }

// IsAdmin fails with Unauthorized unless caller is a registered admin.
func (g *Guard) IsAdmin(caller vts.Principal) error {
	ok, err := g.Source.HasAdmin(caller)
	if err != nil {
		return vts.NewError(vts.ErrInternal, "checking admin set: %v", err)
	}
	if !ok {
		return vts.NewError(vts.ErrUnauthorized, "caller is not an admin")
	}
	return nil
}

// IsUser fails with Unauthorized unless caller is a registered user.
func (g *Guard) IsUser(caller vts.Principal) error {
	ok, err := g.Source.HasUser(caller)
	if err != nil {
		return vts.NewError(vts.ErrInternal, "checking user set: %v", err)
	}
	if !ok {
		return vts.NewError(vts.ErrUnauthorized, "caller is not a registered user")
	}
	return nil
}

// IsGateway fails with Unauthorized unless caller is on the gateway
// allow-list.
func (g *Guard) IsGateway(caller vts.Principal) error {
	if _, ok := g.GatewayAllow[caller]; !ok {
		return vts.NewError(vts.ErrUnauthorized, "caller is not an allow-listed gateway")
	}
	return nil
}

// IsCanister fails with Unauthorized unless caller is the canister itself.
func (g *Guard) IsCanister(caller vts.Principal) error {
	if caller != g.Self {
		return vts.NewError(vts.ErrUnauthorized, "caller is not the canister")
	}
	return nil
}
