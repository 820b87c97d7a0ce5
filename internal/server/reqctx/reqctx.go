// Package reqctx carries per-request values (principal and client details)
// through context.Context.
package reqctx

import (
	"context"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

type principalKey struct{}
type clientKey struct{}

// Client describes the caller's network origin.
type Client struct {
	IP string
	OS string
}

func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Principal returns the authenticated principal, or nil for anonymous requests.
func Principal(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey{}).(*models.Principal)
	return p
}

func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client details, with "Unknown" placeholders when absent.
func ClientFrom(ctx context.Context) Client {
	c, ok := ctx.Value(clientKey{}).(Client)
	if !ok {
		return Client{IP: "Unknown IP", OS: "Unknown OS"}
	}
	return c
}
