package guard

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
)

// MethodRoles maps a full gRPC method name to the roles allowed to call it.
// A nil set marks a public method. Methods missing from the table are denied.
type MethodRoles map[string]models.RoleSet

// CodeFor maps a reason to its gRPC status code.
func CodeFor(r Reason) codes.Code {
	switch r {
	case ReasonUnauthenticated, ReasonInvalidCredentials:
		return codes.Unauthenticated
	case ReasonForbidden, ReasonLocked:
		return codes.PermissionDenied
	case ReasonValidation:
		return codes.InvalidArgument
	case ReasonRateLimited:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func statusErr(r Reason) error {
	return status.Error(CodeFor(r), string(r))
}

func tokenFromMetadata(md metadata.MD) string {
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 && v[0] != "" {
		return v[0]
	}
	if v := md.Get("authorization"); len(v) > 0 && len(v[0]) > 7 && strings.EqualFold(v[0][:7], "Bearer ") {
		return strings.TrimSpace(v[0][7:])
	}
	return ""
}

func clientFromContext(ctx context.Context, md metadata.MD) reqctx.Client {
	c := reqctx.Client{IP: "Unknown IP", OS: "Unknown OS"}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if i := strings.LastIndex(addr, ":"); i > 0 {
			addr = addr[:i]
		}
		c.IP = strings.Trim(addr, "[]")
	}
	if ua := md.Get("user-agent"); len(ua) > 0 {
		c.OS = reqctx.ParseOS(ua[0])
	}
	return c
}

// AuthUnaryInterceptor attaches client details and the principal, then runs
// the session integrity check.
func (g *Guard) AuthUnaryInterceptor(resolver SessionResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = reqctx.WithClient(ctx, clientFromContext(ctx, md))

		token := tokenFromMetadata(md)
		if token == "" {
			return handler(ctx, req)
		}

		p, err := resolver.ParseSession(ctx, token)
		if err != nil {
			if !tokenRejected(err) {
				g.log.Error(ctx, "session lookup failed", "method", info.FullMethod, "error", err)
				return nil, statusErr(ReasonTransactionError)
			}
			g.log.Debug(ctx, "ignoring unusable access token", "method", info.FullMethod, "error", err)
			return handler(ctx, req)
		}

		d, err := g.CheckSession(ctx, p)
		if err != nil {
			g.log.Error(ctx, "session check failed", "error", err)
			return nil, statusErr(ReasonTransactionError)
		}
		if !d.Allowed {
			return nil, statusErr(d.Reason)
		}
		return handler(reqctx.WithPrincipal(ctx, p), req)
	}
}

// RoleUnaryInterceptor enforces table for every call.
func (g *Guard) RoleUnaryInterceptor(table MethodRoles) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		roles, known := table[info.FullMethod]
		if known && roles == nil {
			return handler(ctx, req)
		}

		p := reqctx.Principal(ctx)
		if !known {
			if p == nil {
				return nil, statusErr(ReasonUnauthenticated)
			}
			roles = models.RoleSet{}
		}

		d := g.Authorize(ctx, p, info.FullMethod, roles)
		if !d.Allowed {
			return nil, statusErr(d.Reason)
		}
		return handler(ctx, req)
	}
}
