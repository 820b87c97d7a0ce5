package guard

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
)

const adminMethod = "/clinicguard.admin.v1.Admin/UnlockAccount"

func captureHandler(got **models.Principal, client *reqctx.Client) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		*got = reqctx.Principal(ctx)
		if client != nil {
			*client = reqctx.ClientFrom(ctx)
		}
		return "ok", nil
	}
}

func TestAuthUnaryInterceptor_AttachesPrincipalAndClient(t *testing.T) {
	f := newFixture(t)
	p := f.addAccount(t, "a1", "root@clinic.test", models.RoleAdmin, false)
	ic := f.g.AuthUnaryInterceptor(fakeResolver{"tok": p})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"access_token", "tok",
		"user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	))
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}})

	var got *models.Principal
	var client reqctx.Client
	resp, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, captureHandler(&got, &client))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	require.NotNil(t, got)
	assert.Equal(t, "root@clinic.test", got.Email)
	assert.Equal(t, reqctx.Client{IP: "10.1.2.3", OS: "Windows"}, client)
}

func TestAuthUnaryInterceptor_BearerMetadata(t *testing.T) {
	f := newFixture(t)
	p := f.addAccount(t, "a1", "root@clinic.test", models.RoleAdmin, false)
	ic := f.g.AuthUnaryInterceptor(fakeResolver{"tok": p})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer tok"))
	var got *models.Principal
	_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, captureHandler(&got, nil))
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestAuthUnaryInterceptor_LockedAccount(t *testing.T) {
	f := newFixture(t)
	p := f.addAccount(t, "a1", "root@clinic.test", models.RoleAdmin, true)
	ic := f.g.AuthUnaryInterceptor(fakeResolver{"tok": p})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("access_token", "tok"))
	var got *models.Principal
	_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, captureHandler(&got, nil))
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, "locked", status.Convert(err).Message())
	assert.Nil(t, got)
}

func TestAuthUnaryInterceptor_NoTokenIsAnonymous(t *testing.T) {
	f := newFixture(t)
	ic := f.g.AuthUnaryInterceptor(fakeResolver{})

	var got *models.Principal
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, captureHandler(&got, nil))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAuthUnaryInterceptor_SessionStoreFailure(t *testing.T) {
	f := newFixture(t)
	ic := f.g.AuthUnaryInterceptor(failingResolver{errors.New("connection refused")})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("access_token", "tok"))
	var got *models.Principal
	_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: adminMethod}, captureHandler(&got, nil))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Nil(t, got)
}

func TestRoleUnaryInterceptor(t *testing.T) {
	table := MethodRoles{
		"/grpc.health.v1.Health/Check": nil,
		adminMethod:                    models.AdminOnly,
	}

	tests := []struct {
		name   string
		method string
		p      *models.Principal
		code   codes.Code
	}{
		{"public anonymous", "/grpc.health.v1.Health/Check", nil, codes.OK},
		{"admin anonymous", adminMethod, nil, codes.Unauthenticated},
		{"admin by clinician", adminMethod, &models.Principal{Role: models.RoleClinicianWrite}, codes.PermissionDenied},
		{"admin by admin", adminMethod, &models.Principal{Role: models.RoleAdmin}, codes.OK},
		{"unknown anonymous", "/x.Y/Z", nil, codes.Unauthenticated},
		{"unknown by admin", "/x.Y/Z", &models.Principal{Role: models.RoleAdmin}, codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ic := f.g.RoleUnaryInterceptor(table)
			ctx := context.Background()
			if tt.p != nil {
				ctx = reqctx.WithPrincipal(ctx, tt.p)
			}
			var got *models.Principal
			_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, captureHandler(&got, nil))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}
