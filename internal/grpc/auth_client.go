package grpc

import (
	"context"
	"errors"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"session-chat-service/internal/observability"
)

// Auth service methods. Requests and responses are protobuf well-known
// wrapper types.
const (
	ValidateTokenMethod    = "/auth.AuthService/ValidateToken"
	CanCreateSessionMethod = "/auth.AuthService/CanCreateSession"
)

// ErrInvalidToken is returned when the auth service resolves no user.
var ErrInvalidToken = errors.New("invalid token")

// AuthClient authenticates tokens and answers session-creation privilege
// checks against auth-service.
type AuthClient struct {
	conn grpc.ClientConnInterface
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// Dial opens an instrumented connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	}
	return grpc.NewClient(addr, append(base, opts...)...)
}

// ValidateToken verifies the token and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, wrapperspb.String(token), out); err != nil {
		return 0, err
	}
	if out.GetValue() <= 0 {
		return 0, ErrInvalidToken
	}
	return int(out.GetValue()), nil
}

// CanCreateSession reports whether userID may open new sessions.
func (a *AuthClient) CanCreateSession(ctx context.Context, userID int) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := a.conn.Invoke(ctx, CanCreateSessionMethod, wrapperspb.Int64(int64(userID)), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
